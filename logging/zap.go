// Package logging builds the zap loggers used by the command line tool.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger in development mode or a JSON logger
// otherwise, writing to stderr at the given level ("debug", "info", ...).
func New(level string, dev bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableCaller = true

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

// NewDevLogger returns a console logger at debug level.
func NewDevLogger() *zap.Logger {
	logger, err := New("", true)
	if err != nil {
		panic(err)
	}
	return logger
}

// NewProdLogger returns a JSON logger at info level.
func NewProdLogger() *zap.Logger {
	logger, err := New("", false)
	if err != nil {
		panic(err)
	}
	return logger
}
