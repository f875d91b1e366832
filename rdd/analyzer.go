// Package rdd estimates regression discontinuity curves, tables and
// percentile bootstrap bands around a score cutoff.
package rdd

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	ErrInvalidConfig    = errors.New("invalid rdd config")
	ErrNoValidResamples = errors.New("no resample produced a prediction")
	ErrNoObservations   = errors.New("no observations left after dropping missing outcomes")
	ErrRankDeficientFit = errors.New("coefficients not identified")
)

var validate = validator.New()

// Config describes one local-regression analysis.
type Config struct {
	// Running variable, measured as distance from the cutoff
	Running string `yaml:"running" validate:"required"`
	Outcome string `yaml:"outcome" validate:"required"`
	// Cluster key for the tables (GPA bins in the probation study)
	Cluster   string  `yaml:"cluster"`
	Design    Design  `yaml:"design"`
	Cutoff    float64 `yaml:"cutoff"`
	Bandwidth float64 `yaml:"bandwidth" validate:"gt=0"`
	Grid      Grid    `yaml:"grid"`
	// Stop at the first failed step instead of recording it
	FailFast bool `yaml:"fail_fast"`
}

// DefaultConfig matches the probation study: running variable dist_from_cut,
// cutoff 0, bandwidth 0.6, grid -1.2..1.2.
func DefaultConfig() Config {
	return Config{
		Running:   "dist_from_cut",
		Outcome:   "left_school",
		Cluster:   "clustervar",
		Design:    DefaultDesign(),
		Cutoff:    0,
		Bandwidth: 0.6,
		Grid:      DefaultGrid(),
	}
}

// Validate checks required fields and ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Analyzer runs RDD estimations and logs per-step failures.
type Analyzer struct {
	base   *zap.Logger
	logger *zap.Logger
	config Config
}

// NewAnalyzer validates cfg and returns an Analyzer. A nil logger is replaced
// by a no-op logger.
func NewAnalyzer(logger *zap.Logger, cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		base:   logger,
		logger: logger.With(zap.String("outcome", cfg.Outcome), zap.Float64("bandwidth", cfg.Bandwidth)),
		config: cfg,
	}, nil
}

// Config returns the analyzer's configuration.
func (a *Analyzer) Config() Config { return a.config }

// WithOutcome returns a copy of the analyzer estimating a different outcome.
func (a *Analyzer) WithOutcome(outcome string) (*Analyzer, error) {
	cfg := a.config
	cfg.Outcome = outcome
	return NewAnalyzer(a.base, cfg)
}
