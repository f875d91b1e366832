// Package config loads the analysis configuration shared by the CLI commands.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"Academic_Probation_RDD_Project/mte"
	"Academic_Probation_RDD_Project/rdd"
)

var ErrInvalid = errors.New("invalid analysis config")

var validate = validator.New()

// Analysis is the full configuration of a replication run.
type Analysis struct {
	// CSV with one row per student
	Data      string `yaml:"data" json:"data" validate:"required"`
	OutputDir string `yaml:"output_dir" json:"output_dir" validate:"required"`

	RDD       rdd.Config          `yaml:"rdd" json:"rdd"`
	Bootstrap rdd.BootstrapConfig `yaml:"bootstrap" json:"bootstrap"`

	// Outcomes estimated in the main results table
	Outcomes []string `yaml:"outcomes" json:"outcomes"`
	// Column splitting the sample into subgroups (e.g. male); empty disables
	GroupColumn string `yaml:"group_column" json:"group_column"`
	// Column of GPA bins for the frequency and mean tables
	BinColumn string `yaml:"bin_column" json:"bin_column"`

	// Checked when the band is computed, covariates are often left empty
	MTE MTE `yaml:"mte" json:"mte" validate:"-"`
}

// MTE locates the inputs of the marginal treatment effect band.
type MTE struct {
	// Stored estimation result (x_internal, hess_inv)
	Result string `yaml:"result" json:"result"`
	// Estimation sample; defaults to Analysis.Data
	Data string `yaml:"data" json:"data"`
	// Upstream MTE curve, one value per quantile
	Curve string `yaml:"curve" json:"curve"`
	// Published [lower, point, upper] band for comparison
	Reference string     `yaml:"reference" json:"reference"`
	Band      mte.Config `yaml:"band" json:"band"`
}

// Default returns the configuration of the probation study.
func Default() Analysis {
	return Analysis{
		Data:      "data/data-performance-standards.csv",
		OutputDir: "output",
		RDD:       rdd.DefaultConfig(),
		Bootstrap: rdd.DefaultBootstrapConfig(),
		Outcomes: []string{
			"left_school",
			"nextGPA",
			"probation_summer",
			"probation_ever",
			"gradin4",
		},
		GroupColumn: "male",
		BinColumn:   "dist_from_cut_med10",
		MTE: MTE{
			Result:    "data/rslt_grmpy.json",
			Curve:     "data/mte_grmpy.json",
			Reference: "data/mte_original.json",
			Band:      mte.Config{DistributionBlock: 4, Level: 0.95, Scale: 4},
		},
	}
}

// Load starts from Default, merges the file at path (YAML, then JSON) when it
// exists, applies environment overrides and validates the result.
func Load(path string) (Analysis, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Analysis) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadFromEnv(cfg *Analysis) {
	if v := os.Getenv("RDD_DATA"); v != "" {
		cfg.Data = v
	}
	if v := os.Getenv("RDD_BANDWIDTH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RDD.Bandwidth = f
		}
	}
	if v := os.Getenv("RDD_RESAMPLES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Bootstrap.Resamples = i
		}
	}
	if v := os.Getenv("RDD_SEED"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Bootstrap.Seed = i
		}
	}
	if v := os.Getenv("RDD_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Bootstrap.Workers = i
		}
	}
}

// Validate checks required fields and the nested rdd and bootstrap settings.
func (c Analysis) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// MTEData returns the estimation sample of the MTE band.
func (c Analysis) MTEData() string {
	if c.MTE.Data != "" {
		return c.MTE.Data
	}
	return c.Data
}
