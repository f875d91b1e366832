package mte

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// resultFile mirrors the auxiliary block of a stored estimation result.
type resultFile struct {
	XInternal []float64   `yaml:"x_internal" json:"x_internal"`
	HessInv   [][]float64 `yaml:"hess_inv" json:"hess_inv"`
}

// LoadResult reads an estimation result stored as YAML or JSON with the keys
// x_internal and hess_inv.
func LoadResult(path string) (*EstimationResult, error) {
	var rf resultFile
	if err := decodeFile(path, &rf); err != nil {
		return nil, err
	}
	return rf.result()
}

func (rf resultFile) result() (*EstimationResult, error) {
	p := len(rf.XInternal)
	if p == 0 {
		return nil, fmt.Errorf("x_internal is empty: %w", ErrDimensionMismatch)
	}
	if len(rf.HessInv) != p {
		return nil, fmt.Errorf("hess_inv has %d rows for %d parameters: %w", len(rf.HessInv), p, ErrDimensionMismatch)
	}

	data := make([]float64, 0, p*p)
	for i, row := range rf.HessInv {
		if len(row) != p {
			return nil, fmt.Errorf("hess_inv row %d has %d values, want %d: %w", i, len(row), p, ErrDimensionMismatch)
		}
		data = append(data, row...)
	}
	return &EstimationResult{
		Params:  append([]float64(nil), rf.XInternal...),
		HessInv: mat.NewDense(p, p, data),
	}, nil
}

// LoadReferenceBand reads a published band stored as the JSON (or YAML)
// triple [lower, point, upper], each evaluated at quantiles.
func LoadReferenceBand(path string, quantiles []float64) (*Band, error) {
	var triple [][]float64
	if err := decodeFile(path, &triple); err != nil {
		return nil, err
	}
	if len(triple) != 3 {
		return nil, fmt.Errorf("reference band has %d series, want 3: %w", len(triple), ErrDimensionMismatch)
	}
	for i, s := range triple {
		if len(s) != len(quantiles) {
			return nil, fmt.Errorf("reference series %d has %d values for %d quantiles: %w", i, len(s), len(quantiles), ErrDimensionMismatch)
		}
	}
	return &Band{
		Quantiles: append([]float64(nil), quantiles...),
		Lower:     triple[0],
		Point:     triple[1],
		Upper:     triple[2],
	}, nil
}

// LoadCurve reads an upstream MTE curve stored as a YAML or JSON list with one
// value per quantile.
func LoadCurve(path string, quantiles []float64) ([]float64, error) {
	var curve []float64
	if err := decodeFile(path, &curve); err != nil {
		return nil, err
	}
	if len(curve) != len(quantiles) {
		return nil, fmt.Errorf("curve has %d values for %d quantiles: %w", len(curve), len(quantiles), ErrDimensionMismatch)
	}
	return curve, nil
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, v); err != nil {
		if jsonErr := json.Unmarshal(data, v); jsonErr != nil {
			return fmt.Errorf("parse %s (tried YAML and JSON): YAML error: %v, JSON error: %w", path, err, jsonErr)
		}
	}
	return nil
}
