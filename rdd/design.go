package rdd

import (
	"fmt"
	"math"

	"Academic_Probation_RDD_Project/dataset"
)

// Design names the four regressors of the local linear RDD model:
// a constant, the below-cutoff dummy, and the running-variable slope on each
// side of the cutoff.
type Design struct {
	Const      string `yaml:"const" validate:"required"`
	Below      string `yaml:"below" validate:"required"`
	BelowSlope string `yaml:"below_slope" validate:"required"`
	AboveSlope string `yaml:"above_slope" validate:"required"`
}

// DefaultDesign uses the column names of the probation study.
func DefaultDesign() Design {
	return Design{
		Const:      "const",
		Below:      "gpalscutoff",
		BelowSlope: "gpaXgpalscutoff",
		AboveSlope: "gpaXgpagrcutoff",
	}
}

// Regressors returns the regressor names in model order.
func (d Design) Regressors() []string {
	return []string{d.Const, d.Below, d.BelowSlope, d.AboveSlope}
}

// At returns the covariate vector of a grid step, in Regressors() order.
// The running variable is measured as distance from the cutoff.
func (d Design) At(step, cutoff float64) []float64 {
	below := 0.0
	if step < cutoff {
		below = 1
	}
	return []float64{1, below, step * below, step * (1 - below)}
}

// AddTo derives the design columns from the running variable. Columns that
// already exist are left untouched.
func (d Design) AddTo(f *dataset.Frame, running string, cutoff float64) error {
	x, err := f.Column(running)
	if err != nil {
		return err
	}

	n := len(x)
	cols := map[string][]float64{
		d.Const:      make([]float64, n),
		d.Below:      make([]float64, n),
		d.BelowSlope: make([]float64, n),
		d.AboveSlope: make([]float64, n),
	}
	for i, v := range x {
		if math.IsNaN(v) {
			for _, c := range cols {
				c[i] = math.NaN()
			}
			continue
		}
		row := d.At(v, cutoff)
		cols[d.Const][i] = row[0]
		cols[d.Below][i] = row[1]
		cols[d.BelowSlope][i] = row[2]
		cols[d.AboveSlope][i] = row[3]
	}

	for _, name := range d.Regressors() {
		if f.Has(name) {
			continue
		}
		if err := f.AddColumn(name, cols[name]); err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	return nil
}

// Grid is the evaluation grid of the prediction curve, Start..Stop inclusive.
type Grid struct {
	Start float64 `yaml:"start"`
	Stop  float64 `yaml:"stop" validate:"gtefield=Start"`
	Step  float64 `yaml:"step" validate:"gt=0"`
}

// DefaultGrid is -1.2 to 1.2 in increments of 0.05.
func DefaultGrid() Grid {
	return Grid{Start: -1.2, Stop: 1.2, Step: 0.05}
}

// Points returns the grid values. Each point is computed from its index and
// rounded to 10 decimals so the cutoff lands exactly on zero.
func (g Grid) Points() []float64 {
	if g.Step <= 0 || g.Stop < g.Start {
		return nil
	}
	n := int(math.Floor((g.Stop-g.Start)/g.Step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		v := g.Start + float64(i)*g.Step
		out[i] = math.Round(v*1e10) / 1e10
	}
	return out
}
