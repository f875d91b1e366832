package rdd

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"Academic_Probation_RDD_Project/dataset"
	"Academic_Probation_RDD_Project/ols"
)

// StepPrediction is the local-regression result at one grid step.
type StepPrediction struct {
	Step float64
	// 1 when the step lies below the cutoff
	Below      float64
	Prediction float64
	// Coefficient of the below-cutoff dummy; only set when Identified
	Discontinuity float64
	Identified    bool
	// Rows inside the bandwidth window
	Nobs int
	Err  error
}

// OK reports whether the step produced a prediction.
func (s StepPrediction) OK() bool { return s.Err == nil }

// Curve is an ordered sequence of step predictions.
type Curve struct {
	Outcome   string
	Bandwidth float64
	Steps     []StepPrediction
}

// Failures returns the steps that could not be fitted.
func (c *Curve) Failures() []StepPrediction {
	var out []StepPrediction
	for _, s := range c.Steps {
		if !s.OK() {
			out = append(out, s)
		}
	}
	return out
}

// At returns the step closest to x.
func (c *Curve) At(x float64) (StepPrediction, bool) {
	if len(c.Steps) == 0 {
		return StepPrediction{}, false
	}
	best := 0
	for i, s := range c.Steps {
		if abs(s.Step-x) < abs(c.Steps[best].Step-x) {
			best = i
		}
	}
	return c.Steps[best], true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// prepare keeps the columns the local regression needs, derives missing design
// columns and drops rows with a missing outcome or regressor.
func (a *Analyzer) prepare(f *dataset.Frame) (*dataset.Frame, error) {
	cfg := a.config
	regs := cfg.Design.Regressors()

	cols := []string{cfg.Running, cfg.Outcome}
	for _, r := range regs {
		if f.Has(r) {
			cols = append(cols, r)
		}
	}

	work, err := f.Select(cols...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Design.AddTo(work, cfg.Running, cfg.Cutoff); err != nil {
		return nil, err
	}

	work, err = work.DropMissing(append([]string{cfg.Running, cfg.Outcome}, regs...)...)
	if err != nil {
		return nil, err
	}
	if work.Len() == 0 {
		return nil, ErrNoObservations
	}
	return work, nil
}

// predictStep fits the model on the rows within the bandwidth of step and
// evaluates it at the step's own covariates.
func (a *Analyzer) predictStep(f *dataset.Frame, step float64) StepPrediction {
	cfg := a.config
	regs := cfg.Design.Regressors()
	x0 := cfg.Design.At(step, cfg.Cutoff)

	sp := StepPrediction{Step: step, Below: x0[1]}

	window, err := f.Between(cfg.Running, step-cfg.Bandwidth, step+cfg.Bandwidth)
	if err != nil {
		sp.Err = err
		return sp
	}
	sp.Nobs = window.Len()
	if sp.Nobs == 0 {
		sp.Err = fmt.Errorf("step %.4f: empty window: %w", step, ols.ErrSingularDesign)
		return sp
	}

	X, err := window.Matrix(regs)
	if err != nil {
		sp.Err = err
		return sp
	}
	y, err := window.Column(cfg.Outcome)
	if err != nil {
		sp.Err = err
		return sp
	}

	res, err := ols.Fit(X, y, regs, ols.Options{SkipCovariance: true})
	if err != nil {
		sp.Err = fmt.Errorf("step %.4f: %w", step, err)
		return sp
	}
	pred, err := res.Predict(x0)
	if err != nil {
		sp.Err = fmt.Errorf("step %.4f: %w", step, err)
		return sp
	}

	sp.Prediction = pred
	if res.FullRank() {
		sp.Discontinuity = res.Params[1]
		sp.Identified = true
	}
	return sp
}

// curve evaluates every grid step on a prepared frame. With FailFast the first
// failed step is returned as an error.
func (a *Analyzer) curve(f *dataset.Frame) ([]StepPrediction, error) {
	points := a.config.Grid.Points()
	steps := make([]StepPrediction, 0, len(points))
	for _, p := range points {
		sp := a.predictStep(f, p)
		if sp.Err != nil && a.config.FailFast {
			return nil, sp.Err
		}
		steps = append(steps, sp)
	}
	return steps, nil
}

// Predict builds the local-regression prediction curve of the configured
// outcome. Failed steps are kept in the curve with Err set.
func (a *Analyzer) Predict(f *dataset.Frame) (*Curve, error) {
	work, err := a.prepare(f)
	if err != nil {
		return nil, err
	}

	steps, err := a.curve(work)
	if err != nil {
		return nil, err
	}

	c := &Curve{Outcome: a.config.Outcome, Bandwidth: a.config.Bandwidth, Steps: steps}
	for _, s := range c.Failures() {
		a.logger.Warn("step fit failed",
			zap.Float64("step", s.Step),
			zap.Int("nobs", s.Nobs),
			zap.Error(s.Err))
	}
	a.logger.Info("prediction curve built",
		zap.Int("rows", work.Len()),
		zap.Int("steps", len(steps)),
		zap.Int("failed", len(c.Failures())))
	return c, nil
}

// PredictGroups builds one curve per named subgroup.
func (a *Analyzer) PredictGroups(groups map[string]*dataset.Frame) (map[string]*Curve, error) {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]*Curve, len(groups))
	for _, k := range keys {
		c, err := a.Predict(groups[k])
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", k, err)
		}
		out[k] = c
	}
	return out, nil
}

// IsSingular reports whether err comes from a singular or rank-deficient fit.
func IsSingular(err error) bool {
	return errors.Is(err, ols.ErrSingularDesign)
}
