package rdd

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"Academic_Probation_RDD_Project/dataset"
	"Academic_Probation_RDD_Project/ols"
)

// TableRow summarizes one regression: the below-cutoff effect, the intercept
// and the sample size. Values are rounded to 3 decimals.
type TableRow struct {
	Label           string
	Coef            float64
	PValue          float64
	StdErr          float64
	Intercept       float64
	InterceptPValue float64
	InterceptStdErr float64
	Observations    int
}

// EstimateOutcomes regresses each outcome on regressors over the whole frame,
// with standard errors clustered on the configured cluster column. Rows with a
// missing outcome are dropped separately for every outcome.
func (a *Analyzer) EstimateOutcomes(f *dataset.Frame, outcomes, regressors []string) ([]TableRow, error) {
	rows := make([]TableRow, 0, len(outcomes))
	for _, outcome := range outcomes {
		row, err := a.estimateRow(f, outcome, regressors, outcome)
		if err != nil {
			return nil, fmt.Errorf("outcome %s: %w", outcome, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// EstimateGroups regresses one outcome on regressors within each group, in
// the order given by keys.
func (a *Analyzer) EstimateGroups(groups map[string]*dataset.Frame, keys []string, outcome string, regressors []string) ([]TableRow, error) {
	rows := make([]TableRow, 0, len(keys))
	for _, key := range keys {
		f, ok := groups[key]
		if !ok {
			return nil, fmt.Errorf("group %s: %w", key, dataset.ErrUnknownColumn)
		}
		row, err := a.estimateRow(f, outcome, regressors, key)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", key, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (a *Analyzer) estimateRow(f *dataset.Frame, outcome string, regressors []string, label string) (TableRow, error) {
	cfg := a.config

	// Keep only what the regression needs, deriving design columns if absent
	cols := []string{outcome}
	if f.Has(cfg.Running) {
		cols = append(cols, cfg.Running)
	}
	if cfg.Cluster != "" {
		cols = append(cols, cfg.Cluster)
	}
	for _, r := range regressors {
		if f.Has(r) {
			cols = append(cols, r)
		}
	}
	work, err := f.Select(cols...)
	if err != nil {
		return TableRow{}, err
	}
	if work.Has(cfg.Running) {
		if err := cfg.Design.AddTo(work, cfg.Running, cfg.Cutoff); err != nil {
			return TableRow{}, err
		}
	}

	drop := append([]string{outcome}, regressors...)
	if cfg.Cluster != "" {
		drop = append(drop, cfg.Cluster)
	}
	work, err = work.DropMissing(drop...)
	if err != nil {
		return TableRow{}, err
	}
	if work.Len() == 0 {
		return TableRow{}, ErrNoObservations
	}

	X, err := work.Matrix(regressors)
	if err != nil {
		return TableRow{}, err
	}
	y, _ := work.Column(outcome)

	var opts ols.Options
	if cfg.Cluster != "" {
		opts.Groups, _ = work.Column(cfg.Cluster)
	}

	res, err := ols.Fit(X, y, regressors, opts)
	if err != nil {
		return TableRow{}, err
	}
	if !res.FullRank() {
		return TableRow{}, fmt.Errorf("rank %d of %d: %w", res.Rank, len(regressors), ErrRankDeficientFit)
	}

	row := TableRow{Label: label, Observations: res.Nobs}
	if row.Coef, row.StdErr, row.PValue, err = summarize(res, cfg.Design.Below); err != nil {
		return TableRow{}, err
	}
	if row.Intercept, row.InterceptStdErr, row.InterceptPValue, err = summarize(res, cfg.Design.Const); err != nil {
		return TableRow{}, err
	}

	a.logger.Debug("table row estimated",
		zap.String("label", label),
		zap.String("outcome", outcome),
		zap.Int("nobs", res.Nobs),
		zap.Int("clusters", res.Groups))
	return row, nil
}

func summarize(res *ols.Result, name string) (coef, se, p float64, err error) {
	if coef, err = res.Coef(name); err != nil {
		return
	}
	if se, err = res.StdErr(name); err != nil {
		return
	}
	if p, err = res.PValue(name); err != nil {
		return
	}
	return round3(coef), round3(se), round3(p), nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
