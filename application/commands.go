package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Academic_Probation_RDD_Project/dataset"
	"Academic_Probation_RDD_Project/mte"
	"Academic_Probation_RDD_Project/rdd"
)

var (
	predictCmd = &cobra.Command{
		Use:   "predict",
		Short: "Build the local-regression prediction curve of the outcome",
		Args:  cobra.NoArgs,
		RunE:  runPredict,
	}
	bootstrapCmd = &cobra.Command{
		Use:   "bootstrap",
		Short: "Percentile bootstrap band around the prediction curve",
		Args:  cobra.NoArgs,
		RunE:  runBootstrap,
	}
	estimateCmd = &cobra.Command{
		Use:   "estimate",
		Short: "Clustered RDD estimates per outcome and per subgroup",
		Args:  cobra.NoArgs,
		RunE:  runEstimate,
	}
	binsCmd = &cobra.Command{
		Use:   "bins",
		Short: "Students and mean outcome per GPA bin",
		Args:  cobra.NoArgs,
		RunE:  runBins,
	}
	mteCmd = &cobra.Command{
		Use:   "mte",
		Short: "Delta-method confidence band of the marginal treatment effect",
		Args:  cobra.NoArgs,
		RunE:  runMTE,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run every analysis and write all outputs",
		Args:  cobra.NoArgs,
		RunE:  runAll,
	}
)

func loadData(path string) (*dataset.Frame, error) {
	f, err := dataset.LoadCSV(path)
	if err != nil {
		return nil, err
	}
	logger.Info("dataset loaded", zap.String("path", path), zap.Int("rows", f.Len()), zap.Int("columns", len(f.Names())))
	return f, nil
}

func outputPath(name string) string {
	return filepath.Join(cfg.OutputDir, name)
}

// subgroups splits f by col into frames keyed "<col>=<value>".
func subgroups(f *dataset.Frame, col string) (map[string]*dataset.Frame, []string, error) {
	groups, err := f.SplitBy(col)
	if err != nil {
		return nil, nil, err
	}
	out := make(map[string]*dataset.Frame, len(groups))
	keys := make([]string, 0, len(groups))
	for _, g := range groups {
		key := fmt.Sprintf("%s=%g", col, g.Key)
		out[key] = g.Frame
		keys = append(keys, key)
	}
	return out, keys, nil
}

func runPredict(cmd *cobra.Command, args []string) error {
	f, err := loadData(cfg.Data)
	if err != nil {
		return err
	}
	return predict(f, bySubgroup)
}

func predict(f *dataset.Frame, byGroup bool) error {
	a, err := rdd.NewAnalyzer(logger, cfg.RDD)
	if err != nil {
		return err
	}

	curve, err := a.Predict(f)
	if err != nil {
		return err
	}
	PrintCurve(os.Stdout, curve)
	path := outputPath(fmt.Sprintf("predictions_%s.csv", cfg.RDD.Outcome))
	if err := OutputCurveToCSV(path, curve); err != nil {
		return err
	}
	logger.Info("predictions written", zap.String("path", path))

	if !byGroup || cfg.GroupColumn == "" {
		return nil
	}
	groups, _, err := subgroups(f, cfg.GroupColumn)
	if err != nil {
		return err
	}
	curves, err := a.PredictGroups(groups)
	if err != nil {
		return err
	}
	path = outputPath(fmt.Sprintf("predictions_%s_by_%s.csv", cfg.RDD.Outcome, cfg.GroupColumn))
	if err := OutputCurvesToCSV(path, curves); err != nil {
		return err
	}
	logger.Info("subgroup predictions written", zap.String("path", path), zap.Int("groups", len(curves)))
	return nil
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	f, err := loadData(cfg.Data)
	if err != nil {
		return err
	}
	return bootstrap(cmd.Context(), f)
}

func bootstrap(ctx context.Context, f *dataset.Frame) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := rdd.NewAnalyzer(logger, cfg.RDD)
	if err != nil {
		return err
	}
	band, err := a.Bootstrap(ctx, f, cfg.Bootstrap)
	if err != nil {
		return err
	}
	PrintBand(os.Stdout, band)

	path := outputPath(fmt.Sprintf("bootstrap_%s.csv", cfg.RDD.Outcome))
	if err := OutputBandToCSV(path, band); err != nil {
		return err
	}
	resPath := outputPath(fmt.Sprintf("bootstrap_%s_resamples.csv", cfg.RDD.Outcome))
	if err := OutputResamplesToCSV(resPath, band); err != nil {
		return err
	}
	logger.Info("bootstrap band written", zap.String("path", path), zap.String("resamples", resPath))
	return nil
}

func runEstimate(cmd *cobra.Command, args []string) error {
	f, err := loadData(cfg.Data)
	if err != nil {
		return err
	}
	return estimate(f)
}

func estimate(f *dataset.Frame) error {
	a, err := rdd.NewAnalyzer(logger, cfg.RDD)
	if err != nil {
		return err
	}
	regressors := cfg.RDD.Design.Regressors()

	if len(cfg.Outcomes) > 0 {
		rows, err := a.EstimateOutcomes(f, cfg.Outcomes, regressors)
		if err != nil {
			return err
		}
		PrintTable(os.Stdout, "Estimated discontinuity by outcome", rows)
		path := outputPath("table_outcomes.csv")
		if err := OutputTableToCSV(path, rows); err != nil {
			return err
		}
		logger.Info("outcome table written", zap.String("path", path), zap.Int("rows", len(rows)))
	}

	if cfg.GroupColumn == "" {
		return nil
	}
	groups, keys, err := subgroups(f, cfg.GroupColumn)
	if err != nil {
		return err
	}
	groups["All"] = f
	keys = append([]string{"All"}, keys...)

	rows, err := a.EstimateGroups(groups, keys, cfg.RDD.Outcome, regressors)
	if err != nil {
		return err
	}
	PrintTable(os.Stdout, fmt.Sprintf("Estimated discontinuity in %s by %s", cfg.RDD.Outcome, cfg.GroupColumn), rows)
	path := outputPath(fmt.Sprintf("table_%s_by_%s.csv", cfg.RDD.Outcome, cfg.GroupColumn))
	if err := OutputTableToCSV(path, rows); err != nil {
		return err
	}
	logger.Info("subgroup table written", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}

func runBins(cmd *cobra.Command, args []string) error {
	f, err := loadData(cfg.Data)
	if err != nil {
		return err
	}
	return bins(f)
}

func bins(f *dataset.Frame) error {
	if cfg.BinColumn == "" {
		return errors.New("no bin column configured")
	}
	freq, err := f.BinFrequency(cfg.BinColumn)
	if err != nil {
		return err
	}
	PrintBinFrequency(os.Stdout, freq)
	path := outputPath("bin_frequency.csv")
	if err := OutputBinFrequencyToCSV(path, freq); err != nil {
		return err
	}

	means, err := f.BinMeans(cfg.BinColumn, cfg.RDD.Outcome)
	if err != nil {
		return err
	}
	meansPath := outputPath(fmt.Sprintf("bin_means_%s.csv", cfg.RDD.Outcome))
	if err := OutputBinMeansToCSV(meansPath, means); err != nil {
		return err
	}
	logger.Info("bins written", zap.String("frequency", path), zap.String("means", meansPath), zap.Int("bins", len(freq)))
	return nil
}

func runMTE(cmd *cobra.Command, args []string) error {
	m := cfg.MTE
	res, err := mte.LoadResult(m.Result)
	if err != nil {
		return err
	}
	f, err := loadData(cfg.MTEData())
	if err != nil {
		return err
	}

	quantiles := mte.Quantiles()
	curve, err := mte.LoadCurve(m.Curve, quantiles)
	if err != nil {
		return err
	}
	scale := m.Band.Scale
	if scale == 0 {
		scale = 4
	}
	point := mte.ScaleCurve(curve, scale)

	band, err := mte.ConfidenceBand(res, f, point, quantiles, m.Band)
	if err != nil {
		return err
	}
	PrintMTEBand(os.Stdout, band)

	var ref *mte.Band
	if compareToRef && m.Reference != "" {
		if _, statErr := os.Stat(m.Reference); statErr == nil {
			if ref, err = mte.LoadReferenceBand(m.Reference, quantiles); err != nil {
				return err
			}
		} else {
			logger.Warn("reference band not found", zap.String("path", m.Reference))
		}
	}

	path := outputPath("mte_band.csv")
	if err := OutputMTEBandToCSV(path, band, ref); err != nil {
		return err
	}
	logger.Info("mte band written",
		zap.String("path", path),
		zap.Int("quantiles", band.Len()),
		zap.Bool("reference", ref != nil))
	return nil
}

// runAll mirrors the full notebook: bins, tables, predictions and the
// bootstrap band. The MTE band runs when its estimation result is present.
func runAll(cmd *cobra.Command, args []string) error {
	f, err := loadData(cfg.Data)
	if err != nil {
		return err
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"bins", func() error { return bins(f) }},
		{"estimate", func() error { return estimate(f) }},
		{"predict", func() error { return predict(f, cfg.GroupColumn != "") }},
		{"bootstrap", func() error { return bootstrap(cmd.Context(), f) }},
	}
	for _, s := range steps {
		logger.Info("step started", zap.String("step", s.name))
		if err := s.run(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}

	if _, err := os.Stat(cfg.MTE.Result); err != nil {
		logger.Warn("skipping mte band, no estimation result", zap.String("path", cfg.MTE.Result))
		return nil
	}
	if err := runMTE(cmd, args); err != nil {
		return fmt.Errorf("mte: %w", err)
	}
	return nil
}
