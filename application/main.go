package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Academic_Probation_RDD_Project/config"
	"Academic_Probation_RDD_Project/logging"
)

var (
	// Global flags
	configPath string
	logLevel   string
	devLog     bool

	// Overrides of the config file
	dataPath     string
	outputDir    string
	outcome      string
	bandwidth    float64
	resamples    int
	seed         int64
	workers      int
	failFast     bool
	bySubgroup   bool
	compareToRef bool

	cfg    config.Analysis
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "probation",
	Short: "Regression discontinuity analysis of academic probation",
	Long: `probation replicates the academic probation study: local-regression
prediction curves around the GPA cutoff, percentile bootstrap bands,
clustered RDD tables, bin summaries and the MTE confidence band.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "analysis.yaml", "Analysis config (YAML or JSON)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVar(&devLog, "dev", false, "Human readable console logs")
	pf.StringVar(&dataPath, "data", "", "Student CSV (overrides config)")
	pf.StringVarP(&outputDir, "output", "o", "", "Output directory (overrides config)")
	pf.StringVar(&outcome, "outcome", "", "Outcome column (overrides config)")
	pf.Float64Var(&bandwidth, "bandwidth", 0, "Local regression bandwidth (overrides config)")
	pf.BoolVar(&failFast, "fail-fast", false, "Stop at the first failed grid step")

	bootstrapCmd.Flags().IntVar(&resamples, "resamples", 0, "Number of bootstrap resamples (overrides config)")
	bootstrapCmd.Flags().Int64Var(&seed, "seed", 0, "Bootstrap seed, 0 for time based (overrides config)")
	bootstrapCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent resamples, 0 for all CPUs (overrides config)")
	runCmd.Flags().AddFlagSet(bootstrapCmd.Flags())

	predictCmd.Flags().BoolVar(&bySubgroup, "groups", false, "One curve per value of the group column")
	mteCmd.Flags().BoolVar(&compareToRef, "reference", true, "Add the published band when the reference file exists")

	rootCmd.AddCommand(predictCmd, bootstrapCmd, estimateCmd, binsCmd, mteCmd, runCmd)
}

// setup loads the config, applies command line overrides and builds the
// run logger.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("data") {
		cfg.Data = dataPath
	}
	if flags.Changed("output") {
		cfg.OutputDir = outputDir
	}
	if flags.Changed("outcome") {
		cfg.RDD.Outcome = outcome
	}
	if flags.Changed("bandwidth") {
		cfg.RDD.Bandwidth = bandwidth
	}
	if flags.Changed("fail-fast") {
		cfg.RDD.FailFast = failFast
	}
	if flags.Changed("resamples") {
		cfg.Bootstrap.Resamples = resamples
	}
	if flags.Changed("seed") {
		cfg.Bootstrap.Seed = seed
	}
	if flags.Changed("workers") {
		cfg.Bootstrap.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	base, err := logging.New(logLevel, devLog)
	if err != nil {
		return err
	}
	logger = base.With(zap.String("run", uuid.NewString()), zap.String("command", cmd.Name()))
	logger.Debug("configuration loaded",
		zap.String("config", configPath),
		zap.String("data", cfg.Data),
		zap.String("output", cfg.OutputDir))
	return nil
}
