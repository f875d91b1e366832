package rdd

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"Academic_Probation_RDD_Project/dataset"
)

// BootstrapConfig controls the percentile bootstrap.
type BootstrapConfig struct {
	// Number of resamples (e.g. 100-1000)
	Resamples int `yaml:"resamples" validate:"gt=0"`
	// RNG seed (if 0, time-based seed is used)
	Seed int64 `yaml:"seed"`
	// Percentiles of the band, in percent (e.g. 2.5 and 97.5)
	Lower float64 `yaml:"lower" validate:"gte=0,lte=100"`
	Upper float64 `yaml:"upper" validate:"gte=0,lte=100,gtfield=Lower"`
	// Concurrent resamples (if 0, runtime.NumCPU)
	Workers int `yaml:"workers" validate:"gte=0"`
}

// DefaultBootstrapConfig returns a 95% band from 500 resamples.
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		Resamples: 500,
		Lower:     2.5,
		Upper:     97.5,
	}
}

// BandStep is the bootstrap band at one grid step.
type BandStep struct {
	Step float64
	// Prediction on the original data; PointErr is set when that fit failed
	Point    float64
	PointErr error
	Lower    float64
	Upper    float64
	// Resamples that produced a prediction at this step
	Resamples int
	Failures  int
	// Set when no resample produced a prediction; Lower and Upper are then unset
	Err error
}

// Valid reports whether the band has bounds at this step.
func (s BandStep) Valid() bool { return s.Err == nil }

// Band is the percentile bootstrap confidence band of a prediction curve.
type Band struct {
	Outcome   string
	Bandwidth float64
	Seed      int64
	Lower     float64
	Upper     float64
	Point     *Curve
	Steps     []BandStep
	// One curve per resample, in resample order
	Curves [][]StepPrediction
}

// Samples returns the successful predictions of all resamples at step index j.
func (b *Band) Samples(j int) []float64 {
	out := make([]float64, 0, len(b.Curves))
	for _, c := range b.Curves {
		if j < len(c) && c[j].OK() {
			out = append(out, c[j].Prediction)
		}
	}
	return out
}

// Bootstrap resamples the dataset with replacement opts.Resamples times,
// rebuilds the prediction curve on each resample and takes the requested
// percentiles across resamples at every step.
func (a *Analyzer) Bootstrap(ctx context.Context, f *dataset.Frame, opts BootstrapConfig) (*Band, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// 1. Drop missing outcomes once, before any resampling
	work, err := a.prepare(f)
	if err != nil {
		return nil, err
	}

	// 2. Point estimate on the original data
	point, err := a.curve(work)
	if err != nil {
		return nil, fmt.Errorf("point curve: %w", err)
	}

	// 3. Prepare per-resample seeds (so RNG is not shared across goroutines)
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	masterRng := rand.New(rand.NewSource(seed))
	seeds := make([]int64, opts.Resamples)
	for i := range seeds {
		seeds[i] = masterRng.Int63()
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > opts.Resamples {
		workers = opts.Resamples
	}

	a.logger.Info("bootstrap started",
		zap.Int("resamples", opts.Resamples),
		zap.Int("workers", workers),
		zap.Int64("seed", seed),
		zap.Int("rows", work.Len()))
	start := time.Now()

	// 4. Fan out resamples; each curve lands at its own index
	curves := make([][]StepPrediction, opts.Resamples)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for b := 0; b < opts.Resamples; b++ {
		b := b
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[b]))
			steps, err := a.curve(work.Resample(rng))
			if err != nil {
				return fmt.Errorf("resample %d: %w", b, err)
			}
			curves[b] = steps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 5. Percentile bands per step
	band := &Band{
		Outcome:   a.config.Outcome,
		Bandwidth: a.config.Bandwidth,
		Seed:      seed,
		Lower:     opts.Lower,
		Upper:     opts.Upper,
		Point:     &Curve{Outcome: a.config.Outcome, Bandwidth: a.config.Bandwidth, Steps: point},
		Steps:     make([]BandStep, len(point)),
		Curves:    curves,
	}

	invalid := 0
	for j, p := range point {
		bs := BandStep{Step: p.Step, Point: p.Prediction, PointErr: p.Err}
		samples := band.Samples(j)
		bs.Resamples = len(samples)
		bs.Failures = opts.Resamples - len(samples)

		if len(samples) == 0 {
			bs.Err = fmt.Errorf("step %.4f: %w", p.Step, ErrNoValidResamples)
			invalid++
			a.logger.Warn("no bootstrap band at step", zap.Float64("step", p.Step))
		} else {
			bs.Lower = percentile(samples, opts.Lower/100)
			bs.Upper = percentile(samples, opts.Upper/100)
			if bs.Failures > 0 {
				a.logger.Debug("resample fits failed at step",
					zap.Float64("step", p.Step),
					zap.Int("failures", bs.Failures))
			}
		}
		band.Steps[j] = bs
	}

	a.logger.Info("bootstrap finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("steps", len(point)),
		zap.Int("invalid_steps", invalid))
	return band, nil
}

// percentile returns the empirical q-quantile of samples (0 <= q <= 1)
// using linear interpolation between order statistics at position q*(n-1),
// the same convention as numpy's default "linear" method.
func percentile(samples []float64, q float64) float64 {
	n := len(samples)
	if n == 0 {
		return math.NaN()
	}

	tmp := make([]float64, n)
	copy(tmp, samples)
	sort.Float64s(tmp)

	if q <= 0 {
		return tmp[0]
	}
	if q >= 1 {
		return tmp[n-1]
	}

	pos := q * float64(n-1)
	idxBelow := int(math.Floor(pos))
	idxAbove := int(math.Ceil(pos))

	if idxAbove == idxBelow {
		return tmp[idxBelow]
	}

	weight := pos - float64(idxBelow)
	return tmp[idxBelow]*(1.0-weight) + tmp[idxAbove]*weight
}
