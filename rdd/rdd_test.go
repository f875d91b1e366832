package rdd

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"Academic_Probation_RDD_Project/dataset"
	"Academic_Probation_RDD_Project/ols"
)

const injectedJump = 0.25

// syntheticFrame draws n students uniformly around the cutoff with a known
// discontinuity of injectedJump below it.
func syntheticFrame(t *testing.T, n int, seed int64) *dataset.Frame {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	dist := make([]float64, n)
	y := make([]float64, n)
	cluster := make([]float64, n)
	for i := 0; i < n; i++ {
		x := -1.2 + 2.4*rng.Float64()
		below := 0.0
		if x < 0 {
			below = 1
		}
		dist[i] = x
		y[i] = 0.3 + injectedJump*below + 0.2*x*below + 0.1*x*(1-below) + 0.05*rng.NormFloat64()
		cluster[i] = math.Round(x * 10)
	}
	// one missing outcome that must be dropped
	y[n-1] = math.NaN()

	f, err := dataset.New([]string{"dist", "y", "bin"}, [][]float64{dist, y, cluster})
	require.NoError(t, err)
	return f
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Running = "dist"
	cfg.Outcome = "y"
	cfg.Cluster = "bin"
	return cfg
}

func newTestAnalyzer(t *testing.T, cfg Config) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(zap.NewNop(), cfg)
	require.NoError(t, err)
	return a
}

func TestGrid_Points(t *testing.T) {
	points := DefaultGrid().Points()
	require.Len(t, points, 49)
	assert.Equal(t, -1.2, points[0])
	assert.Equal(t, 1.2, points[48])
	assert.Equal(t, 0.0, points[24])
	assert.Equal(t, -0.05, points[23])

	assert.Empty(t, Grid{Start: 1, Stop: 0, Step: 0.1}.Points())
}

func TestDesign_At(t *testing.T) {
	d := DefaultDesign()
	assert.Equal(t, []float64{1, 1, -0.5, 0}, d.At(-0.5, 0))
	assert.Equal(t, []float64{1, 0, 0, 0.5}, d.At(0.5, 0))
	assert.Equal(t, []float64{1, 0, 0, 0}, d.At(0, 0))
}

func TestConfig_Validate(t *testing.T) {
	cfg := testConfig()
	cfg.Bandwidth = 0
	_, err := NewAnalyzer(nil, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig()
	cfg.Outcome = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = testConfig()
	cfg.Grid.Step = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	assert.NoError(t, testConfig().Validate())
}

func TestPredict_RecoversDiscontinuity(t *testing.T) {
	f := syntheticFrame(t, 200, 42)
	a := newTestAnalyzer(t, testConfig())

	curve, err := a.Predict(f)
	require.NoError(t, err)
	require.Len(t, curve.Steps, 49)
	assert.Empty(t, curve.Failures())

	cut, ok := curve.At(0)
	require.True(t, ok)
	assert.Equal(t, 0.0, cut.Step)
	assert.Equal(t, 0.0, cut.Below)
	require.True(t, cut.Identified)
	assert.InDelta(t, injectedJump, cut.Discontinuity, 0.1)
	assert.InDelta(t, 0.3, cut.Prediction, 0.1)

	// Below the cutoff the curve sits roughly injectedJump higher
	left, _ := curve.At(-0.05)
	assert.Equal(t, 1.0, left.Below)
	assert.InDelta(t, 0.3+injectedJump-0.2*0.05, left.Prediction, 0.1)

	// Input frame is not modified
	assert.False(t, f.Has("gpalscutoff"))
}

func TestPredict_IsDeterministic(t *testing.T) {
	f := syntheticFrame(t, 200, 3)
	a := newTestAnalyzer(t, testConfig())

	c1, err := a.Predict(f)
	require.NoError(t, err)
	c2, err := a.Predict(f)
	require.NoError(t, err)
	assert.Equal(t, c1.Steps, c2.Steps)
}

func TestPredict_SingularWindow(t *testing.T) {
	f, err := dataset.New(
		[]string{"dist", "y"},
		[][]float64{{-0.05, 0.02, 0.04, 1.0}, {1, 2, 3, 4}},
	)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Cluster = ""
	cfg.Bandwidth = 0.1
	cfg.Grid = Grid{Start: 0, Stop: 0, Step: 0.05}

	t.Run("recorded per step", func(t *testing.T) {
		curve, err := newTestAnalyzer(t, cfg).Predict(f)
		require.NoError(t, err)
		require.Len(t, curve.Steps, 1)

		s := curve.Steps[0]
		assert.Equal(t, 3, s.Nobs)
		assert.False(t, s.OK())
		assert.ErrorIs(t, s.Err, ols.ErrSingularDesign)
		assert.True(t, IsSingular(s.Err))
		assert.Len(t, curve.Failures(), 1)
	})

	t.Run("fail fast", func(t *testing.T) {
		cfg := cfg
		cfg.FailFast = true
		_, err := newTestAnalyzer(t, cfg).Predict(f)
		assert.ErrorIs(t, err, ols.ErrSingularDesign)
	})

	t.Run("empty window", func(t *testing.T) {
		cfg := cfg
		cfg.Grid = Grid{Start: 0.5, Stop: 0.5, Step: 0.05}
		curve, err := newTestAnalyzer(t, cfg).Predict(f)
		require.NoError(t, err)
		assert.Equal(t, 0, curve.Steps[0].Nobs)
		assert.ErrorIs(t, curve.Steps[0].Err, ols.ErrSingularDesign)
	})
}

func TestPredict_NoObservations(t *testing.T) {
	f, err := dataset.New([]string{"dist", "y"}, [][]float64{{0.1}, {math.NaN()}})
	require.NoError(t, err)

	_, err = newTestAnalyzer(t, testConfig()).Predict(f)
	assert.ErrorIs(t, err, ErrNoObservations)
}

func TestPredictGroups(t *testing.T) {
	a := newTestAnalyzer(t, testConfig())
	groups := map[string]*dataset.Frame{
		"male":   syntheticFrame(t, 150, 1),
		"female": syntheticFrame(t, 150, 2),
	}
	out, err := a.PredictGroups(groups)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Len(t, out["male"].Steps, 49)
}

func TestBootstrap_SeededAndOrdered(t *testing.T) {
	f := syntheticFrame(t, 200, 11)
	a := newTestAnalyzer(t, testConfig())

	opts := BootstrapConfig{Resamples: 40, Seed: 12345, Lower: 2.5, Upper: 97.5, Workers: 4}
	b1, err := a.Bootstrap(context.Background(), f, opts)
	require.NoError(t, err)

	opts.Workers = 1
	b2, err := a.Bootstrap(context.Background(), f, opts)
	require.NoError(t, err)

	require.Len(t, b1.Steps, 49)
	require.Len(t, b1.Curves, 40)
	for j := range b1.Steps {
		s1, s2 := b1.Steps[j], b2.Steps[j]
		require.True(t, s1.Valid(), "step %v", s1.Step)
		assert.Equal(t, s1.Lower, s2.Lower)
		assert.Equal(t, s1.Upper, s2.Upper)
		assert.LessOrEqual(t, s1.Lower, s1.Upper)
		assert.Equal(t, 40, s1.Resamples+s1.Failures)
	}

	cut := b1.Steps[24]
	assert.Equal(t, 0.0, cut.Step)
	assert.InDelta(t, 0.3, cut.Point, 0.1)
	assert.Equal(t, b1.Point.Steps[24].Prediction, cut.Point)
}

func TestBootstrap_SeedChangesDraws(t *testing.T) {
	f := syntheticFrame(t, 200, 11)
	a := newTestAnalyzer(t, testConfig())

	b1, err := a.Bootstrap(context.Background(), f, BootstrapConfig{Resamples: 20, Seed: 1, Lower: 5, Upper: 95})
	require.NoError(t, err)
	b2, err := a.Bootstrap(context.Background(), f, BootstrapConfig{Resamples: 20, Seed: 2, Lower: 5, Upper: 95})
	require.NoError(t, err)

	assert.NotEqual(t, b1.Samples(24), b2.Samples(24))
	for _, s := range b2.Steps {
		assert.LessOrEqual(t, s.Lower, s.Upper)
	}
}

func TestBootstrap_FewerResamplesAddMonteCarloNoise(t *testing.T) {
	f := syntheticFrame(t, 200, 17)
	cfg := testConfig()
	cfg.Grid = Grid{Start: -0.1, Stop: 0.1, Step: 0.05}
	a := newTestAnalyzer(t, cfg)

	// Band width at the cutoff step for 16 fixed seeds
	widths := func(resamples int) []float64 {
		out := make([]float64, 0, 16)
		for seed := int64(1); seed <= 16; seed++ {
			band, err := a.Bootstrap(context.Background(), f,
				BootstrapConfig{Resamples: resamples, Seed: seed, Lower: 2.5, Upper: 97.5, Workers: 2})
			require.NoError(t, err)
			s := band.Steps[2]
			require.Equal(t, 0.0, s.Step)
			require.True(t, s.Valid())
			out = append(out, s.Upper-s.Lower)
		}
		return out
	}

	few, many := widths(10), widths(200)
	assert.Equal(t, few, widths(10), "seeded runs repeat exactly")
	assert.Greater(t, stat.StdDev(few, nil), stat.StdDev(many, nil))
}

func TestBootstrap_Errors(t *testing.T) {
	f := syntheticFrame(t, 50, 5)
	a := newTestAnalyzer(t, testConfig())

	_, err := a.Bootstrap(context.Background(), f, BootstrapConfig{Resamples: 0, Lower: 2.5, Upper: 97.5})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = a.Bootstrap(context.Background(), f, BootstrapConfig{Resamples: 10, Lower: 90, Upper: 10})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Bootstrap(ctx, f, BootstrapConfig{Resamples: 10, Seed: 1, Lower: 2.5, Upper: 97.5})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBootstrap_StepWithoutValidResamples(t *testing.T) {
	// Only three rows near the cutoff: every window there is singular
	f, err := dataset.New(
		[]string{"dist", "y"},
		[][]float64{{-0.05, 0.02, 0.04}, {1, 2, 3}},
	)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Cluster = ""
	cfg.Bandwidth = 0.1
	cfg.Grid = Grid{Start: 0, Stop: 0, Step: 0.05}

	band, err := newTestAnalyzer(t, cfg).Bootstrap(context.Background(), f,
		BootstrapConfig{Resamples: 5, Seed: 9, Lower: 2.5, Upper: 97.5})
	require.NoError(t, err)
	require.Len(t, band.Steps, 1)

	s := band.Steps[0]
	assert.False(t, s.Valid())
	assert.ErrorIs(t, s.Err, ErrNoValidResamples)
	assert.Equal(t, 5, s.Failures)
	assert.ErrorIs(t, s.PointErr, ols.ErrSingularDesign)
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		q       float64
		want    float64
	}{
		{"median of even", []float64{4, 1, 3, 2}, 0.5, 2.5},
		{"lower quartile", []float64{1, 2, 3, 4}, 0.25, 1.75},
		{"min", []float64{3, 1, 2}, 0, 1},
		{"max", []float64{3, 1, 2}, 1, 3},
		{"exact order statistic", []float64{10, 20, 30}, 0.5, 20},
		{"single", []float64{7}, 0.975, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, percentile(tt.samples, tt.q), 1e-12)
		})
	}

	assert.True(t, math.IsNaN(percentile(nil, 0.5)))
}

func TestEstimateOutcomes(t *testing.T) {
	f := syntheticFrame(t, 200, 21)
	a := newTestAnalyzer(t, testConfig())
	regs := DefaultDesign().Regressors()

	rows, err := a.EstimateOutcomes(f, []string{"y"}, regs)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, "y", r.Label)
	assert.Equal(t, 199, r.Observations)
	assert.InDelta(t, injectedJump, r.Coef, 0.1)
	assert.InDelta(t, 0.3, r.Intercept, 0.1)
	assert.Greater(t, r.StdErr, 0.0)
	assert.Equal(t, math.Round(r.Coef*1000)/1000, r.Coef)
	assert.Less(t, r.PValue, 0.05)

	_, err = a.EstimateOutcomes(f, []string{"y"}, []string{"const", "const"})
	assert.ErrorIs(t, err, ErrRankDeficientFit)
}

func TestEstimateGroups(t *testing.T) {
	a := newTestAnalyzer(t, testConfig())
	groups := map[string]*dataset.Frame{
		"All":  syntheticFrame(t, 200, 31),
		"Male": syntheticFrame(t, 120, 32),
	}
	rows, err := a.EstimateGroups(groups, []string{"All", "Male"}, "y", DefaultDesign().Regressors())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Male", rows[1].Label)
	assert.Equal(t, 119, rows[1].Observations)

	_, err = a.EstimateGroups(groups, []string{"Female"}, "y", DefaultDesign().Regressors())
	assert.Error(t, err)
}
