package ols

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFit_ExactLinearModel(t *testing.T) {
	tests := []struct {
		name string
		x    *mat.Dense
		y    []float64
		want []float64
	}{
		{
			name: "y=2x+1",
			x:    mat.NewDense(3, 2, []float64{1, 1, 1, 2, 1, 3}),
			y:    []float64{3, 5, 7},
			want: []float64{1, 2},
		},
		{
			name: "y=1+2x+3x^2",
			x:    mat.NewDense(3, 3, []float64{1, 0, 0, 1, 1, 1, 1, 2, 4}),
			y:    []float64{1, 6, 17},
			want: []float64{1, 2, 3},
		},
		{
			name: "constant y=5",
			x:    mat.NewDense(3, 1, []float64{1, 1, 1}),
			y:    []float64{5, 5, 5},
			want: []float64{5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Fit(tt.x, tt.y, nil, Options{SkipCovariance: true})
			require.NoError(t, err)
			require.Len(t, res.Params, len(tt.want))
			assert.True(t, res.FullRank())
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], res.Params[i], 1e-9, "beta[%d]", i)
			}
		})
	}
}

func TestFit_TooFewRows(t *testing.T) {
	x := mat.NewDense(2, 3, []float64{1, 0, 1, 1, 1, 0})
	_, err := Fit(x, []float64{1, 2}, nil, Options{})
	require.ErrorIs(t, err, ErrSingularDesign)
}

func TestFit_DimensionChecks(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{1, 1, 1, 2, 1, 3})

	_, err := Fit(x, []float64{1, 2}, nil, Options{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Fit(x, []float64{1, 2, 3}, []string{"a"}, Options{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Fit(x, []float64{1, 2, 3}, nil, Options{Groups: []float64{1}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFit_HomoskedasticCovariance(t *testing.T) {
	// Simple regression: var(slope) = sigma^2 / Sxx
	xs := []float64{0, 1, 2, 3, 4}
	y := []float64{1.1, 2.9, 5.2, 6.8, 9.1}

	data := make([]float64, 0, 10)
	for _, v := range xs {
		data = append(data, 1, v)
	}
	res, err := Fit(mat.NewDense(5, 2, data), y, []string{"const", "x"}, Options{})
	require.NoError(t, err)

	b0, b1 := res.Params[0], res.Params[1]
	rss := 0.0
	for i, v := range xs {
		e := y[i] - b0 - b1*v
		rss += e * e
	}
	sigma2 := rss / 3
	sxx := 10.0

	se, err := res.StdErr("x")
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(sigma2/sxx), se, 1e-9)

	p, err := res.PValue("x")
	require.NoError(t, err)
	assert.True(t, p >= 0 && p < 0.01, "slope should be significant, p=%v", p)
}

func TestFit_ClusterCovariance(t *testing.T) {
	x := mat.NewDense(6, 2, []float64{
		1, 0,
		1, 1,
		1, 2,
		1, 3,
		1, 4,
		1, 5,
	})
	y := []float64{0.2, 1.1, 1.8, 3.3, 3.9, 5.2}

	t.Run("single cluster", func(t *testing.T) {
		_, err := Fit(x, y, nil, Options{Groups: []float64{1, 1, 1, 1, 1, 1}})
		require.ErrorIs(t, err, ErrTooFewClusters)
	})

	t.Run("singleton clusters match HC1", func(t *testing.T) {
		res, err := Fit(x, y, []string{"const", "x"}, Options{Groups: []float64{1, 2, 3, 4, 5, 6}})
		require.NoError(t, err)
		assert.Equal(t, 6, res.Groups)

		// With one row per cluster: c = G/(G-1) * (N-1)/(N-K) = N/(N-K)
		var xtx, xtxInv mat.Dense
		xtx.Mul(x.T(), x)
		require.NoError(t, xtxInv.Inverse(&xtx))

		meat := mat.NewDense(2, 2, nil)
		for i := 0; i < 6; i++ {
			e := y[i] - res.Params[0] - res.Params[1]*x.At(i, 1)
			for a := 0; a < 2; a++ {
				for b := 0; b < 2; b++ {
					meat.Set(a, b, meat.At(a, b)+x.At(i, a)*x.At(i, b)*e*e)
				}
			}
		}
		var tmp, want mat.Dense
		tmp.Mul(&xtxInv, meat)
		want.Mul(&tmp, &xtxInv)
		want.Scale(6.0/4.0, &want)

		for a := 0; a < 2; a++ {
			for b := 0; b < 2; b++ {
				assert.InDelta(t, want.At(a, b), res.Cov.At(a, b), 1e-9)
			}
		}
	})

	t.Run("cluster order does not matter", func(t *testing.T) {
		a, err := Fit(x, y, nil, Options{Groups: []float64{1, 1, 2, 2, 3, 3}})
		require.NoError(t, err)
		b, err := Fit(x, y, nil, Options{Groups: []float64{7, 7, 4, 4, 9, 9}})
		require.NoError(t, err)
		assert.InDelta(t, a.Cov.At(1, 1), b.Cov.At(1, 1), 1e-12)
	})
}

func TestPredict_RankDeficient(t *testing.T) {
	// Columns: const, below (all ones), slope below, slope above (all zero)
	x := mat.NewDense(4, 4, []float64{
		1, 1, -1.0, 0,
		1, 1, -0.8, 0,
		1, 1, -0.6, 0,
		1, 1, -0.4, 0,
	})
	y := []float64{3, 2.6, 2.2, 1.8} // y = 1 - 2x

	res, err := Fit(x, y, nil, Options{SkipCovariance: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rank)
	assert.False(t, res.FullRank())

	got, err := res.Predict([]float64{1, 1, -0.5, 0})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 1e-9)

	_, err = res.Predict([]float64{1, 0, 0, 0.5})
	assert.ErrorIs(t, err, ErrNotEstimable)
	assert.ErrorIs(t, err, ErrSingularDesign)
}

func TestResult_UnknownRegressor(t *testing.T) {
	res, err := Fit(mat.NewDense(3, 1, []float64{1, 1, 1}), []float64{1, 2, 3}, []string{"const"}, Options{})
	require.NoError(t, err)

	_, err = res.Coef("missing")
	assert.ErrorIs(t, err, ErrUnknownRegressor)

	_, err = res.Predict([]float64{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
