// Package ols fits linear models by least squares and reports homoskedastic or
// cluster-robust parameter covariances.
package ols

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrSingularDesign    = errors.New("singular design matrix")
	ErrNotEstimable      = fmt.Errorf("prediction point outside the row space: %w", ErrSingularDesign)
	ErrTooFewClusters    = errors.New("cluster-robust covariance needs at least 2 clusters")
	ErrNoResidualDegrees = errors.New("no residual degrees of freedom")
	ErrNoCovariance      = errors.New("covariance not computed")
	ErrUnknownRegressor  = errors.New("unknown regressor")
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// rankTolerance is relative to the largest singular value.
const rankTolerance = 1e-10

// Options controls how the parameter covariance is estimated.
type Options struct {
	// Cluster keys, one per row. nil means homoskedastic errors.
	Groups []float64
	// Only the coefficients are needed (prediction-only fits).
	SkipCovariance bool
}

// Result holds a fitted linear model.
type Result struct {
	Names  []string
	Params []float64
	// Parameter covariance (K x K), nil when skipped.
	Cov    *mat.SymDense
	Rank   int
	Nobs   int
	Groups int

	// Row space basis of the design, used to check estimability.
	rowSpace *mat.Dense
}

// Fit solves y = X b by minimum-norm least squares.
// x: N x K design, y: N responses, names: K regressor names (may be nil)
func Fit(x *mat.Dense, y []float64, names []string, opts Options) (*Result, error) {
	if x == nil {
		return nil, fmt.Errorf("design matrix not provided: %w", ErrDimensionMismatch)
	}

	n, k := x.Dims()
	if len(y) != n {
		return nil, fmt.Errorf("response has %d rows, design has %d: %w", len(y), n, ErrDimensionMismatch)
	}
	if names != nil && len(names) != k {
		return nil, fmt.Errorf("%d names for %d regressors: %w", len(names), k, ErrDimensionMismatch)
	}
	if opts.Groups != nil && len(opts.Groups) != n {
		return nil, fmt.Errorf("%d cluster keys for %d rows: %w", len(opts.Groups), n, ErrDimensionMismatch)
	}
	if n < k {
		return nil, fmt.Errorf("%d observations for %d regressors: %w", n, k, ErrSingularDesign)
	}

	// X = U S V'
	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return nil, fmt.Errorf("SVD factorization failed: %w", ErrSingularDesign)
	}
	values := svd.Values(nil)

	rank := 0
	for _, s := range values {
		if s > values[0]*rankTolerance {
			rank++
		}
	}
	if rank == 0 {
		return nil, fmt.Errorf("design is numerically zero: %w", ErrSingularDesign)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	uR := u.Slice(0, n, 0, rank)
	vR := mat.DenseCopyOf(v.Slice(0, k, 0, rank))

	// b = V_r S_r^-1 U_r' y
	yVec := mat.NewVecDense(n, append([]float64(nil), y...))
	var uty mat.VecDense
	uty.MulVec(uR.T(), yVec)
	for i := 0; i < rank; i++ {
		uty.SetVec(i, uty.AtVec(i)/values[i])
	}
	var beta mat.VecDense
	beta.MulVec(vR, &uty)

	params := make([]float64, k)
	for i := range params {
		params[i] = beta.AtVec(i)
	}

	if names == nil {
		names = make([]string, k)
		for i := range names {
			names[i] = fmt.Sprintf("x%d", i)
		}
	}

	res := &Result{
		Names:    append([]string(nil), names...),
		Params:   params,
		Rank:     rank,
		Nobs:     n,
		rowSpace: vR,
	}

	if opts.SkipCovariance {
		return res, nil
	}

	// Bread B = (X'X)^+ = V_r S_r^-2 V_r'
	scaled := mat.DenseCopyOf(vR)
	for j := 0; j < rank; j++ {
		inv := 1 / (values[j] * values[j])
		for i := 0; i < k; i++ {
			scaled.Set(i, j, scaled.At(i, j)*inv)
		}
	}
	var bread mat.Dense
	bread.Mul(scaled, vR.T())

	// Residuals e = y - X b
	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	resid := make([]float64, n)
	for i := 0; i < n; i++ {
		resid[i] = y[i] - fitted.AtVec(i)
	}

	df := n - rank
	if opts.Groups == nil {
		if df <= 0 {
			return nil, fmt.Errorf("%d observations, rank %d: %w", n, rank, ErrNoResidualDegrees)
		}
		rss := 0.0
		for _, e := range resid {
			rss += e * e
		}
		sigma2 := rss / float64(df)
		res.Cov = symmetrize(&bread, sigma2)
		return res, nil
	}

	meat, groups := clusterMeat(x, resid, opts.Groups)
	if groups < 2 {
		return nil, fmt.Errorf("%d cluster(s): %w", groups, ErrTooFewClusters)
	}
	if df <= 0 {
		return nil, fmt.Errorf("%d observations, rank %d: %w", n, rank, ErrNoResidualDegrees)
	}

	var tmp, sandwich mat.Dense
	tmp.Mul(&bread, meat)
	sandwich.Mul(&tmp, &bread)

	g := float64(groups)
	c := g / (g - 1) * float64(n-1) / float64(df)

	res.Cov = symmetrize(&sandwich, c)
	res.Groups = groups
	return res, nil
}

// clusterMeat sums the outer products of the per-cluster scores X_g' e_g.
// Returns the K x K meat matrix and the number of clusters.
func clusterMeat(x *mat.Dense, resid []float64, groups []float64) (*mat.Dense, int) {
	n, k := x.Dims()

	// Sorted keys keep the summation order stable between runs
	scores := make(map[float64][]float64)
	for i := 0; i < n; i++ {
		s, ok := scores[groups[i]]
		if !ok {
			s = make([]float64, k)
			scores[groups[i]] = s
		}
		for j := 0; j < k; j++ {
			s[j] += x.At(i, j) * resid[i]
		}
	}

	keys := make([]float64, 0, len(scores))
	for key := range scores {
		keys = append(keys, key)
	}
	sort.Float64s(keys)

	meat := mat.NewDense(k, k, nil)
	for _, key := range keys {
		s := mat.NewVecDense(k, scores[key])
		var outer mat.Dense
		outer.Outer(1, s, s)
		meat.Add(meat, &outer)
	}
	return meat, len(keys)
}

// symmetrize returns c * (A + A') / 2 as a SymDense.
func symmetrize(a *mat.Dense, c float64) *mat.SymDense {
	k, _ := a.Dims()
	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			out.SetSym(i, j, c*(a.At(i, j)+a.At(j, i))/2)
		}
	}
	return out
}

// FullRank reports whether every coefficient is identified.
func (r *Result) FullRank() bool { return r.Rank == len(r.Params) }

func (r *Result) index(name string) (int, error) {
	for i, n := range r.Names {
		if n == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%q: %w", name, ErrUnknownRegressor)
}

// Coef returns the coefficient of a named regressor.
func (r *Result) Coef(name string) (float64, error) {
	i, err := r.index(name)
	if err != nil {
		return 0, err
	}
	return r.Params[i], nil
}

// StdErr returns the standard error of a named coefficient.
func (r *Result) StdErr(name string) (float64, error) {
	i, err := r.index(name)
	if err != nil {
		return 0, err
	}
	if r.Cov == nil {
		return 0, ErrNoCovariance
	}
	return math.Sqrt(r.Cov.At(i, i)), nil
}

// PValue returns the two-sided p-value of a named coefficient against the
// standard normal reference distribution.
func (r *Result) PValue(name string) (float64, error) {
	se, err := r.StdErr(name)
	if err != nil {
		return 0, err
	}
	coef, _ := r.Coef(name)
	if se == 0 {
		return 0, fmt.Errorf("%q has zero standard error: %w", name, ErrSingularDesign)
	}
	z := math.Abs(coef / se)
	return 2 * distuv.UnitNormal.Survival(z), nil
}

// Predict evaluates the fitted model at x0. For rank-deficient fits the
// prediction is unique only when x0 lies in the row space of the design.
func (r *Result) Predict(x0 []float64) (float64, error) {
	k := len(r.Params)
	if len(x0) != k {
		return 0, fmt.Errorf("prediction point has %d values, model has %d: %w", len(x0), k, ErrDimensionMismatch)
	}

	if !r.FullRank() {
		// Project x0 onto the row space and compare
		v := mat.NewVecDense(k, append([]float64(nil), x0...))
		var coords, proj, off mat.VecDense
		coords.MulVec(r.rowSpace.T(), v)
		proj.MulVec(r.rowSpace, &coords)
		off.SubVec(v, &proj)

		scale := math.Max(1, mat.Norm(v, 2))
		if mat.Norm(&off, 2) > 1e-8*scale {
			return 0, ErrNotEstimable
		}
	}

	out := 0.0
	for i, b := range r.Params {
		out += b * x0[i]
	}
	return out, nil
}
