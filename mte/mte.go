// Package mte builds delta-method confidence bands for the marginal treatment
// effect curve of a generalized Roy model.
package mte

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"Academic_Probation_RDD_Project/dataset"
)

var (
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInvalidQuantile   = errors.New("quantile outside (0, 1)")
	ErrInvalidConfig     = errors.New("invalid mte config")
	ErrNegativeVariance  = errors.New("negative variance in confidence band")
)

var validate = validator.New()

// EstimationResult is the part of a fitted selection model the band needs:
// the internal parameter vector and the inverse Hessian of the summed
// log-likelihood. The last DistributionBlock parameters describe the joint
// distribution of the unobservables.
type EstimationResult struct {
	Params  []float64
	HessInv *mat.Dense
}

// Config describes the layout of the parameter vector and the band.
type Config struct {
	// Regressors of the treated-outcome equation, in parameter order
	Covariates []string `yaml:"covariates" json:"covariates" validate:"required,min=1"`
	// Leading parameters covering both outcome equations (if 0, 2*len(Covariates))
	TreatmentBlock int `yaml:"treatment_block" json:"treatment_block" validate:"gte=0"`
	// Trailing distribution parameters (if 0, 4)
	DistributionBlock int `yaml:"distribution_block" json:"distribution_block" validate:"gte=0"`
	// Normal quantile used as critical value, above 0.5 (if 0, 0.95)
	Level float64 `yaml:"level" json:"level" validate:"omitempty,gt=0.5,lt=1"`
	// Divisor applied to the margin and to the upstream curve (if 0, 4)
	Scale float64 `yaml:"scale" json:"scale" validate:"gte=0"`
}

// DefaultConfig returns the band settings used for the published figure.
func DefaultConfig(covariates []string) Config {
	return Config{
		Covariates:        covariates,
		TreatmentBlock:    2 * len(covariates),
		DistributionBlock: 4,
		Level:             0.95,
		Scale:             4,
	}
}

// normalized fills zero fields with their defaults and checks the treatment
// block against the covariate list.
func (c Config) normalized() (Config, error) {
	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	want := 2 * len(c.Covariates)
	if c.TreatmentBlock == 0 {
		c.TreatmentBlock = want
	}
	if c.TreatmentBlock != want {
		return c, fmt.Errorf("treatment block %d, %d covariates need %d: %w",
			c.TreatmentBlock, len(c.Covariates), want, ErrDimensionMismatch)
	}
	if c.DistributionBlock == 0 {
		c.DistributionBlock = 4
	}
	if c.Level == 0 {
		c.Level = 0.95
	}
	if c.Scale == 0 {
		c.Scale = 4
	}
	return c, nil
}

// Band is a confidence band around a point curve, one entry per quantile.
type Band struct {
	Quantiles []float64
	Point     []float64
	Lower     []float64
	Upper     []float64
	// Quadratic forms of the covariate and distribution blocks
	Part1    float64
	Part2    float64
	Critical float64
}

// Len returns the number of quantiles.
func (b *Band) Len() int { return len(b.Quantiles) }

// Quantiles returns the evaluation grid of the MTE curve:
// 0.0001, 0.01, 0.02, ..., 0.99, 0.9999.
func Quantiles() []float64 {
	q := make([]float64, 0, 101)
	q = append(q, 0.0001)
	for i := 1; i <= 99; i++ {
		q = append(q, float64(i)/100)
	}
	return append(q, 0.9999)
}

// ValidateQuantiles checks that every quantile lies strictly between 0 and 1.
func ValidateQuantiles(quantiles []float64) error {
	if len(quantiles) == 0 {
		return fmt.Errorf("empty quantile grid: %w", ErrInvalidQuantile)
	}
	for i, q := range quantiles {
		if !(q > 0 && q < 1) {
			return fmt.Errorf("quantile %d is %v: %w", i, q, ErrInvalidQuantile)
		}
	}
	return nil
}

// ScaleCurve divides every value of curve by scale and returns a new slice.
func ScaleCurve(curve []float64, scale float64) []float64 {
	out := make([]float64, len(curve))
	for i, v := range curve {
		out[i] = v / scale
	}
	return out
}

// ConfidenceBand computes the delta-method band around point, the MTE curve
// evaluated at quantiles.
//
// The inverse Hessian is divided by the number of rows in frame. With x the
// covariate means followed by their negation and g the trailing distribution
// parameters, the margin at quantile q is
//
//	sqrt(x'·T·x + g'·D·g·Φ⁻¹(q)²) / Scale
//
// where T and D are the leading and trailing blocks of the scaled covariance.
// The band is point ± Φ⁻¹(Level)·margin.
func ConfidenceBand(res *EstimationResult, f *dataset.Frame, point, quantiles []float64, cfg Config) (*Band, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	if err := ValidateQuantiles(quantiles); err != nil {
		return nil, err
	}
	if len(point) != len(quantiles) {
		return nil, fmt.Errorf("%d point values for %d quantiles: %w", len(point), len(quantiles), ErrDimensionMismatch)
	}
	if res == nil || res.HessInv == nil {
		return nil, fmt.Errorf("estimation result has no inverse hessian: %w", ErrDimensionMismatch)
	}

	p := len(res.Params)
	r, c := res.HessInv.Dims()
	if r != c || r != p {
		return nil, fmt.Errorf("inverse hessian is %dx%d for %d parameters: %w", r, c, p, ErrDimensionMismatch)
	}
	t, d := cfg.TreatmentBlock, cfg.DistributionBlock
	if t > p || d > p {
		return nil, fmt.Errorf("blocks %d and %d exceed %d parameters: %w", t, d, p, ErrDimensionMismatch)
	}

	n := f.Len()
	if n == 0 {
		return nil, dataset.ErrEmpty
	}
	means, err := covariateMeans(f, cfg.Covariates)
	if err != nil {
		return nil, err
	}

	var cov mat.Dense
	cov.Scale(1/float64(n), res.HessInv)

	x := mat.NewVecDense(t, nil)
	for i, m := range means {
		x.SetVec(i, m)
		x.SetVec(i+len(means), -m)
	}
	g := mat.NewVecDense(d, append([]float64(nil), res.Params[p-d:]...))

	part1 := mat.Inner(x, cov.Slice(0, t, 0, t), x)
	part2 := mat.Inner(g, cov.Slice(p-d, p, p-d, p), g)
	crit := distuv.UnitNormal.Quantile(cfg.Level)

	band := &Band{
		Quantiles: append([]float64(nil), quantiles...),
		Point:     append([]float64(nil), point...),
		Lower:     make([]float64, len(quantiles)),
		Upper:     make([]float64, len(quantiles)),
		Part1:     part1,
		Part2:     part2,
		Critical:  crit,
	}
	for i, q := range quantiles {
		z := distuv.UnitNormal.Quantile(q)
		v := part1 + part2*z*z
		if v < 0 {
			return nil, fmt.Errorf("quantile %v: variance %v: %w", q, v, ErrNegativeVariance)
		}
		margin := math.Sqrt(v) / cfg.Scale
		band.Upper[i] = point[i] + crit*margin
		band.Lower[i] = point[i] - crit*margin
	}
	return band, nil
}

// covariateMeans averages each column over its non-missing rows.
func covariateMeans(f *dataset.Frame, cols []string) ([]float64, error) {
	out := make([]float64, len(cols))
	for i, col := range cols {
		present, err := f.DropMissing(col)
		if err != nil {
			return nil, err
		}
		m, err := present.Means([]string{col})
		if err != nil {
			return nil, fmt.Errorf("covariate %q: %w", col, err)
		}
		out[i] = m[0]
	}
	return out, nil
}
