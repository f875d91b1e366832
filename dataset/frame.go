// Package dataset holds the column-oriented table the analyses run on.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrUnknownColumn   = errors.New("unknown column")
	ErrDuplicateColumn = errors.New("duplicate column")
	ErrColumnLength    = errors.New("column length mismatch")
	ErrEmpty           = errors.New("empty dataset")
)

// Frame is a table of named float64 columns of equal length.
// Missing values are stored as NaN.
type Frame struct {
	names []string
	cols  map[string][]float64
	n     int
}

// New builds a Frame from parallel name and column slices. Columns are copied.
func New(names []string, cols [][]float64) (*Frame, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("%d names for %d columns: %w", len(names), len(cols), ErrColumnLength)
	}

	f := &Frame{cols: make(map[string][]float64, len(names))}
	for i, name := range names {
		if err := f.AddColumn(name, cols[i]); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int { return f.n }

// Names returns the column names in insertion order.
func (f *Frame) Names() []string { return append([]string(nil), f.names...) }

// Has reports whether a column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Column returns the values of a column. The slice is shared with the frame.
func (f *Frame) Column(name string) ([]float64, error) {
	c, ok := f.cols[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownColumn)
	}
	return c, nil
}

// AddColumn appends a copy of vals under name.
func (f *Frame) AddColumn(name string, vals []float64) error {
	if _, ok := f.cols[name]; ok {
		return fmt.Errorf("%q: %w", name, ErrDuplicateColumn)
	}
	if len(f.names) == 0 {
		f.n = len(vals)
	}
	if len(vals) != f.n {
		return fmt.Errorf("column %q has %d rows, frame has %d: %w", name, len(vals), f.n, ErrColumnLength)
	}
	if f.cols == nil {
		f.cols = make(map[string][]float64)
	}
	f.names = append(f.names, name)
	f.cols[name] = append([]float64(nil), vals...)
	return nil
}

// Select returns a new frame holding only cols, in that order.
func (f *Frame) Select(cols ...string) (*Frame, error) {
	out := &Frame{cols: make(map[string][]float64, len(cols)), n: f.n}
	for _, name := range cols {
		if _, ok := out.cols[name]; ok {
			continue
		}
		c, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		out.names = append(out.names, name)
		out.cols[name] = append([]float64(nil), c...)
	}
	return out, nil
}

// Take returns a new frame holding the rows at idx, in that order.
// Indices may repeat.
func (f *Frame) Take(idx []int) *Frame {
	out := &Frame{
		names: f.Names(),
		cols:  make(map[string][]float64, len(f.names)),
		n:     len(idx),
	}
	for _, name := range f.names {
		src := f.cols[name]
		dst := make([]float64, len(idx))
		for i, j := range idx {
			dst[i] = src[j]
		}
		out.cols[name] = dst
	}
	return out
}

// Filter keeps the rows for which keep returns true, preserving order.
func (f *Frame) Filter(keep func(row int) bool) *Frame {
	idx := make([]int, 0, f.n)
	for i := 0; i < f.n; i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return f.Take(idx)
}

// Between keeps the rows with lo <= col <= hi.
func (f *Frame) Between(col string, lo, hi float64) (*Frame, error) {
	c, err := f.Column(col)
	if err != nil {
		return nil, err
	}
	return f.Filter(func(i int) bool { return c[i] >= lo && c[i] <= hi }), nil
}

// DropMissing removes every row with a NaN in any of cols.
func (f *Frame) DropMissing(cols ...string) (*Frame, error) {
	check := make([][]float64, len(cols))
	for i, name := range cols {
		c, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		check[i] = c
	}
	return f.Filter(func(row int) bool {
		for _, c := range check {
			if math.IsNaN(c[row]) {
				return false
			}
		}
		return true
	}), nil
}

// Matrix copies cols into a Len() x len(cols) dense matrix.
func (f *Frame) Matrix(cols []string) (*mat.Dense, error) {
	if f.n == 0 {
		return nil, ErrEmpty
	}
	src := make([][]float64, len(cols))
	for j, name := range cols {
		c, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		src[j] = c
	}

	data := make([]float64, f.n*len(cols))
	for i := 0; i < f.n; i++ {
		for j := range cols {
			data[i*len(cols)+j] = src[j][i]
		}
	}
	return mat.NewDense(f.n, len(cols), data), nil
}

// Means returns the sample mean of each column.
func (f *Frame) Means(cols []string) ([]float64, error) {
	if f.n == 0 {
		return nil, ErrEmpty
	}
	out := make([]float64, len(cols))
	for i, name := range cols {
		c, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		out[i] = stat.Mean(c, nil)
	}
	return out, nil
}

// Resample draws Len() rows uniformly with replacement.
func (f *Frame) Resample(rng *rand.Rand) *Frame {
	idx := make([]int, f.n)
	for i := range idx {
		idx[i] = rng.Intn(f.n)
	}
	return f.Take(idx)
}

// Group is one slice of a frame split by a key column.
type Group struct {
	Key   float64
	Frame *Frame
}

// SplitBy partitions the frame by the values of col. Groups are sorted by key;
// rows with a missing key are dropped.
func (f *Frame) SplitBy(col string) ([]Group, error) {
	c, err := f.Column(col)
	if err != nil {
		return nil, err
	}

	rows := make(map[float64][]int)
	for i, v := range c {
		if math.IsNaN(v) {
			continue
		}
		rows[v] = append(rows[v], i)
	}

	keys := make([]float64, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Float64s(keys)

	out := make([]Group, len(keys))
	for i, k := range keys {
		out[i] = Group{Key: k, Frame: f.Take(rows[k])}
	}
	return out, nil
}
