package dataset

import (
	"math"
	"sort"
)

// AddSquares appends <col>sq = col^2 for each column.
func (f *Frame) AddSquares(cols ...string) error {
	for _, name := range cols {
		c, err := f.Column(name)
		if err != nil {
			return err
		}
		sq := make([]float64, len(c))
		for i, v := range c {
			sq[i] = v * v
		}
		if err := f.AddColumn(name+"sq", sq); err != nil {
			return err
		}
	}
	return nil
}

// AddInteractions appends <l><r> = l * r for every pair in left x right.
func (f *Frame) AddInteractions(left, right []string) error {
	for _, l := range left {
		lc, err := f.Column(l)
		if err != nil {
			return err
		}
		for _, r := range right {
			rc, err := f.Column(r)
			if err != nil {
				return err
			}
			prod := make([]float64, len(lc))
			for i := range lc {
				prod[i] = lc[i] * rc[i]
			}
			if err := f.AddColumn(l+r, prod); err != nil {
				return err
			}
		}
	}
	return nil
}

// BinCount is the number of rows falling in one bin.
type BinCount struct {
	Bin   float64
	Freq  int
	Const float64
}

// BinFrequency counts the rows per distinct value of col, sorted by bin.
// Missing bins are skipped.
func (f *Frame) BinFrequency(col string) ([]BinCount, error) {
	groups, err := f.SplitBy(col)
	if err != nil {
		return nil, err
	}
	out := make([]BinCount, len(groups))
	for i, g := range groups {
		out[i] = BinCount{Bin: g.Key, Freq: g.Frame.Len(), Const: 1}
	}
	return out, nil
}

// BinMean is the average outcome within one bin.
type BinMean struct {
	Bin  float64
	Mean float64
	N    int
}

// BinMeans averages outcome per distinct value of bin, ignoring missing
// outcomes. Bins with no observed outcome are left out.
func (f *Frame) BinMeans(bin, outcome string) ([]BinMean, error) {
	bc, err := f.Column(bin)
	if err != nil {
		return nil, err
	}
	oc, err := f.Column(outcome)
	if err != nil {
		return nil, err
	}

	sums := make(map[float64]float64)
	counts := make(map[float64]int)
	for i := range bc {
		if math.IsNaN(bc[i]) || math.IsNaN(oc[i]) {
			continue
		}
		sums[bc[i]] += oc[i]
		counts[bc[i]]++
	}

	out := make([]BinMean, 0, len(counts))
	for b, n := range counts {
		out = append(out, BinMean{Bin: b, Mean: sums[b] / float64(n), N: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bin < out[j].Bin })
	return out, nil
}
