// Package hist implements histograms over physical axes together with the
// order-statistics filtering and peak/valley detection used by streak
// clustering. Peak detection follows local-maximum semantics with a minimum
// separation and a per-bin height threshold, so it stays robust under
// varying count density instead of relying on a fixed global threshold.
package hist

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/neutron-data/powder.report/internal/units"
)

// Histogram is an ordered sequence of bin edges with aggregated weights.
// Invariant: len(Edges.Values) == len(Weights)+1, edges strictly increasing.
type Histogram struct {
	Edges     units.Column
	Weights   []float64
	Variances []float64
}

// New validates the edge/weight invariant and constructs a histogram.
func New(edges units.Column, weights []float64) (*Histogram, error) {
	if len(edges.Values) != len(weights)+1 {
		return nil, fmt.Errorf("hist: %d edges for %d weights, want weights+1", len(edges.Values), len(weights))
	}
	for i := 1; i < len(edges.Values); i++ {
		if edges.Values[i] <= edges.Values[i-1] {
			return nil, fmt.Errorf("hist: edges not strictly increasing at %d", i)
		}
	}
	return &Histogram{Edges: edges, Weights: weights}, nil
}

// FromColumn histograms weighted values into n equal-width bins spanning the
// observed finite range. NaN values are skipped. When the column has no
// finite values, or all values coincide, the result has n zero-weight bins
// over a unit span so downstream peak detection finds nothing.
func FromColumn(col units.Column, weights []float64, n int) (*Histogram, error) {
	if n < 1 {
		return nil, fmt.Errorf("hist: need at least 1 bin, got %d", n)
	}
	if weights != nil && len(weights) != len(col.Values) {
		return nil, fmt.Errorf("hist: %d weights for %d values", len(weights), len(col.Values))
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range col.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi || lo == hi {
		if lo == hi {
			hi = lo + 1
		} else {
			lo, hi = 0, 1
		}
	}

	edges := make([]float64, n+1)
	width := (hi - lo) / float64(n)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	edges[n] = hi // avoid rounding the top edge below the maximum

	h := &Histogram{
		Edges:     units.NewColumn(edges, col.Unit),
		Weights:   make([]float64, n),
		Variances: make([]float64, n),
	}
	for i, v := range col.Values {
		if math.IsNaN(v) || v < lo || v > hi {
			continue
		}
		b := int((v - lo) / width)
		if b >= n {
			b = n - 1
		}
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		if math.IsNaN(w) {
			continue
		}
		h.Weights[b] += w
		h.Variances[b] += w * w
	}
	return h, nil
}

// Fill histograms weighted values into caller-provided edges. Values are
// converted to the edge unit first. NaN values and NaN weights are skipped,
// as are values outside the edge range; the last edge is inclusive.
func Fill(edges units.Column, col units.Column, weights []float64) (*Histogram, error) {
	h, err := New(edges, make([]float64, len(edges.Values)-1))
	if err != nil {
		return nil, err
	}
	h.Variances = make([]float64, h.Len())
	col, err = col.To(edges.Unit)
	if err != nil {
		return nil, err
	}
	if weights != nil && len(weights) != len(col.Values) {
		return nil, fmt.Errorf("hist: %d weights for %d values", len(weights), len(col.Values))
	}
	ev := edges.Values
	for i, v := range col.Values {
		if math.IsNaN(v) || v < ev[0] || v > ev[len(ev)-1] {
			continue
		}
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		if math.IsNaN(w) {
			continue
		}
		b := sort.Search(len(ev), func(j int) bool { return ev[j] > v }) - 1
		if b > h.Len()-1 {
			b = h.Len() - 1
		}
		h.Weights[b] += w
		h.Variances[b] += w * w
	}
	return h, nil
}

// Len returns the number of bins.
func (h *Histogram) Len() int { return len(h.Weights) }

// Centers returns bin midpoints in the edge unit.
func (h *Histogram) Centers() []float64 {
	c := make([]float64, h.Len())
	for i := range c {
		c[i] = 0.5 * (h.Edges.Values[i] + h.Edges.Values[i+1])
	}
	return c
}

// Sum returns the total weight across all bins.
func (h *Histogram) Sum() float64 {
	s := 0.0
	for _, w := range h.Weights {
		s += w
	}
	return s
}

// Max returns the largest bin weight, or 0 for an empty histogram.
func (h *Histogram) Max() float64 {
	m := 0.0
	for _, w := range h.Weights {
		m = math.Max(m, w)
	}
	return m
}

// MedianFiltered returns a running-median baseline of the bin weights with
// the given odd window. The window shrinks symmetrically at the ends.
func (h *Histogram) MedianFiltered(window int) []float64 {
	if window < 1 || window%2 == 0 {
		window = window + 1
	}
	half := window / 2
	out := make([]float64, h.Len())
	buf := make([]float64, 0, window)
	for i := range out {
		lo := i - half
		hi := i + half
		if lo < 0 {
			hi += lo // keep the window symmetric near the edges
			lo = 0
		}
		if hi > h.Len()-1 {
			lo += hi - (h.Len() - 1)
			if lo < 0 {
				lo = 0
			}
			hi = h.Len() - 1
		}
		buf = append(buf[:0], h.Weights[lo:hi+1]...)
		sort.Float64s(buf)
		out[i] = stat.Quantile(0.5, stat.Empirical, buf, nil)
	}
	return out
}

// Peaks returns indices of local maxima that exceed the per-bin baseline
// and are separated by at least minDistance bins. When several candidates
// fall within minDistance of each other, the highest wins.
func (h *Histogram) Peaks(minDistance int, baseline []float64) []int {
	return findPeaks(h.Weights, minDistance, func(i int) bool {
		if baseline == nil {
			return true
		}
		return h.Weights[i] > baseline[i]
	})
}

// Valleys returns indices of local minima of the histogram whose depth below
// the global maximum exceeds minDepth, separated by at least minDistance
// bins. This keeps only real gaps between streaks, not statistical dips.
func (h *Histogram) Valleys(minDistance int, minDepth float64) []int {
	max := h.Max()
	neg := make([]float64, h.Len())
	for i, w := range h.Weights {
		neg[i] = max - w
	}
	return findPeaks(neg, minDistance, func(i int) bool {
		return neg[i] > minDepth
	})
}

// findPeaks locates strict local maxima of values (plateaus resolve to the
// plateau midpoint), filters by keep, then enforces the minimum separation
// greedily from the highest candidate down.
func findPeaks(values []float64, minDistance int, keep func(int) bool) []int {
	var candidates []int
	n := len(values)
	for i := 1; i < n-1; {
		if values[i] <= values[i-1] {
			i++
			continue
		}
		// Scan over a possible plateau.
		j := i
		for j < n-1 && values[j+1] == values[i] {
			j++
		}
		if j < n-1 && values[j+1] < values[i] {
			mid := (i + j) / 2
			if keep(mid) {
				candidates = append(candidates, mid)
			}
			i = j + 1
			continue
		}
		i = j + 1
	}
	if minDistance <= 1 || len(candidates) < 2 {
		return candidates
	}

	// Priority pass: highest peaks claim their neighborhood first.
	order := append([]int(nil), candidates...)
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})
	removed := make(map[int]bool, len(candidates))
	for _, p := range order {
		if removed[p] {
			continue
		}
		for _, q := range candidates {
			if q == p || removed[q] {
				continue
			}
			if abs(q-p) < minDistance {
				removed[q] = true
			}
		}
	}
	out := candidates[:0]
	for _, p := range candidates {
		if !removed[p] {
			out = append(out, p)
		}
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
