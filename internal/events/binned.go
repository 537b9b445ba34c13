package events

import (
	"fmt"
	"math"
	"sort"

	"github.com/neutron-data/powder.report/internal/units"
)

// Range is a half-open [Start, End) slice of the arena belonging to one group.
type Range struct {
	Start int
	End   int
}

// Len returns the number of events in the range.
func (r Range) Len() int { return r.End - r.Start }

// Binned is an event table regrouped along a named axis. The underlying
// arena is permuted so each group is contiguous; Groups indexes into it.
// Edges, when non-nil, are the bin edges that produced the grouping
// (len(Edges) == len(Groups)+1).
type Binned struct {
	*Table
	Axis   string
	Groups []Range
	Edges  units.Column

	groupMasks map[string][]bool
}

// SetGroupMask attaches a per-group exclusion mask.
func (b *Binned) SetGroupMask(name string, m []bool) error {
	if len(m) != len(b.Groups) {
		return fmt.Errorf("events: group mask %q has %d elements, want %d", name, len(m), len(b.Groups))
	}
	b.groupMasks[name] = m
	return nil
}

// GroupMask returns a named per-group mask, or nil if not set.
func (b *Binned) GroupMask(name string) []bool { return b.groupMasks[name] }

// GroupExcluded reports whether group g is excluded by any group mask.
func (b *Binned) GroupExcluded(g int) bool {
	for _, m := range b.groupMasks {
		if m[g] {
			return true
		}
	}
	return false
}

// BinByCoord regroups events into bins of the named coordinate. Events whose
// coordinate falls outside the edges are left out of the result; all other
// per-event coordinates and masks follow their event through the permutation.
// Edges must be strictly increasing.
func BinByCoord(t *Table, name string, edges units.Column) (*Binned, error) {
	coord, err := t.Coord(name)
	if err != nil {
		return nil, err
	}
	coord, err = coord.To(edges.Unit)
	if err != nil {
		return nil, fmt.Errorf("events: binning %q: %w", name, err)
	}
	if len(edges.Values) < 2 {
		return nil, fmt.Errorf("events: binning %q needs at least 2 edges, got %d", name, len(edges.Values))
	}
	for i := 1; i < len(edges.Values); i++ {
		if edges.Values[i] <= edges.Values[i-1] {
			return nil, fmt.Errorf("events: bin edges for %q not strictly increasing at %d", name, i)
		}
	}

	nbins := len(edges.Values) - 1
	binOf := make([]int, t.Len())
	counts := make([]int, nbins)
	for i, v := range coord.Values {
		b := binIndex(edges.Values, v)
		binOf[i] = b
		if b >= 0 {
			counts[b]++
		}
	}

	groups := make([]Range, nbins)
	offset := 0
	for b := 0; b < nbins; b++ {
		groups[b] = Range{Start: offset, End: offset}
		offset += counts[b]
	}
	idx := make([]int, 0, offset)
	// Stable pass per bin keeps arena order inside each group.
	next := make([]int, nbins)
	for b := range next {
		next[b] = groups[b].Start
	}
	idx = idx[:offset]
	for i, b := range binOf {
		if b < 0 {
			continue
		}
		idx[next[b]] = i
		next[b]++
	}
	for b := range groups {
		groups[b].End = groups[b].Start + counts[b]
	}

	return &Binned{
		Table:      t.permuted(idx),
		Axis:       name,
		Groups:     groups,
		Edges:      edges,
		groupMasks: make(map[string][]bool),
	}, nil
}

// BinByPixel groups events by detector pixel. Pixel order is ascending ID.
func BinByPixel(t *Table) *Binned {
	order := make([]int, t.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return t.PixelID[order[a]] < t.PixelID[order[b]]
	})

	var groups []Range
	for i := 0; i < len(order); {
		j := i
		for j < len(order) && t.PixelID[order[j]] == t.PixelID[order[i]] {
			j++
		}
		groups = append(groups, Range{Start: i, End: j})
		i = j
	}

	return &Binned{
		Table:      t.permuted(order),
		Axis:       "pixel",
		Groups:     groups,
		groupMasks: make(map[string][]bool),
	}
}

// binIndex returns the bin b with edges[b] <= v < edges[b+1], or -1 when v
// is out of range. The last edge is inclusive so the axis maximum is kept.
func binIndex(edges []float64, v float64) int {
	if math.IsNaN(v) || v < edges[0] || v > edges[len(edges)-1] {
		return -1
	}
	if v == edges[len(edges)-1] {
		return len(edges) - 2
	}
	b := sort.SearchFloat64s(edges, v)
	if b < len(edges) && edges[b] == v {
		return b
	}
	return b - 1
}
