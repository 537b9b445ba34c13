// Package events holds detected neutron events as a flat columnar arena with
// non-destructive grouping and masking. Groups are (start, end) ranges into
// the arena rather than per-group allocations, and exclusion criteria are
// parallel boolean masks so overlapping cuts stay independently auditable.
package events

import (
	"errors"
	"fmt"

	"github.com/neutron-data/powder.report/internal/units"
)

// ErrMissingCoord is returned when a named coordinate is not present.
var ErrMissingCoord = errors.New("events: missing coordinate")

// Table is the flat event arena. T, PixelID and Weight are parallel; extra
// per-event coordinates and masks are parallel named columns.
type Table struct {
	T       units.Column // time-of-arrival offset
	PixelID []int64
	Weight  []float64

	coords map[string]units.Column
	masks  map[string][]bool
}

// NewTable builds an event table and validates column lengths.
func NewTable(t units.Column, pixelID []int64, weight []float64) (*Table, error) {
	n := t.Len()
	if len(pixelID) != n {
		return nil, fmt.Errorf("events: pixel_id has %d elements, want %d", len(pixelID), n)
	}
	if weight == nil {
		weight = make([]float64, n)
		for i := range weight {
			weight[i] = 1
		}
	}
	if len(weight) != n {
		return nil, fmt.Errorf("events: weight has %d elements, want %d", len(weight), n)
	}
	return &Table{
		T:       t,
		PixelID: pixelID,
		Weight:  weight,
		coords:  make(map[string]units.Column),
		masks:   make(map[string][]bool),
	}, nil
}

// Len returns the number of events in the arena.
func (t *Table) Len() int { return t.T.Len() }

// SetCoord attaches a per-event coordinate column.
func (t *Table) SetCoord(name string, c units.Column) error {
	if err := c.CheckLen(name, t.Len()); err != nil {
		return err
	}
	t.coords[name] = c
	return nil
}

// Coord returns a named coordinate or ErrMissingCoord.
func (t *Table) Coord(name string) (units.Column, error) {
	c, ok := t.coords[name]
	if !ok {
		return units.Column{}, fmt.Errorf("%w: %q", ErrMissingCoord, name)
	}
	return c, nil
}

// HasCoord reports whether the named coordinate is present.
func (t *Table) HasCoord(name string) bool {
	_, ok := t.coords[name]
	return ok
}

// DropCoord removes a coordinate if present.
func (t *Table) DropCoord(name string) { delete(t.coords, name) }

// CoordNames returns the names of all attached coordinates.
func (t *Table) CoordNames() []string {
	names := make([]string, 0, len(t.coords))
	for name := range t.coords {
		names = append(names, name)
	}
	return names
}

// SetMask attaches a per-event exclusion mask. Masked events stay in the
// arena; reductions skip them.
func (t *Table) SetMask(name string, m []bool) error {
	if len(m) != t.Len() {
		return fmt.Errorf("events: mask %q has %d elements, want %d", name, len(m), t.Len())
	}
	t.masks[name] = m
	return nil
}

// Mask returns a named mask, or nil if not set.
func (t *Table) Mask(name string) []bool { return t.masks[name] }

// MaskNames returns the names of all attached masks.
func (t *Table) MaskNames() []string {
	names := make([]string, 0, len(t.masks))
	for name := range t.masks {
		names = append(names, name)
	}
	return names
}

// Excluded reports whether event i is excluded by any mask.
func (t *Table) Excluded(i int) bool {
	for _, m := range t.masks {
		if m[i] {
			return true
		}
	}
	return false
}

// EffectiveWeights returns event weights with all masked events zeroed.
func (t *Table) EffectiveWeights() []float64 {
	w := append([]float64(nil), t.Weight...)
	for _, m := range t.masks {
		for i, bad := range m {
			if bad {
				w[i] = 0
			}
		}
	}
	return w
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		T:       t.T.Clone(),
		PixelID: append([]int64(nil), t.PixelID...),
		Weight:  append([]float64(nil), t.Weight...),
		coords:  make(map[string]units.Column, len(t.coords)),
		masks:   make(map[string][]bool, len(t.masks)),
	}
	for name, c := range t.coords {
		out.coords[name] = c.Clone()
	}
	for name, m := range t.masks {
		out.masks[name] = append([]bool(nil), m...)
	}
	return out
}

// permuted applies an index selection to every parallel column, producing a
// new arena with events in the given order.
func (t *Table) permuted(idx []int) *Table {
	out := &Table{
		T:       units.Column{Unit: t.T.Unit, Values: make([]float64, len(idx))},
		PixelID: make([]int64, len(idx)),
		Weight:  make([]float64, len(idx)),
		coords:  make(map[string]units.Column, len(t.coords)),
		masks:   make(map[string][]bool, len(t.masks)),
	}
	if t.T.Variances != nil {
		out.T.Variances = make([]float64, len(idx))
	}
	for j, i := range idx {
		out.T.Values[j] = t.T.Values[i]
		if out.T.Variances != nil {
			out.T.Variances[j] = t.T.Variances[i]
		}
		out.PixelID[j] = t.PixelID[i]
		out.Weight[j] = t.Weight[i]
	}
	for name, c := range t.coords {
		nc := units.Column{Unit: c.Unit, Values: make([]float64, len(idx))}
		if c.Variances != nil {
			nc.Variances = make([]float64, len(idx))
		}
		for j, i := range idx {
			nc.Values[j] = c.Values[i]
			if nc.Variances != nil {
				nc.Variances[j] = c.Variances[i]
			}
		}
		out.coords[name] = nc
	}
	for name, m := range t.masks {
		nm := make([]bool, len(idx))
		for j, i := range idx {
			nm[j] = m[i]
		}
		out.masks[name] = nm
	}
	return out
}
