package events

import (
	"errors"
	"math"
	"testing"

	"github.com/neutron-data/powder.report/internal/units"
)

func mustTable(t *testing.T, tvals []float64, pix []int64, w []float64) *Table {
	t.Helper()
	tab, err := NewTable(units.NewColumn(tvals, units.Microsecond), pix, w)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tab
}

func TestNewTableLengthChecks(t *testing.T) {
	_, err := NewTable(units.NewColumn([]float64{1, 2}, units.Microsecond), []int64{1}, nil)
	if err == nil {
		t.Fatal("expected error for mismatched pixel_id length")
	}
}

func TestDefaultWeightsAreOne(t *testing.T) {
	tab := mustTable(t, []float64{1, 2, 3}, []int64{0, 0, 1}, nil)
	for i, w := range tab.Weight {
		if w != 1 {
			t.Errorf("Weight[%d] = %v, want 1", i, w)
		}
	}
}

func TestMissingCoord(t *testing.T) {
	tab := mustTable(t, []float64{1}, []int64{0}, nil)
	_, err := tab.Coord("tof")
	if !errors.Is(err, ErrMissingCoord) {
		t.Errorf("Coord error = %v, want ErrMissingCoord", err)
	}
}

func TestEffectiveWeightsCombineMasks(t *testing.T) {
	tab := mustTable(t, []float64{1, 2, 3, 4}, []int64{0, 0, 0, 0}, []float64{1, 2, 3, 4})
	if err := tab.SetMask("a", []bool{true, false, false, false}); err != nil {
		t.Fatal(err)
	}
	if err := tab.SetMask("b", []bool{false, false, true, false}); err != nil {
		t.Fatal(err)
	}
	got := tab.EffectiveWeights()
	want := []float64{0, 2, 0, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("EffectiveWeights[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if !tab.Excluded(0) || tab.Excluded(1) {
		t.Error("Excluded does not reflect masks")
	}
}

func TestBinByCoordGroupsAndPreservesCoords(t *testing.T) {
	tab := mustTable(t, []float64{10, 20, 30, 40, 50}, []int64{0, 1, 2, 3, 4}, nil)
	d := units.NewColumn([]float64{0.5, 2.5, 1.5, 2.6, math.NaN()}, units.Angstrom)
	if err := tab.SetCoord("coarse_d", d); err != nil {
		t.Fatal(err)
	}
	theta := units.NewColumn([]float64{1, 2, 3, 4, 5}, units.Radian)
	if err := tab.SetCoord("two_theta", theta); err != nil {
		t.Fatal(err)
	}

	edges := units.NewColumn([]float64{0, 1, 2, 3}, units.Angstrom)
	b, err := BinByCoord(tab, "coarse_d", edges)
	if err != nil {
		t.Fatalf("BinByCoord: %v", err)
	}

	if len(b.Groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(b.Groups))
	}
	// NaN event is dropped; the rest distribute as 1/1/2.
	if b.Len() != 4 {
		t.Fatalf("binned arena has %d events, want 4", b.Len())
	}
	wantCounts := []int{1, 1, 2}
	for g, r := range b.Groups {
		if r.Len() != wantCounts[g] {
			t.Errorf("group %d count = %d, want %d", g, r.Len(), wantCounts[g])
		}
	}

	// two_theta must follow each event through the permutation.
	tt, err := b.Coord("two_theta")
	if err != nil {
		t.Fatalf("two_theta lost in rebinning: %v", err)
	}
	for i := 0; i < b.Len(); i++ {
		if tt.Values[i] != float64(b.PixelID[i]+1) {
			t.Errorf("event %d: two_theta %v does not match pixel %d", i, tt.Values[i], b.PixelID[i])
		}
	}
}

func TestBinByCoordRejectsBadEdges(t *testing.T) {
	tab := mustTable(t, []float64{1}, []int64{0}, nil)
	if err := tab.SetCoord("d", units.NewColumn([]float64{1}, units.Angstrom)); err != nil {
		t.Fatal(err)
	}
	_, err := BinByCoord(tab, "d", units.NewColumn([]float64{1, 1}, units.Angstrom))
	if err == nil {
		t.Error("expected error for non-increasing edges")
	}
}

func TestBinIndexBoundaries(t *testing.T) {
	edges := []float64{0, 1, 2}
	cases := []struct {
		v    float64
		want int
	}{
		{-0.1, -1}, {0, 0}, {0.5, 0}, {1, 1}, {1.9, 1}, {2, 1}, {2.1, -1},
	}
	for _, tc := range cases {
		if got := binIndex(edges, tc.v); got != tc.want {
			t.Errorf("binIndex(%v) = %d, want %d", tc.v, got, tc.want)
		}
	}
}

func TestBinByPixel(t *testing.T) {
	tab := mustTable(t, []float64{1, 2, 3, 4}, []int64{7, 3, 7, 3}, nil)
	b := BinByPixel(tab)
	if len(b.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(b.Groups))
	}
	if b.PixelID[0] != 3 || b.PixelID[2] != 7 {
		t.Errorf("pixel order = %v, want ascending by ID", b.PixelID)
	}
}

func TestGroupMask(t *testing.T) {
	tab := mustTable(t, []float64{1, 2}, []int64{0, 1}, nil)
	if err := tab.SetCoord("d", units.NewColumn([]float64{0.5, 1.5}, units.Angstrom)); err != nil {
		t.Fatal(err)
	}
	b, err := BinByCoord(tab, "d", units.NewColumn([]float64{0, 1, 2}, units.Angstrom))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetGroupMask("no_peak", []bool{true, false}); err != nil {
		t.Fatal(err)
	}
	if !b.GroupExcluded(0) || b.GroupExcluded(1) {
		t.Error("GroupExcluded does not reflect group mask")
	}
	if err := b.SetGroupMask("bad", []bool{true}); err == nil {
		t.Error("expected length error for short group mask")
	}
}
