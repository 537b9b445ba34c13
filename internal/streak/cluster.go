// Package streak recovers time-of-flight from aliased time-of-arrival data
// taken with a modulation chopper. Events are grouped into "streaks" (one
// modulation cycle each) via a coarse d-spacing histogram, then a robust
// line fit per streak recovers the effective pulse-emission time t0. When
// the expected peak positions are known from a reference crystal structure,
// the modular arithmetic can instead be unwrapped directly.
package streak

import (
	"fmt"
	"math"

	"github.com/neutron-data/powder.report/internal/events"
	"github.com/neutron-data/powder.report/internal/hist"
	"github.com/neutron-data/powder.report/internal/units"
)

// ClusterParams tunes streak detection on the coarse d-spacing histogram.
type ClusterParams struct {
	Bins           int // histogram bins over the observed coarse-d range
	BaselineWindow int // median-filter window for the peak baseline
	MinPeakSep     int // minimum separation between peaks, in bins
	MinValleySep   int // minimum separation between valleys, in bins
}

// DefaultClusterParams are the values tuned on BEER modulation data.
func DefaultClusterParams() ClusterParams {
	return ClusterParams{
		Bins:           1000,
		BaselineWindow: 99,
		MinPeakSep:     3,
		MinValleySep:   3,
	}
}

// ClusterByStreak regroups events along a new "streak" axis. Boundaries are
// valleys of the coarse-d histogram that separate detected peaks; streak
// groups that do not contain exactly one peak are masked no_peak rather
// than removed. Per-event geometry coordinates survive the regrouping.
//
// The table must carry a coarse_d coordinate (see beamline.StandardGraph).
func ClusterByStreak(t *events.Table, p ClusterParams) (*events.Binned, error) {
	coarse, err := t.Coord("coarse_d")
	if err != nil {
		return nil, err
	}

	h, err := hist.FromColumn(coarse, t.EffectiveWeights(), p.Bins)
	if err != nil {
		return nil, fmt.Errorf("streak: coarse-d histogram: %w", err)
	}

	baseline := h.MedianFiltered(p.BaselineWindow)
	peakIdx := h.Peaks(p.MinPeakSep, baseline)
	valleyIdx := h.Valleys(p.MinValleySep, h.Max()/2)

	centers := h.Centers()
	peaks := make([]float64, len(peakIdx))
	for i, pi := range peakIdx {
		peaks[i] = centers[pi]
	}
	valleys := make([]float64, len(valleyIdx))
	for i, vi := range valleyIdx {
		valleys[i] = centers[vi]
	}

	// Keep a valley only when at least one adjacent interval holds a peak;
	// this suppresses spurious boundaries inside a single physical streak.
	kept := filterValleys(valleys, peaks)

	// The outer histogram edges always bound the first and last streak, so
	// a table with no usable valleys still yields a single whole-range
	// interval. With no peaks it comes out masked no_peak.
	lo, hi := h.Edges.Values[0], h.Edges.Values[len(h.Edges.Values)-1]
	kept = boundInterior(kept, lo, hi)

	edges := units.NewColumn(kept, h.Edges.Unit)
	b, err := events.BinByCoord(t, "coarse_d", edges)
	if err != nil {
		return nil, fmt.Errorf("streak: binning by streak: %w", err)
	}
	b.Axis = "streak"
	b.DropCoord("coarse_d")

	noPeak := make([]bool, len(b.Groups))
	for g := range b.Groups {
		lo, hi := edges.Values[g], edges.Values[g+1]
		if countInRange(peaks, lo, hi) != 1 {
			noPeak[g] = true
		}
	}
	if err := b.SetGroupMask("no_peak", noPeak); err != nil {
		return nil, err
	}
	return b, nil
}

// filterValleys keeps valleys that have at least one detected peak in an
// adjacent inter-valley interval.
func filterValleys(valleys, peaks []float64) []float64 {
	if len(valleys) < 2 {
		return append([]float64(nil), valleys...)
	}
	hasPeak := make([]bool, len(valleys)-1)
	for i := range hasPeak {
		hasPeak[i] = countInRange(peaks, valleys[i], valleys[i+1]) > 0
	}
	var kept []float64
	for i, v := range valleys {
		left := i > 0 && hasPeak[i-1]
		right := i < len(hasPeak) && hasPeak[i]
		if left || right {
			kept = append(kept, v)
		}
	}
	return kept
}

// boundInterior flanks interior boundaries with the outer range limits,
// dropping interior values that fall on or outside the limits.
func boundInterior(interior []float64, lo, hi float64) []float64 {
	out := []float64{lo}
	for _, v := range interior {
		if v > lo && v < hi {
			out = append(out, v)
		}
	}
	return append(out, hi)
}

// countInRange counts peak positions in [lo, hi).
func countInRange(peaks []float64, lo, hi float64) int {
	n := 0
	for _, p := range peaks {
		if p >= lo && p < hi {
			n++
		}
	}
	return n
}

// sinThetaL computes x = sin(two_theta/2) * Ltotal per event, the geometry
// coefficient multiplying inverse neutron speed in the streak line model.
func sinThetaL(t *events.Table) (units.Column, error) {
	tt, err := t.Coord("two_theta")
	if err != nil {
		return units.Column{}, err
	}
	tt, err = tt.To(units.Radian)
	if err != nil {
		return units.Column{}, err
	}
	l, err := t.Coord("Ltotal")
	if err != nil {
		return units.Column{}, err
	}
	l, err = l.To(units.Meter)
	if err != nil {
		return units.Column{}, err
	}
	out := units.Column{Unit: units.Meter, Values: make([]float64, t.Len())}
	for i := range out.Values {
		out.Values[i] = math.Sin(tt.Values[i]/2) * l.Values[i]
	}
	return out, nil
}
