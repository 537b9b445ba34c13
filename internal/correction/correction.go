// Package correction implements the normalization and correction steps of
// powder reduction: proton-charge and monitor normalization, bad-pulse
// filtering, vanadium division and the Lorentz factor.
package correction

import (
	"fmt"
	"math"
	"sort"

	"github.com/neutron-data/powder.report/internal/events"
	"github.com/neutron-data/powder.report/internal/units"
)

// NormalizeByProtonCharge divides every event weight by the accumulated
// proton charge of the run, putting runs of different length on a common
// scale.
func NormalizeByProtonCharge(t *events.Table, charge units.Scalar) error {
	c, err := charge.To(units.MicroampHour)
	if err != nil {
		return fmt.Errorf("correction: proton charge: %w", err)
	}
	if c.Value <= 0 {
		return fmt.Errorf("correction: proton charge must be positive, got %v", charge)
	}
	for i := range t.Weight {
		t.Weight[i] /= c.Value
	}
	return nil
}

// PulseSeries is the per-pulse proton charge log of a run. Times are
// ascending.
type PulseSeries struct {
	Time   units.Column
	Charge units.Column
}

// MeanCharge returns the average pulse charge in the series' charge unit.
func (p *PulseSeries) MeanCharge() float64 {
	if len(p.Charge.Values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range p.Charge.Values {
		sum += v
	}
	return sum / float64(len(p.Charge.Values))
}

// RemoveBadPulses masks (not deletes) events recorded during pulses whose
// proton charge fell below mean * thresholdFactor. Events are matched to
// pulses through their pulse_time coordinate: each pulse owns the interval
// around its timestamp, bounded by midpoints to its neighbors.
func RemoveBadPulses(t *events.Table, pulses *PulseSeries, thresholdFactor float64) error {
	if len(pulses.Time.Values) == 0 {
		return fmt.Errorf("correction: empty pulse series")
	}
	if !sort.Float64sAreSorted(pulses.Time.Values) {
		return fmt.Errorf("correction: pulse times must be ascending")
	}
	pt, err := t.Coord("pulse_time")
	if err != nil {
		return fmt.Errorf("correction: %w", err)
	}
	f, err := units.Factor(pt.Unit, pulses.Time.Unit)
	if err != nil {
		return fmt.Errorf("correction: pulse_time: %w", err)
	}

	minCharge := pulses.MeanCharge() * thresholdFactor
	bad := make([]bool, len(pulses.Charge.Values))
	for i, c := range pulses.Charge.Values {
		bad[i] = c < minCharge
	}

	// Interval boundaries between consecutive pulses.
	times := pulses.Time.Values
	mids := make([]float64, len(times)-1)
	for i := range mids {
		mids[i] = 0.5 * (times[i] + times[i+1])
	}

	mask := make([]bool, t.Len())
	for i, v := range pt.Values {
		p := sort.SearchFloat64s(mids, v*f)
		mask[i] = bad[p]
	}
	return t.SetMask("bad_pulse", mask)
}

// LorentzCorrection scales each event weight by d^4 * sin(theta) with theta
// half the scattering angle, the time-of-flight Lorentz factor as defined by
// GSAS-II. Requires dspacing and two_theta coordinates.
func LorentzCorrection(t *events.Table) error {
	d, err := t.Coord("dspacing")
	if err != nil {
		return fmt.Errorf("correction: %w", err)
	}
	if d, err = d.To(units.Angstrom); err != nil {
		return fmt.Errorf("correction: dspacing: %w", err)
	}
	tt, err := t.Coord("two_theta")
	if err != nil {
		return fmt.Errorf("correction: %w", err)
	}
	if tt, err = tt.To(units.Radian); err != nil {
		return fmt.Errorf("correction: two_theta: %w", err)
	}
	for i := range t.Weight {
		d4 := d.Values[i] * d.Values[i] * d.Values[i] * d.Values[i]
		t.Weight[i] *= d4 * math.Sin(tt.Values[i]/2)
	}
	return nil
}

// MaskCoordLimits masks events whose coord value falls outside [lo, hi].
// The mask is named after the coordinate, so windows on different
// coordinates stack instead of overwriting each other.
func MaskCoordLimits(t *events.Table, coord string, lo, hi units.Scalar) error {
	h, err := hi.To(lo.Unit)
	if err != nil {
		return fmt.Errorf("correction: %s limit: %w", coord, err)
	}
	if lo.Value >= h.Value {
		return fmt.Errorf("correction: %s limits %v >= %v", coord, lo, hi)
	}
	c, err := t.Coord(coord)
	if err != nil {
		return fmt.Errorf("correction: %w", err)
	}
	if c, err = c.To(lo.Unit); err != nil {
		return fmt.Errorf("correction: %s: %w", coord, err)
	}
	mask := make([]bool, t.Len())
	for i, v := range c.Values {
		mask[i] = v < lo.Value || v > h.Value
	}
	return t.SetMask(coord, mask)
}

// MaskTwoThetaLimits masks events outside the valid scattering-angle window
// [lo, hi].
func MaskTwoThetaLimits(t *events.Table, lo, hi units.Scalar) error {
	l, err := lo.To(units.Radian)
	if err != nil {
		return fmt.Errorf("correction: two_theta limit: %w", err)
	}
	return MaskCoordLimits(t, "two_theta", l, hi)
}

// MaskPixels masks every event recorded by one of the listed detector
// pixels, under the given mask name. Faulty regions are masked rather
// than deleted, like every other exclusion in the pipeline.
func MaskPixels(t *events.Table, name string, pixels []int64) error {
	if name == "" {
		return fmt.Errorf("correction: pixel mask needs a name")
	}
	bad := make(map[int64]bool, len(pixels))
	for _, p := range pixels {
		bad[p] = true
	}
	mask := make([]bool, t.Len())
	for i, p := range t.PixelID {
		mask[i] = bad[p]
	}
	return t.SetMask(name, mask)
}
