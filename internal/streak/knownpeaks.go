package streak

import (
	"fmt"
	"math"
	"sort"

	"github.com/neutron-data/powder.report/internal/beamline"
	"github.com/neutron-data/powder.report/internal/events"
	"github.com/neutron-data/powder.report/internal/units"
)

// KnownPeakParams describes the reference-structure peak list and the chopper
// timing needed to unwrap aliased arrival times.
type KnownPeakParams struct {
	// DHKL lists expected d-spacing peak positions in angstrom, ascending.
	DHKL []float64
	// PulseLength bounds the match window: an event is assigned to a
	// candidate d only when its folded time lies within half a pulse of
	// the candidate's expected arrival.
	PulseLength units.Scalar
	// ModPeriod is the chopper modulation repeat window.
	ModPeriod units.Scalar
	// Time0 is the wavelength-definition chopper delay.
	Time0 units.Scalar
}

// Validate checks the peak list ordering and the timing scalars.
func (p *KnownPeakParams) Validate() error {
	if len(p.DHKL) == 0 {
		return fmt.Errorf("streak: empty dhkl list")
	}
	if !sort.Float64sAreSorted(p.DHKL) {
		return fmt.Errorf("streak: dhkl list must be sorted ascending")
	}
	if p.PulseLength.Value <= 0 {
		return fmt.Errorf("streak: pulse length must be positive, got %v", p.PulseLength)
	}
	if p.ModPeriod.Value <= 0 {
		return fmt.Errorf("streak: modulation period must be positive, got %v", p.ModPeriod)
	}
	return nil
}

// ComputeD assigns each event the candidate d-spacing whose expected arrival
// time is closest, in the modulation-folded sense, to the observed time.
// Candidates are tried in list order and an earlier entry wins a tie. Events
// with no candidate within half a pulse length get NaN.
func ComputeD(t *events.Table, p KnownPeakParams) (units.Column, error) {
	if err := p.Validate(); err != nil {
		return units.Column{}, err
	}
	pulse, mod, time0, err := p.timing()
	if err != nil {
		return units.Column{}, err
	}
	c, err := tofPerD(t)
	if err != nil {
		return units.Column{}, err
	}
	tcol, err := t.T.To(units.Second)
	if err != nil {
		return units.Column{}, err
	}

	d := units.Column{Unit: units.Angstrom, Values: make([]float64, t.Len())}
	half := pulse / 2
	for i := range d.Values {
		off := tcol.Values[i] - time0
		best := math.Inf(1)
		d.Values[i] = math.NaN()
		for _, cand := range p.DHKL {
			dist := math.Abs(foldHalf(off-c.Values[i]*cand, mod))
			if dist < half && dist < best {
				best = dist
				d.Values[i] = cand
			}
		}
	}
	return d, nil
}

// TofFromDHKL unwraps the aliased arrival time into an absolute time-of-flight
// using a resolved per-event d-spacing: the expected arrival const*d picks the
// modulation cycle, and tof is the observed time minus that cycle's start.
// Events with NaN d keep NaN tof.
func TofFromDHKL(t *events.Table, d units.Column, p KnownPeakParams) (units.Column, error) {
	if err := d.CheckLen("dspacing", t.Len()); err != nil {
		return units.Column{}, err
	}
	dAng, err := d.To(units.Angstrom)
	if err != nil {
		return units.Column{}, err
	}
	_, mod, time0, err := p.timing()
	if err != nil {
		return units.Column{}, err
	}
	c, err := tofPerD(t)
	if err != nil {
		return units.Column{}, err
	}
	tcol, err := t.T.To(units.Second)
	if err != nil {
		return units.Column{}, err
	}

	tof := units.Column{Unit: units.Second, Values: make([]float64, t.Len())}
	for i := range tof.Values {
		tref := c.Values[i] * dAng.Values[i]
		dt := math.Floor((tcol.Values[i]-time0-tref)/mod+0.5)*mod + time0
		tof.Values[i] = tcol.Values[i] - dt // NaN d propagates
	}
	return tof, nil
}

func (p *KnownPeakParams) timing() (pulse, mod, time0 float64, err error) {
	pl, err := p.PulseLength.To(units.Second)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("streak: pulse length: %w", err)
	}
	mp, err := p.ModPeriod.To(units.Second)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("streak: modulation period: %w", err)
	}
	t0, err := p.Time0.To(units.Second)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("streak: time0: %w", err)
	}
	return pl.Value, mp.Value, t0.Value, nil
}

// tofPerD returns the per-event factor mapping d-spacing in angstrom to
// time-of-flight in seconds: 2 * Ltotal * sin(two_theta/2) * m_n/h.
func tofPerD(t *events.Table) (units.Column, error) {
	x, err := sinThetaL(t)
	if err != nil {
		return units.Column{}, err
	}
	c := units.Column{Unit: units.Second.Div(units.Angstrom), Values: make([]float64, len(x.Values))}
	const angstrom = 1e-10
	for i, v := range x.Values {
		c.Values[i] = 2 * v * angstrom / beamline.PlanckOverNeutronMass
	}
	return c, nil
}

// foldHalf maps v into [-mod/2, mod/2).
func foldHalf(v, mod float64) float64 {
	return v - math.Floor(v/mod+0.5)*mod
}
