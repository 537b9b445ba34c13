package calib

import (
	"fmt"
	"math"
	"sort"

	"github.com/neutron-data/powder.report/internal/beamline"
	"github.com/neutron-data/powder.report/internal/events"
	"github.com/neutron-data/powder.report/internal/units"
)

// OutputCalibration maps d-spacing powers p to coefficients c so that
// tof = sum over (p, c) of c*d^p. Only one value is stored per power;
// individual pixels are merged into average quantities.
type OutputCalibration struct {
	coeffs map[int]units.Scalar
}

// NewOutputCalibration copies the coefficient mapping.
func NewOutputCalibration(coeffs map[int]units.Scalar) *OutputCalibration {
	m := make(map[int]units.Scalar, len(coeffs))
	for p, c := range coeffs {
		m[p] = c
	}
	return &OutputCalibration{coeffs: m}
}

// Coefficient returns the coefficient for power p.
func (o *OutputCalibration) Coefficient(p int) (units.Scalar, bool) {
	c, ok := o.coeffs[p]
	return c, ok
}

// Powers returns the stored powers in ascending order.
func (o *OutputCalibration) Powers() []int {
	ps := make([]int, 0, len(o.coeffs))
	for p := range o.coeffs {
		ps = append(ps, p)
	}
	sort.Ints(ps)
	return ps
}

// DToTof converts d-spacing back to time-of-flight in microseconds. Only a
// pure power-1 (DIFC) calibration supports the inverse direction.
func (o *OutputCalibration) DToTof(d units.Column) (units.Column, error) {
	if len(o.coeffs) != 1 {
		return units.Column{}, fmt.Errorf("calib: d to tof needs a DIFC-only calibration, have powers %v", o.Powers())
	}
	difc, ok := o.coeffs[1]
	if !ok {
		return units.Column{}, fmt.Errorf("calib: d to tof needs a DIFC-only calibration, have powers %v", o.Powers())
	}
	difc, err := difc.To(UnitDIFC)
	if err != nil {
		return units.Column{}, err
	}
	dAng, err := d.To(units.Angstrom)
	if err != nil {
		return units.Column{}, err
	}
	tof := units.Column{Unit: units.Microsecond, Values: make([]float64, len(dAng.Values))}
	for i, v := range dAng.Values {
		tof.Values[i] = difc.Value * v
	}
	return tof, nil
}

// AssembleOutputCalibration derives a single average DIFC from the event
// table's geometry coordinates: difc = 2 * (m_n/h) * mean(Ltotal) *
// sin(mean(two_theta)/2). Pixels without events carry NaN geometry and are
// skipped by the mean.
func AssembleOutputCalibration(t *events.Table) (*OutputCalibration, error) {
	tt, err := t.Coord("two_theta")
	if err != nil {
		return nil, fmt.Errorf("calib: %w", err)
	}
	if tt, err = tt.To(units.Radian); err != nil {
		return nil, err
	}
	l, err := t.Coord("Ltotal")
	if err != nil {
		return nil, fmt.Errorf("calib: %w", err)
	}
	if l, err = l.To(units.Meter); err != nil {
		return nil, err
	}

	meanL := nanMean(l.Values)
	meanTT := nanMean(tt.Values)
	// s/m, converted to the conventional us/angstrom.
	perMeter := 2 * meanL * math.Sin(meanTT/2) / beamline.PlanckOverNeutronMass
	difc := units.Scalar{Value: perMeter * 1e-10 * 1e6, Unit: UnitDIFC}
	return NewOutputCalibration(map[int]units.Scalar{1: difc}), nil
}

func nanMean(v []float64) float64 {
	sum, n := 0.0, 0
	for _, x := range v {
		if math.IsNaN(x) {
			continue
		}
		sum += x
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
