// Package calib loads per-pixel diffraction calibration coefficients and
// converts time-of-flight to d-spacing through the quadratic calibration
// relation tof = DIFA*d^2 + DIFC*d + TZERO.
package calib

import (
	"errors"
	"fmt"
	"math"

	"github.com/neutron-data/powder.report/internal/events"
	"github.com/neutron-data/powder.report/internal/monitoring"
	"github.com/neutron-data/powder.report/internal/units"
)

// ErrSizeMismatch reports calibration data that does not line up with the
// target detector, pixel for pixel.
var ErrSizeMismatch = errors.New("calib: calibration size mismatch")

// Coefficient units as stored in calibration tables.
var (
	UnitDIFA  = units.Microsecond.Div(units.Angstrom.Pow(2))
	UnitDIFC  = units.Microsecond.Div(units.Angstrom)
	UnitTZero = units.Microsecond
)

// Table holds one calibration triple per detector pixel plus an exclusion
// mask. Read-only once loaded.
type Table struct {
	PixelID  []int64
	DIFA     units.Column
	DIFC     units.Column
	TZero    units.Column
	Excluded []bool

	index map[int64]int
}

// NewTable validates column lengths and units and indexes the pixels.
func NewTable(pixelID []int64, difa, difc, tzero units.Column, excluded []bool) (*Table, error) {
	n := len(pixelID)
	for _, c := range []struct {
		name string
		col  units.Column
		unit units.Unit
	}{
		{"difa", difa, UnitDIFA},
		{"difc", difc, UnitDIFC},
		{"tzero", tzero, UnitTZero},
	} {
		if err := c.col.CheckLen(c.name, n); err != nil {
			return nil, err
		}
		if !c.col.Unit.Compatible(c.unit) {
			return nil, fmt.Errorf("calib: %s has unit %s, want %s", c.name, c.col.Unit, c.unit)
		}
	}
	if len(excluded) != n {
		return nil, fmt.Errorf("calib: exclusion mask has %d entries for %d pixels", len(excluded), n)
	}
	index := make(map[int64]int, n)
	for i, id := range pixelID {
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("calib: duplicate pixel %d", id)
		}
		index[id] = i
	}
	return &Table{
		PixelID: pixelID, DIFA: difa, DIFC: difc, TZero: tzero,
		Excluded: excluded, index: index,
	}, nil
}

// Len returns the number of calibrated pixels.
func (c *Table) Len() int { return len(c.PixelID) }

// Merge broadcasts the calibration onto the event table as per-event difa,
// difc and tzero coordinates and a "calibration" event mask. Every event
// pixel must be calibrated, and none of the names may already be present.
func (c *Table) Merge(t *events.Table) error {
	for _, name := range []string{"difa", "difc", "tzero"} {
		if t.HasCoord(name) {
			return fmt.Errorf("calib: data already has a %q coordinate", name)
		}
	}
	if t.Mask("calibration") != nil {
		return fmt.Errorf("calib: data already has a %q mask", "calibration")
	}

	n := t.Len()
	difa := units.Column{Unit: c.DIFA.Unit, Values: make([]float64, n)}
	difc := units.Column{Unit: c.DIFC.Unit, Values: make([]float64, n)}
	tzero := units.Column{Unit: c.TZero.Unit, Values: make([]float64, n)}
	mask := make([]bool, n)
	for i, id := range t.PixelID {
		j, ok := c.index[id]
		if !ok {
			return fmt.Errorf("%w: pixel %d has no calibration (%d calibrated pixels)", ErrSizeMismatch, id, c.Len())
		}
		difa.Values[i] = c.DIFA.Values[j]
		difc.Values[i] = c.DIFC.Values[j]
		tzero.Values[i] = c.TZero.Values[j]
		mask[i] = c.Excluded[j]
	}
	if err := t.SetCoord("difa", difa); err != nil {
		return err
	}
	if err := t.SetCoord("difc", difc); err != nil {
		return err
	}
	if err := t.SetCoord("tzero", tzero); err != nil {
		return err
	}
	return t.SetMask("calibration", mask)
}

// RestoreTof drops a stale wavelength coordinate in favor of the stored
// time-of-flight. Wavelength is always derived from tof, so any edits made
// to it after the fact cannot be mapped back and are discarded with a
// logged notice. Fails when no tof coordinate is stored.
func RestoreTof(t *events.Table) (units.Column, error) {
	if t.HasCoord("wavelength") {
		t.DropCoord("wavelength")
		monitoring.Logf("calib: discarded coordinate 'wavelength' in favor of 'tof'")
	}
	tof, err := t.Coord("tof")
	if err != nil {
		return units.Column{}, fmt.Errorf("calib: no stored time-of-flight: %w", err)
	}
	return tof, nil
}

// DspacingFromCalibration solves tof = DIFA*d^2 + DIFC*d + TZERO for the
// positive root of each event. The quadratic branch uses the form
//
//	d = (sqrt((x - t0 + tof)/x) - 1) * DIFC/(2*DIFA),  x = DIFC^2/(4*DIFA)
//
// which stays stable for small DIFA. Pixels with DIFA exactly zero take the
// linear solution; the branch is per event, so mixed tables are handled
// correctly. A stale wavelength coordinate is discarded first. The result
// is attached as a "dspacing" coordinate and returned.
func DspacingFromCalibration(t *events.Table) (units.Column, error) {
	tof, err := RestoreTof(t)
	if err != nil {
		return units.Column{}, err
	}
	tof, err = tof.To(units.Microsecond)
	if err != nil {
		return units.Column{}, err
	}
	coeff := make([]units.Column, 3)
	for i, c := range []struct {
		name string
		unit units.Unit
	}{{"difa", UnitDIFA}, {"difc", UnitDIFC}, {"tzero", UnitTZero}} {
		col, err := t.Coord(c.name)
		if err != nil {
			return units.Column{}, fmt.Errorf("calib: %w", err)
		}
		if coeff[i], err = col.To(c.unit); err != nil {
			return units.Column{}, fmt.Errorf("calib: %s: %w", c.name, err)
		}
	}
	difa, difc, tzero := coeff[0], coeff[1], coeff[2]

	d := units.Column{Unit: units.Angstrom, Values: make([]float64, t.Len())}
	for i := range d.Values {
		a, c, t0 := difa.Values[i], difc.Values[i], tzero.Values[i]
		if a == 0 {
			d.Values[i] = (tof.Values[i] - t0) / c
			continue
		}
		x := c * c / (4 * a)
		d.Values[i] = (math.Sqrt((x-t0+tof.Values[i])/x) - 1) * c / (2 * a)
	}
	if err := t.SetCoord("dspacing", d); err != nil {
		return units.Column{}, err
	}
	return d, nil
}
