package beamline

import (
	"fmt"
	"math"

	"github.com/neutron-data/powder.report/internal/tgraph"
	"github.com/neutron-data/powder.report/internal/units"
)

// StandardGraph builds the elastic coordinate transform graph for a mode:
//
//	wavelength = (h/m_n) * tof / Ltotal
//	dspacing   = wavelength / (2 sin(two_theta/2))
//	coarse_d   = (h/m_n) * (t - approximate_t0) / (2 Ltotal sin(two_theta/2))
//
// The coarse_d rule uses the mode's chopper delay as approximate_t0, the
// rough emission time valid before streak fitting recovers the true t0.
func StandardGraph(mode Mode) *tgraph.Graph {
	g := tgraph.New()

	g.Add("wavelength", []string{"tof", "Ltotal"}, func(in tgraph.Vars) (units.Column, error) {
		tof, err := in["tof"].To(units.Second)
		if err != nil {
			return units.Column{}, err
		}
		l, err := in["Ltotal"].To(units.Meter)
		if err != nil {
			return units.Column{}, err
		}
		if len(tof.Values) != len(l.Values) {
			return units.Column{}, fmt.Errorf("tof has %d elements, Ltotal %d", len(tof.Values), len(l.Values))
		}
		out := units.Column{Unit: units.Angstrom, Values: make([]float64, len(tof.Values))}
		for i := range out.Values {
			out.Values[i] = PlanckOverNeutronMass * tof.Values[i] / l.Values[i] / 1e-10
		}
		return out, nil
	})

	g.Add("dspacing", []string{"wavelength", "two_theta"}, func(in tgraph.Vars) (units.Column, error) {
		w, err := in["wavelength"].To(units.Angstrom)
		if err != nil {
			return units.Column{}, err
		}
		tt, err := in["two_theta"].To(units.Radian)
		if err != nil {
			return units.Column{}, err
		}
		out := units.Column{Unit: units.Angstrom, Values: make([]float64, len(w.Values))}
		for i := range out.Values {
			out.Values[i] = w.Values[i] / (2 * math.Sin(tt.Values[i]/2))
		}
		return out, nil
	})

	approxT0, _ := mode.ChopperDelay.To(units.Second)
	g.Add("coarse_d", []string{"t", "two_theta", "Ltotal"}, func(in tgraph.Vars) (units.Column, error) {
		tt, err := in["two_theta"].To(units.Radian)
		if err != nil {
			return units.Column{}, err
		}
		l, err := in["Ltotal"].To(units.Meter)
		if err != nil {
			return units.Column{}, err
		}
		tcol, err := in["t"].To(units.Second)
		if err != nil {
			return units.Column{}, err
		}
		out := units.Column{Unit: units.Angstrom, Values: make([]float64, len(tcol.Values))}
		for i := range out.Values {
			dt := tcol.Values[i] - approxT0.Value
			out.Values[i] = PlanckOverNeutronMass * dt / (2 * l.Values[i] * math.Sin(tt.Values[i]/2)) / 1e-10
		}
		return out, nil
	})

	return g
}
