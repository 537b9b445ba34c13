package beamline

import (
	"fmt"
	"math"

	"github.com/neutron-data/powder.report/internal/events"
	"github.com/neutron-data/powder.report/internal/units"
)

// PlanckOverNeutronMass is h/m_n in m^2/s: the conversion between a
// neutron's wavelength and its inverse speed.
const PlanckOverNeutronMass = 3.9560339e-7

// Pixel is one detector element. Position is in metres in the sample frame
// with the incident beam along +z and the sample at the origin.
type Pixel struct {
	ID       int64
	Position [3]float64
}

// PixelGeometry holds the per-pixel scattering coordinates derived from
// detector positions and the source-to-sample distance.
type PixelGeometry struct {
	index    map[int64]int
	TwoTheta units.Column // rad
	Ltotal   units.Column // m
}

// ComputeGeometry derives two_theta and Ltotal for every pixel.
func ComputeGeometry(pixels []Pixel, sourceToSample units.Scalar) (*PixelGeometry, error) {
	l1, err := sourceToSample.To(units.Meter)
	if err != nil {
		return nil, fmt.Errorf("beamline: source-to-sample distance: %w", err)
	}
	g := &PixelGeometry{
		index:    make(map[int64]int, len(pixels)),
		TwoTheta: units.Column{Unit: units.Radian, Values: make([]float64, len(pixels))},
		Ltotal:   units.Column{Unit: units.Meter, Values: make([]float64, len(pixels))},
	}
	for i, p := range pixels {
		if _, dup := g.index[p.ID]; dup {
			return nil, fmt.Errorf("beamline: duplicate pixel id %d", p.ID)
		}
		g.index[p.ID] = i
		l2 := math.Sqrt(p.Position[0]*p.Position[0] + p.Position[1]*p.Position[1] + p.Position[2]*p.Position[2])
		if l2 == 0 {
			return nil, fmt.Errorf("beamline: pixel %d coincides with the sample position", p.ID)
		}
		g.TwoTheta.Values[i] = math.Acos(p.Position[2] / l2)
		g.Ltotal.Values[i] = l1.Value + l2
	}
	return g, nil
}

// Attach broadcasts the per-pixel scattering coordinates onto each event of
// the table as two_theta and Ltotal. Events referencing unknown pixels fail;
// geometry must cover the detector that produced the data.
func (g *PixelGeometry) Attach(t *events.Table) error {
	tt := units.Column{Unit: units.Radian, Values: make([]float64, t.Len())}
	lt := units.Column{Unit: units.Meter, Values: make([]float64, t.Len())}
	for i, id := range t.PixelID {
		p, ok := g.index[id]
		if !ok {
			return fmt.Errorf("beamline: event %d references unknown pixel %d", i, id)
		}
		tt.Values[i] = g.TwoTheta.Values[p]
		lt.Values[i] = g.Ltotal.Values[p]
	}
	if err := t.SetCoord("two_theta", tt); err != nil {
		return err
	}
	return t.SetCoord("Ltotal", lt)
}

// NumPixels returns the number of pixels covered by the geometry.
func (g *PixelGeometry) NumPixels() int { return len(g.index) }
