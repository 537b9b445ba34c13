package beamline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/neutron-data/powder.report/internal/units"
)

// ErrUnknownMode is returned for instrument or mode identifiers that are not
// in the tables.
var ErrUnknownMode = errors.New("beamline: unknown instrument mode")

// Chopper is one disk chopper of a mode: rotation frequency, distance from
// the source, and phase offset.
type Chopper struct {
	Name      string
	Frequency units.Scalar // 1/s
	Distance  units.Scalar // m
	Phase     units.Scalar // deg
}

// Mode is the timing configuration of one instrument operating mode.
type Mode struct {
	Instrument string
	Name       string
	Caption    string

	NominalWavelength units.Scalar // angstrom
	PulseLength       units.Scalar // us
	ModulationPeriod  units.Scalar // us
	ChopperDelay      units.Scalar // us, wavelength-definition chopper delay (time0)
	SourceToSample    units.Scalar // m

	Choppers []Chopper
}

func hz(v float64) units.Scalar { return units.NewScalar(v, units.Second.Pow(-1)) }
func m(v float64) units.Scalar  { return units.NewScalar(v, units.Meter) }
func deg(v float64) units.Scalar {
	return units.NewScalar(v, units.Degree)
}
func us(v float64) units.Scalar { return units.NewScalar(v, units.Microsecond) }
func ang(v float64) units.Scalar {
	return units.NewScalar(v, units.Angstrom)
}

// modes is the static instrument table, keyed by instrument then mode name.
// Values come from the published chopper cascades of the respective
// beamlines; distances are chopper positions along the guide.
var modes = map[string]map[string]Mode{
	"BEER": {
		"F0": {
			Caption:           "maximum intensity",
			NominalWavelength: ang(2.1),
			PulseLength:       us(2860),
			ModulationPeriod:  us(71429),
			ChopperDelay:      us(1100),
			SourceToSample:    m(158.5),
			Choppers: []Chopper{
				{Name: "FC2A", Frequency: hz(14), Distance: m(79.975), Phase: deg(87.5)},
			},
		},
		"PS0+PS1": {
			Caption:           "pulse shaping, high flux",
			NominalWavelength: ang(2.1),
			PulseLength:       us(310),
			ModulationPeriod:  us(8929),
			ChopperDelay:      us(690),
			SourceToSample:    m(158.5),
			Choppers: []Chopper{
				{Name: "PSC1", Frequency: hz(112), Distance: m(6.65), Phase: deg(0)},
				{Name: "PSC3", Frequency: hz(112), Distance: m(6.75), Phase: deg(12.5)},
				{Name: "FC1A", Frequency: hz(28), Distance: m(8.283), Phase: deg(42)},
				{Name: "FC2A", Frequency: hz(14), Distance: m(79.975), Phase: deg(87.5)},
			},
		},
		"MCA+MCC": {
			Caption:           "modulation, medium resolution",
			NominalWavelength: ang(2.1),
			PulseLength:       us(180),
			ModulationPeriod:  us(3571),
			ChopperDelay:      us(430),
			SourceToSample:    m(158.5),
			Choppers: []Chopper{
				{Name: "MCA", Frequency: hz(280), Distance: m(6.65), Phase: deg(0)},
				{Name: "MCC", Frequency: hz(280), Distance: m(6.75), Phase: deg(6.4)},
				{Name: "FC2A", Frequency: hz(14), Distance: m(79.975), Phase: deg(87.5)},
			},
		},
	},
	"DREAM": {
		"high-flux": {
			Caption:           "band chopper only",
			NominalWavelength: ang(1.8),
			PulseLength:       us(2860),
			ModulationPeriod:  us(71429),
			ChopperDelay:      us(900),
			SourceToSample:    m(76.55),
			Choppers: []Chopper{
				{Name: "BCC", Frequency: hz(14), Distance: m(9.0), Phase: deg(73.5)},
			},
		},
		"high-resolution": {
			Caption:           "pulse shaping cascade",
			NominalWavelength: ang(1.8),
			PulseLength:       us(350),
			ModulationPeriod:  us(17857),
			ChopperDelay:      us(540),
			SourceToSample:    m(76.55),
			Choppers: []Chopper{
				{Name: "PSC1", Frequency: hz(56), Distance: m(6.145), Phase: deg(0)},
				{Name: "PSC2", Frequency: hz(56), Distance: m(6.155), Phase: deg(9.7)},
				{Name: "BCC", Frequency: hz(14), Distance: m(9.0), Phase: deg(73.5)},
			},
		},
	},
	"POWGEN": {
		"standard": {
			Caption:           "SNS direct geometry, frame 1",
			NominalWavelength: ang(1.066),
			PulseLength:       us(1000),
			ModulationPeriod:  us(16667),
			ChopperDelay:      us(0),
			SourceToSample:    m(60.0),
		},
	},
}

// Instruments returns the known instrument names, sorted.
func Instruments() []string {
	names := make([]string, 0, len(modes))
	for name := range modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModeNames returns the mode names of one instrument, sorted.
func ModeNames(instrument string) ([]string, error) {
	table, ok := modes[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: instrument %q (known: %v)", ErrUnknownMode, instrument, Instruments())
	}
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ModeByName looks up an instrument mode. Unknown instrument or mode names
// fail with ErrUnknownMode naming the valid keys.
func ModeByName(instrument, mode string) (Mode, error) {
	table, ok := modes[instrument]
	if !ok {
		return Mode{}, fmt.Errorf("%w: instrument %q (known: %v)", ErrUnknownMode, instrument, Instruments())
	}
	m, ok := table[mode]
	if !ok {
		known, _ := ModeNames(instrument)
		return Mode{}, fmt.Errorf("%w: %s mode %q (known: %v)", ErrUnknownMode, instrument, mode, known)
	}
	m.Instrument = instrument
	m.Name = mode
	return m, nil
}
