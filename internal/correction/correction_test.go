package correction

import (
	"math"
	"testing"

	"github.com/neutron-data/powder.report/internal/events"
	"github.com/neutron-data/powder.report/internal/hist"
	"github.com/neutron-data/powder.report/internal/units"
)

func newTable(t *testing.T, n int) *events.Table {
	t.Helper()
	tab, err := events.NewTable(units.NewColumn(make([]float64, n), units.Second), make([]int64, n), nil)
	if err != nil {
		t.Fatal(err)
	}
	return tab
}

func setCoord(t *testing.T, tab *events.Table, name string, values []float64, u units.Unit) {
	t.Helper()
	if err := tab.SetCoord(name, units.NewColumn(values, u)); err != nil {
		t.Fatal(err)
	}
}

func TestNormalizeByProtonCharge(t *testing.T) {
	tab := newTable(t, 3)
	if err := NormalizeByProtonCharge(tab, units.Scalar{Value: 4, Unit: units.MicroampHour}); err != nil {
		t.Fatal(err)
	}
	for i, w := range tab.Weight {
		if w != 0.25 {
			t.Errorf("weight[%d] = %v, want 0.25", i, w)
		}
	}
	if err := NormalizeByProtonCharge(tab, units.Scalar{Value: 0, Unit: units.MicroampHour}); err == nil {
		t.Error("want error for zero charge")
	}
	if err := NormalizeByProtonCharge(tab, units.Scalar{Value: 1, Unit: units.Second}); err == nil {
		t.Error("want error for non-charge unit")
	}
}

func TestRemoveBadPulses(t *testing.T) {
	// Pulses at t = 0, 10, 20 s with charges 10, 1, 10: mean 7, so with a
	// threshold factor of 0.5 the middle pulse is bad.
	pulses := &PulseSeries{
		Time:   units.NewColumn([]float64{0, 10, 20}, units.Second),
		Charge: units.NewColumn([]float64{10, 1, 10}, units.MicroampHour),
	}
	tab := newTable(t, 4)
	setCoord(t, tab, "pulse_time", []float64{1, 9, 12, 20}, units.Second)

	if err := RemoveBadPulses(tab, pulses, 0.5); err != nil {
		t.Fatal(err)
	}
	mask := tab.Mask("bad_pulse")
	want := []bool{false, true, true, false}
	for i := range want {
		if mask[i] != want[i] {
			t.Errorf("bad_pulse[%d] = %v, want %v", i, mask[i], want[i])
		}
	}
}

func TestRemoveBadPulsesRequiresPulseTime(t *testing.T) {
	pulses := &PulseSeries{
		Time:   units.NewColumn([]float64{0}, units.Second),
		Charge: units.NewColumn([]float64{1}, units.MicroampHour),
	}
	if err := RemoveBadPulses(newTable(t, 1), pulses, 0.5); err == nil {
		t.Error("want error for missing pulse_time coordinate")
	}
}

func TestNormalizeByMonitor(t *testing.T) {
	// Detector events at wavelengths 0, 1, 2 angstrom over monitor bins
	// [0,2) and [2,3] with counts 5 and 6: the first two weights divide by
	// 5, the last by 6.
	monitor, err := hist.New(units.NewColumn([]float64{0, 2, 3}, units.Angstrom), []float64{5, 6})
	if err != nil {
		t.Fatal(err)
	}
	tab := newTable(t, 3)
	setCoord(t, tab, "wavelength", []float64{0, 1, 2}, units.Angstrom)

	if err := NormalizeByMonitor(tab, monitor); err != nil {
		t.Fatal(err)
	}
	want := []float64{1.0 / 5, 1.0 / 5, 1.0 / 6}
	for i := range want {
		if math.Abs(tab.Weight[i]-want[i]) > 1e-15 {
			t.Errorf("weight[%d] = %v, want %v", i, tab.Weight[i], want[i])
		}
	}
}

func TestNormalizeByMonitorOutOfRange(t *testing.T) {
	monitor, err := hist.New(units.NewColumn([]float64{1, 2}, units.Angstrom), []float64{5})
	if err != nil {
		t.Fatal(err)
	}
	tab := newTable(t, 2)
	setCoord(t, tab, "wavelength", []float64{0.5, 2.0}, units.Angstrom)
	if err := NormalizeByMonitor(tab, monitor); err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(tab.Weight[0]) {
		t.Errorf("out-of-range weight = %v, want NaN", tab.Weight[0])
	}
	if tab.Weight[1] != 1.0/5 {
		t.Errorf("top-edge weight = %v, want 0.2", tab.Weight[1])
	}
}

func TestSmoothMonitor(t *testing.T) {
	m, err := hist.New(units.NewColumn([]float64{0, 1, 2, 3, 4}, units.Angstrom), []float64{0, 3, 0, 3})
	if err != nil {
		t.Fatal(err)
	}
	s, err := SmoothMonitor(m, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1.5, 1, 2, 1.5}
	for i := range want {
		if math.Abs(s.Weights[i]-want[i]) > 1e-15 {
			t.Errorf("smoothed[%d] = %v, want %v", i, s.Weights[i], want[i])
		}
	}
	if s.Variances != nil {
		t.Error("smoothed monitor must not carry variances")
	}
	if _, err := SmoothMonitor(m, 2); err == nil {
		t.Error("want error for even window")
	}
}

func TestNormalizeByVanadium(t *testing.T) {
	edges := units.NewColumn([]float64{0, 1, 2, 3}, units.Angstrom)
	sample := &hist.Histogram{Edges: edges, Weights: []float64{2, 4, 6}, Variances: []float64{2, 4, 6}}
	vanadium := &hist.Histogram{Edges: edges, Weights: []float64{2, 2, 0}}

	out, err := NormalizeByVanadium(sample, vanadium, UncertaintyDrop)
	if err != nil {
		t.Fatal(err)
	}
	if out.Weights[0] != 1 || out.Weights[1] != 2 {
		t.Errorf("weights = %v, want [1 2 NaN]", out.Weights)
	}
	if !math.IsNaN(out.Weights[2]) {
		t.Errorf("empty vanadium bin: weight = %v, want NaN", out.Weights[2])
	}
	if out.Variances[0] != 0.5 || out.Variances[1] != 1 {
		t.Errorf("variances = %v, want [0.5 1 NaN]", out.Variances)
	}
}

func TestNormalizeByVanadiumFailMode(t *testing.T) {
	edges := units.NewColumn([]float64{0, 1}, units.Angstrom)
	sample := &hist.Histogram{Edges: edges, Weights: []float64{1}}
	noisy := &hist.Histogram{Edges: edges, Weights: []float64{1}, Variances: []float64{1}}

	if _, err := NormalizeByVanadium(sample, noisy, UncertaintyFail); err == nil {
		t.Error("want error in fail mode when vanadium has variances")
	}
	if _, err := NormalizeByVanadium(sample, noisy, UncertaintyDrop); err != nil {
		t.Errorf("drop mode should succeed, got %v", err)
	}

	short := &hist.Histogram{Edges: units.NewColumn([]float64{0, 1, 2}, units.Angstrom), Weights: []float64{1, 1}}
	if _, err := NormalizeByVanadium(sample, short, UncertaintyDrop); err == nil {
		t.Error("want error for bin count mismatch")
	}
}

func TestParseUncertaintyBroadcastMode(t *testing.T) {
	for s, want := range map[string]UncertaintyBroadcastMode{"drop": UncertaintyDrop, "fail": UncertaintyFail} {
		got, err := ParseUncertaintyBroadcastMode(s)
		if err != nil || got != want {
			t.Errorf("parse %q = %v, %v", s, got, err)
		}
	}
	if _, err := ParseUncertaintyBroadcastMode("upper-bound"); err == nil {
		t.Error("want error for unknown mode")
	}
}

func TestLorentzCorrection(t *testing.T) {
	tab := newTable(t, 2)
	setCoord(t, tab, "dspacing", []float64{2, 1}, units.Angstrom)
	setCoord(t, tab, "two_theta", []float64{math.Pi, math.Pi / 3}, units.Radian)

	if err := LorentzCorrection(tab); err != nil {
		t.Fatal(err)
	}
	// d^4 * sin(two_theta/2): 16*1 and 1*0.5.
	if math.Abs(tab.Weight[0]-16) > 1e-12 {
		t.Errorf("weight[0] = %v, want 16", tab.Weight[0])
	}
	if math.Abs(tab.Weight[1]-0.5) > 1e-12 {
		t.Errorf("weight[1] = %v, want 0.5", tab.Weight[1])
	}

	bare := newTable(t, 1)
	if err := LorentzCorrection(bare); err == nil {
		t.Error("want error without dspacing coordinate")
	}
}

func TestMaskTwoThetaLimits(t *testing.T) {
	tab := newTable(t, 3)
	setCoord(t, tab, "two_theta", []float64{10, 90, 170}, units.Degree)

	lo := units.Scalar{Value: 30, Unit: units.Degree}
	hi := units.Scalar{Value: 150, Unit: units.Degree}
	if err := MaskTwoThetaLimits(tab, lo, hi); err != nil {
		t.Fatal(err)
	}
	mask := tab.Mask("two_theta")
	want := []bool{true, false, true}
	for i := range want {
		if mask[i] != want[i] {
			t.Errorf("two_theta mask[%d] = %v, want %v", i, mask[i], want[i])
		}
	}
	if err := MaskTwoThetaLimits(tab, hi, lo); err == nil {
		t.Error("want error for inverted limits")
	}
}

func TestMaskCoordLimitsConvertsUnits(t *testing.T) {
	tab := newTable(t, 4)
	// tof stored in seconds, windowed in microseconds.
	setCoord(t, tab, "tof", []float64{0.5e-3, 1.5e-3, 2.5e-3, 3.5e-3}, units.Second)

	err := MaskCoordLimits(tab, "tof",
		units.Scalar{Value: 1000, Unit: units.Microsecond},
		units.Scalar{Value: 3000, Unit: units.Microsecond})
	if err != nil {
		t.Fatal(err)
	}
	mask := tab.Mask("tof")
	want := []bool{true, false, false, true}
	for i := range want {
		if mask[i] != want[i] {
			t.Errorf("tof mask[%d] = %v, want %v", i, mask[i], want[i])
		}
	}
}

func TestMaskCoordLimitsStacksAcrossCoords(t *testing.T) {
	tab := newTable(t, 3)
	setCoord(t, tab, "tof", []float64{1, 2, 3}, units.Second)
	setCoord(t, tab, "wavelength", []float64{1, 2, 3}, units.Angstrom)

	one := func(u units.Unit, v float64) units.Scalar { return units.Scalar{Value: v, Unit: u} }
	if err := MaskCoordLimits(tab, "tof", one(units.Second, 1.5), one(units.Second, 3.5)); err != nil {
		t.Fatal(err)
	}
	if err := MaskCoordLimits(tab, "wavelength", one(units.Angstrom, 0.5), one(units.Angstrom, 2.5)); err != nil {
		t.Fatal(err)
	}
	// Each window lives under its own mask name; an event is excluded
	// when any of them flags it.
	for i, want := range []bool{true, false, false} {
		if got := tab.Mask("tof")[i]; got != want {
			t.Errorf("tof mask[%d] = %v, want %v", i, got, want)
		}
	}
	for i, want := range []bool{false, false, true} {
		if got := tab.Mask("wavelength")[i]; got != want {
			t.Errorf("wavelength mask[%d] = %v, want %v", i, got, want)
		}
	}
	for i, want := range []float64{0, 1, 0} {
		if got := tab.EffectiveWeights()[i]; got != want {
			t.Errorf("effective weight[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestMaskCoordLimitsErrors(t *testing.T) {
	tab := newTable(t, 1)
	setCoord(t, tab, "tof", []float64{1}, units.Second)
	one := func(v float64) units.Scalar { return units.Scalar{Value: v, Unit: units.Second} }

	if err := MaskCoordLimits(tab, "tof", one(2), one(1)); err == nil {
		t.Error("want error for inverted limits")
	}
	if err := MaskCoordLimits(tab, "wavelength", one(1), one(2)); err == nil {
		t.Error("want error for missing coordinate")
	}
	if err := MaskCoordLimits(tab, "tof",
		units.Scalar{Value: 1, Unit: units.Angstrom},
		units.Scalar{Value: 2, Unit: units.Angstrom}); err == nil {
		t.Error("want error for incompatible window unit")
	}
}

func TestMaskPixels(t *testing.T) {
	tab, err := events.NewTable(units.NewColumn(make([]float64, 5), units.Second),
		[]int64{10, 11, 12, 11, 13}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := MaskPixels(tab, "bad_pixels", []int64{11, 13, 99}); err != nil {
		t.Fatal(err)
	}
	mask := tab.Mask("bad_pixels")
	want := []bool{false, true, false, true, true}
	for i := range want {
		if mask[i] != want[i] {
			t.Errorf("bad_pixels mask[%d] = %v, want %v", i, mask[i], want[i])
		}
	}
	// Masked, not deleted: the events are still in the table.
	if tab.Len() != 5 {
		t.Fatalf("table length = %d, want 5", tab.Len())
	}

	if err := MaskPixels(tab, "", []int64{1}); err == nil {
		t.Error("want error for unnamed mask")
	}
}
