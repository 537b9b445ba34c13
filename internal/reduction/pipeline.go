// Package reduction wires the full powder reduction workflow: geometry and
// masking, time-of-flight recovery (streak fitting or known-peak unwrapping),
// d-spacing conversion, corrections and the final focussed spectrum.
package reduction

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/neutron-data/powder.report/internal/beamline"
	"github.com/neutron-data/powder.report/internal/calib"
	"github.com/neutron-data/powder.report/internal/config"
	"github.com/neutron-data/powder.report/internal/correction"
	"github.com/neutron-data/powder.report/internal/events"
	"github.com/neutron-data/powder.report/internal/hist"
	"github.com/neutron-data/powder.report/internal/monitoring"
	"github.com/neutron-data/powder.report/internal/streak"
	"github.com/neutron-data/powder.report/internal/tgraph"
	"github.com/neutron-data/powder.report/internal/units"
)

// Pipeline runs the reduction workflow for one instrument mode. Optional
// inputs (calibration, peak list, monitor, pulse log) switch the matching
// steps on; the zero value of each disables its step.
type Pipeline struct {
	Cfg      *config.TuningConfig
	Mode     beamline.Mode
	Geometry *beamline.PixelGeometry

	// Calibration, when set, converts tof to d-spacing through the
	// per-pixel DIFA/DIFC/TZERO relation instead of the geometry graph.
	Calibration *calib.Table
	// DHKL, when set, recovers tof by known-peak unwrapping instead of
	// streak fitting.
	DHKL []float64
	// Monitor, when set, divides event weights by the monitor spectrum.
	Monitor *hist.Histogram
	// Pulses, when set together with the threshold factor, masks events
	// from weak pulses.
	Pulses *correction.PulseSeries
}

// Result is the outcome of one reduction run.
type Result struct {
	ID         uuid.UUID
	Kind       beamline.RunKind
	Instrument string
	ModeName   string

	// Spectrum is the focussed intensity vs d-spacing, the scientific
	// deliverable of the run.
	Spectrum *hist.Histogram
	// Events is the reduced event table with tof and dspacing coordinates
	// and all masks applied.
	Events *events.Table
	// T0 holds the per-streak fitted emission times; empty for the
	// known-peak path.
	T0 units.Column
}

// New resolves the configured instrument mode and builds a pipeline.
func New(cfg *config.TuningConfig, geom *beamline.PixelGeometry) (*Pipeline, error) {
	mode, err := beamline.ModeByName(cfg.GetInstrument(), cfg.GetMode())
	if err != nil {
		return nil, err
	}
	return &Pipeline{Cfg: cfg, Mode: mode, Geometry: geom}, nil
}

// Run reduces one event table into a focussed d-spacing spectrum. The input
// table is modified in place: coordinates and masks accumulate on it.
func (p *Pipeline) Run(t *events.Table) (*Result, error) {
	kind, err := beamline.ParseRunKind(p.Cfg.GetRunKind())
	if err != nil {
		return nil, err
	}
	if err := p.Geometry.Attach(t); err != nil {
		return nil, err
	}
	if err := correction.MaskTwoThetaLimits(t,
		units.NewScalar(p.Cfg.GetTwoThetaMinDeg(), units.Degree),
		units.NewScalar(p.Cfg.GetTwoThetaMaxDeg(), units.Degree)); err != nil {
		return nil, err
	}
	if pixels := p.Cfg.MaskedPixels; len(pixels) > 0 {
		if err := correction.MaskPixels(t, "bad_pixels", pixels); err != nil {
			return nil, err
		}
	}
	if p.Pulses != nil && p.Cfg.GetBadPulseThresholdFactor() > 0 {
		if err := correction.RemoveBadPulses(t, p.Pulses, p.Cfg.GetBadPulseThresholdFactor()); err != nil {
			return nil, err
		}
	}
	if c := p.Cfg.GetProtonChargeUAH(); c > 0 {
		if err := correction.NormalizeByProtonCharge(t, units.NewScalar(c, units.MicroampHour)); err != nil {
			return nil, err
		}
	}

	res := &Result{
		ID:         uuid.New(),
		Kind:       kind,
		Instrument: p.Mode.Instrument,
		ModeName:   p.Mode.Name,
	}

	graph := beamline.StandardGraph(p.Mode)
	if p.DHKL != nil {
		if err := p.recoverTofFromPeaks(t); err != nil {
			return nil, err
		}
	} else {
		t, err = p.recoverTofFromStreaks(t, graph, res)
		if err != nil {
			return nil, err
		}
	}

	if lo, hi, ok := p.Cfg.TofWindowUS(); ok {
		if err := correction.MaskCoordLimits(t, "tof",
			units.NewScalar(lo, units.Microsecond),
			units.NewScalar(hi, units.Microsecond)); err != nil {
			return nil, err
		}
	}

	if p.Calibration != nil {
		if err := p.Calibration.Merge(t); err != nil {
			return nil, err
		}
		if _, err := calib.DspacingFromCalibration(t); err != nil {
			return nil, err
		}
	} else {
		if err := evalCoords(t, graph, "wavelength", "dspacing"); err != nil {
			return nil, err
		}
	}

	if lo, hi, ok := p.Cfg.WavelengthWindowAng(); ok {
		if !t.HasCoord("wavelength") {
			if err := evalCoords(t, graph, "wavelength"); err != nil {
				return nil, err
			}
		}
		if err := correction.MaskCoordLimits(t, "wavelength",
			units.NewScalar(lo, units.Angstrom),
			units.NewScalar(hi, units.Angstrom)); err != nil {
			return nil, err
		}
	}

	if p.Monitor != nil {
		if err := p.normalizeByMonitor(t, graph); err != nil {
			return nil, err
		}
	}
	if p.Cfg.GetLorentzCorrection() {
		if err := correction.LorentzCorrection(t); err != nil {
			return nil, err
		}
	}

	spectrum, err := p.Focus(t)
	if err != nil {
		return nil, err
	}
	res.Spectrum = spectrum
	res.Events = t
	return res, nil
}

// recoverTofFromPeaks resolves each event against the reference peak list
// and unwraps the aliased arrival time into absolute time-of-flight.
func (p *Pipeline) recoverTofFromPeaks(t *events.Table) error {
	params := streak.KnownPeakParams{
		DHKL:        p.DHKL,
		PulseLength: p.Mode.PulseLength,
		ModPeriod:   p.Mode.ModulationPeriod,
		Time0:       p.Mode.ChopperDelay,
	}
	d, err := streak.ComputeD(t, params)
	if err != nil {
		return err
	}
	unresolved := 0
	for _, v := range d.Values {
		if math.IsNaN(v) {
			unresolved++
		}
	}
	if unresolved > 0 {
		monitoring.Logf("reduction: %d of %d events matched no reference peak", unresolved, t.Len())
	}
	tof, err := streak.TofFromDHKL(t, d, params)
	if err != nil {
		return err
	}
	return t.SetCoord("tof", tof)
}

// recoverTofFromStreaks clusters events along the coarse d-spacing axis and
// fits the per-streak emission time. The returned table is the regrouped one.
func (p *Pipeline) recoverTofFromStreaks(t *events.Table, graph *tgraph.Graph, res *Result) (*events.Table, error) {
	if err := evalCoords(t, graph, "coarse_d"); err != nil {
		return nil, err
	}
	b, err := streak.ClusterByStreak(t, streak.ClusterParams{
		Bins:           p.Cfg.GetClusterBins(),
		BaselineWindow: p.Cfg.GetBaselineWindow(),
		MinPeakSep:     p.Cfg.GetMinPeakSep(),
		MinValleySep:   p.Cfg.GetMinValleySep(),
	})
	if err != nil {
		return nil, err
	}
	fit, err := streak.FitClusters(b, streak.FitParams{
		Iterations:  p.Cfg.GetFitIterations(),
		ModPeriod:   p.Mode.ModulationPeriod,
		NeighborGap: units.NewScalar(p.Cfg.GetNeighborGapUS(), units.Microsecond),
	})
	if err != nil {
		return nil, err
	}
	res.T0 = fit.T0.DropVariances()
	return b.Table, nil
}

// normalizeByMonitor smooths the monitor if configured and divides event
// weights by it in wavelength.
func (p *Pipeline) normalizeByMonitor(t *events.Table, graph *tgraph.Graph) error {
	monitor := p.Monitor
	if w := p.Cfg.GetMonitorSmoothingWindow(); w > 0 {
		var err error
		if monitor, err = correction.SmoothMonitor(monitor, w); err != nil {
			return err
		}
	}
	if !t.HasCoord("wavelength") {
		if err := evalCoords(t, graph, "wavelength"); err != nil {
			return err
		}
	}
	return correction.NormalizeByMonitor(t, monitor)
}

// Focus histograms the d-spacing coordinate into the configured output bins.
// Masked events contribute nothing; unresolvable events carry NaN d-spacing
// or NaN weights and are skipped.
func (p *Pipeline) Focus(t *events.Table) (*hist.Histogram, error) {
	d, err := t.Coord("dspacing")
	if err != nil {
		return nil, fmt.Errorf("reduction: %w", err)
	}
	edges := DspacingEdges(p.Cfg)
	return hist.Fill(edges, d, t.EffectiveWeights())
}

// NormalizeSpectrum divides a focussed sample spectrum by a vanadium one
// using the configured uncertainty broadcast mode.
func (p *Pipeline) NormalizeSpectrum(sample, vanadium *hist.Histogram) (*hist.Histogram, error) {
	mode, err := correction.ParseUncertaintyBroadcastMode(p.Cfg.GetUncertaintyBroadcastMode())
	if err != nil {
		return nil, err
	}
	return correction.NormalizeByVanadium(sample, vanadium, mode)
}

// DspacingEdges builds the configured output bin edges in angstrom.
func DspacingEdges(cfg *config.TuningConfig) units.Column {
	lo, hi := cfg.GetDspacingMin(), cfg.GetDspacingMax()
	n := cfg.GetDspacingBins()
	edges := make([]float64, n+1)
	width := (hi - lo) / float64(n)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	edges[n] = hi
	return units.NewColumn(edges, units.Angstrom)
}

// evalCoords evaluates graph targets from the table's stored columns and
// attaches the results as coordinates.
func evalCoords(t *events.Table, graph *tgraph.Graph, targets ...string) error {
	vars := tgraph.Vars{"t": t.T}
	for _, name := range t.CoordNames() {
		c, err := t.Coord(name)
		if err != nil {
			return err
		}
		vars[name] = c
	}
	out, err := graph.Eval(vars, targets...)
	if err != nil {
		return err
	}
	for _, target := range targets {
		if t.HasCoord(target) {
			continue
		}
		if err := t.SetCoord(target, out[target]); err != nil {
			return err
		}
	}
	return nil
}
