// Command reduce runs one powder-diffraction reduction: it reads an event
// list and detector geometry, recovers time-of-flight from the pulse-aliased
// arrival times, converts to d-spacing and writes the focussed spectrum.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/neutron-data/powder.report/internal/calib"
	"github.com/neutron-data/powder.report/internal/config"
	"github.com/neutron-data/powder.report/internal/diagnostics"
	"github.com/neutron-data/powder.report/internal/monitoring"
	"github.com/neutron-data/powder.report/internal/reduction"
	"github.com/neutron-data/powder.report/internal/store"
)

var (
	configPath   = flag.String("config", "", "Tuning config JSON (defaults apply when empty)")
	eventsPath   = flag.String("events", "", "Event list CSV: t,pixel_id,weight[,pulse_time]")
	geometryPath = flag.String("geometry", "", "Detector pixel positions CSV: pixel_id,x,y,z")
	calibPath    = flag.String("calibration", "", "Per-pixel calibration CSV (optional)")
	monitorPath  = flag.String("monitor", "", "Monitor spectrum CSV (optional)")
	pulsesPath   = flag.String("pulses", "", "Accelerator pulse log CSV (optional)")
	vanadiumPath = flag.String("vanadium", "", "Focussed vanadium spectrum CSV to normalize by (optional)")
	outPath      = flag.String("out", "spectrum.csv", "Output spectrum CSV")
	plotPath     = flag.String("plot", "", "Write a PNG plot of the spectrum (optional)")
	reportPath   = flag.String("report", "", "Write an HTML report of the spectrum (optional)")
	dbPath       = flag.String("db", "", "Record the run in this sqlite database (optional)")
	verbose      = flag.Bool("verbose", false, "Log pipeline progress")
)

func main() {
	flag.Parse()

	if *eventsPath == "" || *geometryPath == "" {
		fmt.Fprintln(os.Stderr, "usage: reduce -events events.csv -geometry pixels.csv [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if !*verbose {
		monitoring.SetLogger(nil)
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadTuningConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	pipeline, err := buildPipeline(cfg)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	table, err := reduction.LoadEvents(*eventsPath)
	if err != nil {
		log.Fatalf("Failed to load events: %v", err)
	}
	log.Printf("Loaded %d events from %s", table.Len(), *eventsPath)

	res, err := pipeline.Run(table)
	if err != nil {
		log.Fatalf("Reduction failed: %v", err)
	}
	log.Printf("Reduced run %s (%s %s, %s): %d bins, total intensity %.6g",
		res.ID, res.Instrument, res.ModeName, res.Kind, res.Spectrum.Len(), res.Spectrum.Sum())

	if *vanadiumPath != "" {
		vanadium, err := reduction.LoadSpectrumCSV(*vanadiumPath)
		if err != nil {
			log.Fatalf("Failed to load vanadium spectrum: %v", err)
		}
		if res.Spectrum, err = pipeline.NormalizeSpectrum(res.Spectrum, vanadium); err != nil {
			log.Fatalf("Vanadium normalization failed: %v", err)
		}
	}

	out, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	if err := reduction.WriteSpectrumCSV(out, res.Spectrum); err != nil {
		out.Close()
		log.Fatalf("Failed to write spectrum: %v", err)
	}
	if err := out.Close(); err != nil {
		log.Fatalf("Failed to close output file: %v", err)
	}
	log.Printf("Wrote spectrum to %s", *outPath)

	title := fmt.Sprintf("%s %s %s", res.Instrument, res.ModeName, res.Kind)
	if *plotPath != "" {
		if err := diagnostics.PlotSpectrum(res.Spectrum, title, *plotPath); err != nil {
			log.Fatalf("Failed to plot spectrum: %v", err)
		}
		log.Printf("Wrote plot to %s", *plotPath)
	}
	if *reportPath != "" {
		if err := diagnostics.WriteReport(res.Spectrum, title, "run "+res.ID.String(), *reportPath); err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}
		log.Printf("Wrote report to %s", *reportPath)
	}

	if *dbPath != "" {
		if err := recordRun(res); err != nil {
			log.Fatalf("Failed to record run: %v", err)
		}
		log.Printf("Recorded run %s in %s", res.ID, *dbPath)
	}
}

// buildPipeline wires the optional inputs into a reduction pipeline.
func buildPipeline(cfg *config.TuningConfig) (*reduction.Pipeline, error) {
	// The pipeline resolves the mode first so geometry loading can use the
	// mode's source-to-sample distance.
	probe, err := reduction.New(cfg, nil)
	if err != nil {
		return nil, err
	}

	geometry, err := reduction.LoadGeometry(*geometryPath, probe.Mode.SourceToSample)
	if err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}

	pipeline, err := reduction.New(cfg, geometry)
	if err != nil {
		return nil, err
	}

	if *calibPath != "" {
		if pipeline.Calibration, err = calib.LoadCSV(*calibPath); err != nil {
			return nil, fmt.Errorf("calibration: %w", err)
		}
	}
	if dhklPath := cfg.GetDHKLFile(); dhklPath != "" {
		if pipeline.DHKL, err = reduction.LoadDHKL(dhklPath); err != nil {
			return nil, fmt.Errorf("dhkl: %w", err)
		}
	}
	if *monitorPath != "" {
		if pipeline.Monitor, err = reduction.LoadMonitor(*monitorPath); err != nil {
			return nil, fmt.Errorf("monitor: %w", err)
		}
	}
	if *pulsesPath != "" {
		if pipeline.Pulses, err = reduction.LoadPulses(*pulsesPath); err != nil {
			return nil, fmt.Errorf("pulses: %w", err)
		}
	}
	return pipeline, nil
}

func recordRun(res *reduction.Result) error {
	s, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.MigrateUp(); err != nil {
		return err
	}

	var masked int64
	for i := 0; i < res.Events.Len(); i++ {
		if res.Events.Excluded(i) {
			masked++
		}
	}

	return s.SaveRun(store.Run{
		ID:         res.ID,
		Instrument: res.Instrument,
		Mode:       res.ModeName,
		Kind:       res.Kind.String(),
		NumEvents:  int64(res.Events.Len()),
		NumMasked:  masked,
		CreatedAt:  time.Now().UTC(),
	}, res.Spectrum)
}
