package reduction

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/neutron-data/powder.report/internal/beamline"
	"github.com/neutron-data/powder.report/internal/correction"
	"github.com/neutron-data/powder.report/internal/events"
	"github.com/neutron-data/powder.report/internal/hist"
	"github.com/neutron-data/powder.report/internal/units"
)

// ReadEvents parses an event list from CSV. Expected header is
// t,pixel_id,weight with an optional fourth pulse_time column; times are in
// seconds. Events carrying a pulse_time get it attached as a coordinate so
// bad-pulse filtering can find the owning pulse.
func ReadEvents(r io.Reader) (*events.Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read event header: %w", err)
	}
	if len(header) < 3 || header[0] != "t" || header[1] != "pixel_id" || header[2] != "weight" {
		return nil, fmt.Errorf("unexpected event header %v, want t,pixel_id,weight[,pulse_time]", header)
	}
	withPulse := len(header) == 4 && header[3] == "pulse_time"
	if len(header) > 3 && !withPulse {
		return nil, fmt.Errorf("unexpected event header %v, want t,pixel_id,weight[,pulse_time]", header)
	}

	var (
		times, weights, pulses []float64
		pixels                 []int64
	)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event line %d: %w", line, err)
		}

		t, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse t: %w", line, err)
		}
		pix, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse pixel_id: %w", line, err)
		}
		w, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse weight: %w", line, err)
		}
		times = append(times, t)
		pixels = append(pixels, pix)
		weights = append(weights, w)

		if withPulse {
			pt, err := strconv.ParseFloat(rec[3], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: failed to parse pulse_time: %w", line, err)
			}
			pulses = append(pulses, pt)
		}
	}

	t, err := events.NewTable(units.NewColumn(times, units.Second), pixels, weights)
	if err != nil {
		return nil, err
	}
	if withPulse {
		if err := t.SetCoord("pulse_time", units.NewColumn(pulses, units.Second)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// LoadEvents reads an event list CSV from disk.
func LoadEvents(path string) (*events.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadEvents(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadGeometry parses detector pixel positions from CSV with header
// pixel_id,x,y,z; positions are sample-relative in meters.
func ReadGeometry(r io.Reader) ([]beamline.Pixel, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = 4

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read geometry header: %w", err)
	}
	if header[0] != "pixel_id" || header[1] != "x" || header[2] != "y" || header[3] != "z" {
		return nil, fmt.Errorf("unexpected geometry header %v, want pixel_id,x,y,z", header)
	}

	var pixels []beamline.Pixel
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read geometry line %d: %w", line, err)
		}

		var p beamline.Pixel
		if p.ID, err = strconv.ParseInt(rec[0], 10, 64); err != nil {
			return nil, fmt.Errorf("line %d: failed to parse pixel_id: %w", line, err)
		}
		for i := 0; i < 3; i++ {
			if p.Position[i], err = strconv.ParseFloat(rec[i+1], 64); err != nil {
				return nil, fmt.Errorf("line %d: failed to parse %s: %w", line, header[i+1], err)
			}
		}
		pixels = append(pixels, p)
	}
	if len(pixels) == 0 {
		return nil, fmt.Errorf("geometry file has no pixels")
	}
	return pixels, nil
}

// LoadGeometry reads pixel positions from disk and derives the scattering
// geometry for the given source-to-sample distance.
func LoadGeometry(path string, sourceToSample units.Scalar) (*beamline.PixelGeometry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pixels, err := ReadGeometry(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return beamline.ComputeGeometry(pixels, sourceToSample)
}

// ReadMonitor parses a wavelength-binned monitor spectrum from CSV with
// header wavelength_lo,wavelength_hi,weight; wavelengths are in angstrom
// and bins must be contiguous.
func ReadMonitor(r io.Reader) (*hist.Histogram, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = 3

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read monitor header: %w", err)
	}
	if header[0] != "wavelength_lo" || header[1] != "wavelength_hi" || header[2] != "weight" {
		return nil, fmt.Errorf("unexpected monitor header %v, want wavelength_lo,wavelength_hi,weight", header)
	}

	var edges, weights []float64
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read monitor line %d: %w", line, err)
		}

		lo, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse wavelength_lo: %w", line, err)
		}
		hi, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse wavelength_hi: %w", line, err)
		}
		w, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse weight: %w", line, err)
		}

		if len(edges) == 0 {
			edges = append(edges, lo)
		} else if edges[len(edges)-1] != lo {
			return nil, fmt.Errorf("line %d: monitor bins are not contiguous: %v != %v", line, edges[len(edges)-1], lo)
		}
		edges = append(edges, hi)
		weights = append(weights, w)
	}
	return hist.New(units.NewColumn(edges, units.Angstrom), weights)
}

// LoadMonitor reads a monitor spectrum CSV from disk.
func LoadMonitor(path string) (*hist.Histogram, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := ReadMonitor(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// ReadPulses parses the accelerator pulse log from CSV with header
// pulse_time,proton_charge; times in seconds, charge in microamp hours.
// Pulse times must be ascending.
func ReadPulses(r io.Reader) (*correction.PulseSeries, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = 2

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read pulse header: %w", err)
	}
	if header[0] != "pulse_time" || header[1] != "proton_charge" {
		return nil, fmt.Errorf("unexpected pulse header %v, want pulse_time,proton_charge", header)
	}

	var times, charges []float64
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read pulse line %d: %w", line, err)
		}

		t, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse pulse_time: %w", line, err)
		}
		c, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse proton_charge: %w", line, err)
		}
		if len(times) > 0 && t <= times[len(times)-1] {
			return nil, fmt.Errorf("line %d: pulse times are not ascending", line)
		}
		times = append(times, t)
		charges = append(charges, c)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("pulse file has no pulses")
	}
	return &correction.PulseSeries{
		Time:   units.NewColumn(times, units.Second),
		Charge: units.NewColumn(charges, units.MicroampHour),
	}, nil
}

// LoadPulses reads the pulse log CSV from disk.
func LoadPulses(path string) (*correction.PulseSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := ReadPulses(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ReadSpectrumCSV parses a focussed spectrum written by WriteSpectrumCSV.
// Variances are attached only when every row carries one.
func ReadSpectrumCSV(r io.Reader) (*hist.Histogram, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = 4

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read spectrum header: %w", err)
	}
	if header[0] != "d_lo" || header[1] != "d_hi" || header[2] != "weight" || header[3] != "variance" {
		return nil, fmt.Errorf("unexpected spectrum header %v, want d_lo,d_hi,weight,variance", header)
	}

	var edges, weights, variances []float64
	hasVariances := true
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read spectrum line %d: %w", line, err)
		}

		lo, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse d_lo: %w", line, err)
		}
		hi, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse d_hi: %w", line, err)
		}
		w, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to parse weight: %w", line, err)
		}
		if len(edges) == 0 {
			edges = append(edges, lo)
		} else if edges[len(edges)-1] != lo {
			return nil, fmt.Errorf("line %d: spectrum bins are not contiguous", line)
		}
		edges = append(edges, hi)
		weights = append(weights, w)

		if rec[3] == "" {
			hasVariances = false
		} else {
			v, err := strconv.ParseFloat(rec[3], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: failed to parse variance: %w", line, err)
			}
			variances = append(variances, v)
		}
	}

	h, err := hist.New(units.NewColumn(edges, units.Angstrom), weights)
	if err != nil {
		return nil, err
	}
	if hasVariances {
		h.Variances = variances
	}
	return h, nil
}

// LoadSpectrumCSV reads a focussed spectrum CSV from disk.
func LoadSpectrumCSV(path string) (*hist.Histogram, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := ReadSpectrumCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// WriteSpectrumCSV writes the focussed spectrum with header
// d_lo,d_hi,weight,variance; d-spacing edges in angstrom. The variance
// column is empty when the histogram carries none.
func WriteSpectrumCSV(w io.Writer, h *hist.Histogram) error {
	edges, err := h.Edges.To(units.Angstrom)
	if err != nil {
		return fmt.Errorf("spectrum edges: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"d_lo", "d_hi", "weight", "variance"}); err != nil {
		return err
	}
	for i, weight := range h.Weights {
		variance := ""
		if h.Variances != nil {
			variance = strconv.FormatFloat(h.Variances[i], 'g', -1, 64)
		}
		rec := []string{
			strconv.FormatFloat(edges.Values[i], 'g', -1, 64),
			strconv.FormatFloat(edges.Values[i+1], 'g', -1, 64),
			strconv.FormatFloat(weight, 'g', -1, 64),
			variance,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
