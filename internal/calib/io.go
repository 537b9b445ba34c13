package calib

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/neutron-data/powder.report/internal/units"
)

// csvHeader is the required column order of a calibration table file.
var csvHeader = []string{"pixel_id", "difa", "difc", "tzero", "excluded"}

// LoadCSV reads a calibration table. The file carries one row per pixel with
// columns pixel_id, difa (us/angstrom^2), difc (us/angstrom), tzero (us) and
// excluded (boolean).
func LoadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("calib: %w", err)
	}
	defer f.Close()
	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("calib: %s: %w", path, err)
	}
	return t, nil
}

// ReadCSV parses calibration rows from r. See LoadCSV for the format.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i, want := range csvHeader {
		if header[i] != want {
			return nil, fmt.Errorf("column %d is %q, want %q", i, header[i], want)
		}
	}

	var (
		pixels   []int64
		difa     []float64
		difc     []float64
		tzero    []float64
		excluded []bool
	)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		id, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: pixel id: %w", line, err)
		}
		vals := make([]float64, 3)
		for i := range vals {
			if vals[i], err = strconv.ParseFloat(rec[i+1], 64); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, csvHeader[i+1], err)
			}
		}
		excl, err := strconv.ParseBool(rec[4])
		if err != nil {
			return nil, fmt.Errorf("line %d: excluded: %w", line, err)
		}
		pixels = append(pixels, id)
		difa = append(difa, vals[0])
		difc = append(difc, vals[1])
		tzero = append(tzero, vals[2])
		excluded = append(excluded, excl)
	}

	return NewTable(pixels,
		units.NewColumn(difa, UnitDIFA),
		units.NewColumn(difc, UnitDIFC),
		units.NewColumn(tzero, UnitTZero),
		excluded)
}
