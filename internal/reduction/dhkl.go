package reduction

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// LoadDHKL reads a reference peak list: newline-separated d-spacing values
// in angstrom, one peak per line, ascending. Blank lines and #-comments are
// skipped.
func LoadDHKL(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reduction: %w", err)
	}
	defer f.Close()
	d, err := ReadDHKL(f)
	if err != nil {
		return nil, fmt.Errorf("reduction: %s: %w", path, err)
	}
	return d, nil
}

// ReadDHKL parses a peak list from r. See LoadDHKL for the format.
func ReadDHKL(r io.Reader) ([]float64, error) {
	var out []float64
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("line %d: d-spacing must be positive, got %v", line, v)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no d-spacing values")
	}
	if !sort.Float64sAreSorted(out) {
		return nil, fmt.Errorf("d-spacing values must be ascending")
	}
	return out, nil
}
