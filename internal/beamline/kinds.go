// Package beamline holds instrument configuration: run kinds, per-instrument
// chopper mode tables, and the detector geometry and standard coordinate
// transform rules derived from them. Mode tables are data, not branches;
// unknown keys fail with an explicit error rather than a silent default.
package beamline

import "fmt"

// RunKind identifies what a measurement run contains. It is threaded
// explicitly through pipeline functions so per-kind specialization stays
// visible in signatures.
type RunKind int

const (
	SampleRun RunKind = iota
	VanadiumRun
	BackgroundRun
	EmptyCanRun
)

var runKindNames = map[RunKind]string{
	SampleRun:     "sample",
	VanadiumRun:   "vanadium",
	BackgroundRun: "background",
	EmptyCanRun:   "empty_can",
}

func (k RunKind) String() string {
	if s, ok := runKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("RunKind(%d)", int(k))
}

// ParseRunKind maps a configuration string to a RunKind.
func ParseRunKind(s string) (RunKind, error) {
	for k, name := range runKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("beamline: unknown run kind %q", s)
}
