package correction

import (
	"fmt"
	"math"

	"github.com/neutron-data/powder.report/internal/hist"
)

// UncertaintyBroadcastMode selects how vanadium uncertainties combine with
// the sample during normalization. Broadcasting a variance across many sample
// bins introduces correlations the histogram cannot represent, so the safe
// choices are dropping the vanadium variances or refusing to proceed.
type UncertaintyBroadcastMode int

const (
	// UncertaintyDrop discards the vanadium variances and propagates only
	// the sample's.
	UncertaintyDrop UncertaintyBroadcastMode = iota
	// UncertaintyFail rejects vanadium data that carries variances.
	UncertaintyFail
)

func (m UncertaintyBroadcastMode) String() string {
	switch m {
	case UncertaintyDrop:
		return "drop"
	case UncertaintyFail:
		return "fail"
	}
	return fmt.Sprintf("UncertaintyBroadcastMode(%d)", int(m))
}

// ParseUncertaintyBroadcastMode parses "drop" or "fail".
func ParseUncertaintyBroadcastMode(s string) (UncertaintyBroadcastMode, error) {
	switch s {
	case "drop":
		return UncertaintyDrop, nil
	case "fail":
		return UncertaintyFail, nil
	}
	return 0, fmt.Errorf("correction: unknown uncertainty broadcast mode %q (valid: drop, fail)", s)
}

// NormalizeByVanadium divides a focussed sample spectrum by the matching
// vanadium spectrum, bin by bin. Both histograms must share edges. Empty
// vanadium bins produce NaN sample bins rather than an error.
func NormalizeByVanadium(sample, vanadium *hist.Histogram, mode UncertaintyBroadcastMode) (*hist.Histogram, error) {
	if sample.Len() != vanadium.Len() {
		return nil, fmt.Errorf("correction: sample has %d bins, vanadium %d", sample.Len(), vanadium.Len())
	}
	if !sample.Edges.Unit.Compatible(vanadium.Edges.Unit) {
		return nil, fmt.Errorf("correction: sample edges in %s, vanadium in %s", sample.Edges.Unit, vanadium.Edges.Unit)
	}
	if mode == UncertaintyFail && vanadium.Variances != nil {
		return nil, fmt.Errorf("correction: vanadium carries variances; normalization would introduce correlated errors (mode %s)", mode)
	}

	out := &hist.Histogram{
		Edges:   sample.Edges,
		Weights: make([]float64, sample.Len()),
	}
	if sample.Variances != nil {
		out.Variances = make([]float64, sample.Len())
	}
	for i := range out.Weights {
		n := vanadium.Weights[i]
		if n == 0 {
			out.Weights[i] = math.NaN()
			if out.Variances != nil {
				out.Variances[i] = math.NaN()
			}
			continue
		}
		out.Weights[i] = sample.Weights[i] / n
		if out.Variances != nil {
			out.Variances[i] = sample.Variances[i] / (n * n)
		}
	}
	return out, nil
}
