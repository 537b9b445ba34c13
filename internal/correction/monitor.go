package correction

import (
	"fmt"
	"math"
	"sort"

	"github.com/neutron-data/powder.report/internal/events"
	"github.com/neutron-data/powder.report/internal/hist"
	"github.com/neutron-data/powder.report/internal/monitoring"
)

// SmoothMonitor returns a lowpass-smoothed copy of a monitor histogram using
// a centered moving average of the given odd window. Variances do not survive
// smoothing; when present they are dropped with a logged notice.
func SmoothMonitor(m *hist.Histogram, window int) (*hist.Histogram, error) {
	if window < 1 || window%2 == 0 {
		return nil, fmt.Errorf("correction: smoothing window must be odd and positive, got %d", window)
	}
	if m.Variances != nil {
		monitoring.Logf("correction: dropping monitor variances during smoothing")
	}
	half := window / 2
	out := &hist.Histogram{
		Edges:   m.Edges,
		Weights: make([]float64, m.Len()),
	}
	for i := range out.Weights {
		lo, hi := i-half, i+half
		if lo < 0 {
			lo = 0
		}
		if hi > m.Len()-1 {
			hi = m.Len() - 1
		}
		sum := 0.0
		for j := lo; j <= hi; j++ {
			sum += m.Weights[j]
		}
		out.Weights[i] = sum / float64(hi-lo+1)
	}
	return out, nil
}

// NormalizeByMonitor divides each event weight by the monitor count in the
// wavelength bin the event falls into. Events outside the monitor's
// wavelength range, or in empty monitor bins, get NaN weights and must be
// masked or filtered downstream. Requires a wavelength coordinate.
func NormalizeByMonitor(t *events.Table, monitor *hist.Histogram) error {
	wl, err := t.Coord("wavelength")
	if err != nil {
		return fmt.Errorf("correction: %w", err)
	}
	if wl, err = wl.To(monitor.Edges.Unit); err != nil {
		return fmt.Errorf("correction: wavelength: %w", err)
	}
	edges := monitor.Edges.Values
	for i, v := range wl.Values {
		b := monitorBin(edges, v)
		if b < 0 || monitor.Weights[b] == 0 {
			t.Weight[i] = math.NaN()
			continue
		}
		t.Weight[i] /= monitor.Weights[b]
	}
	return nil
}

// monitorBin locates v in the edge sequence, last edge inclusive.
func monitorBin(edges []float64, v float64) int {
	if math.IsNaN(v) || v < edges[0] || v > edges[len(edges)-1] {
		return -1
	}
	if v == edges[len(edges)-1] {
		return len(edges) - 2
	}
	// First edge > v, so v lands in the bin to its left.
	i := sort.Search(len(edges), func(i int) bool { return edges[i] > v })
	return i - 1
}
