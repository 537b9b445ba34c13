package diagnostics

import (
	"fmt"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/neutron-data/powder.report/internal/hist"
	"github.com/neutron-data/powder.report/internal/units"
)

// WriteReport renders an interactive HTML line chart of the focussed
// spectrum. When the histogram carries variances each point shows its
// standard deviation in the tooltip dimension.
func WriteReport(h *hist.Histogram, title, subtitle, path string) error {
	if h == nil || h.Len() == 0 {
		return fmt.Errorf("diagnostics: empty spectrum")
	}
	edges, err := h.Edges.To(units.Angstrom)
	if err != nil {
		return fmt.Errorf("diagnostics: spectrum edges: %w", err)
	}

	centers := make([]string, h.Len())
	data := make([]opts.LineData, h.Len())
	for i, w := range h.Weights {
		c := 0.5 * (edges.Values[i] + edges.Values[i+1])
		centers[i] = fmt.Sprintf("%.4f", c)
		if h.Variances != nil {
			data[i] = opts.LineData{Value: []interface{}{centers[i], w, math.Sqrt(h.Variances[i])}}
		} else {
			data[i] = opts.LineData{Value: w}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1100px", Height: "550px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "d-spacing (angstrom)", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Intensity"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)

	line.SetXAxis(centers)
	line.AddSeries("intensity", data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("diagnostics: create report: %w", err)
	}
	defer f.Close()

	if err := line.Render(f); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}
