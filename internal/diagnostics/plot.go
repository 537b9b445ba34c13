// Package diagnostics renders focussed spectra as static images and HTML
// reports so a reduction can be inspected without re-running it.
package diagnostics

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/neutron-data/powder.report/internal/hist"
	"github.com/neutron-data/powder.report/internal/units"
)

// PlotSpectrum saves a step plot of the focussed spectrum as a PNG.
// Bin edges are drawn in angstrom.
func PlotSpectrum(h *hist.Histogram, title, path string) error {
	if h == nil || h.Len() == 0 {
		return fmt.Errorf("diagnostics: empty spectrum")
	}
	edges, err := h.Edges.To(units.Angstrom)
	if err != nil {
		return fmt.Errorf("diagnostics: spectrum edges: %w", err)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "d-spacing (angstrom)"
	p.Y.Label.Text = "Intensity"

	// Draw each bin as a flat segment so empty bins are visible as gaps
	// to zero rather than interpolated over.
	pts := make(plotter.XYs, 0, 2*h.Len())
	for i, w := range h.Weights {
		pts = append(pts,
			plotter.XY{X: edges.Values[i], Y: w},
			plotter.XY{X: edges.Values[i+1], Y: w},
		)
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("diagnostics: build spectrum line: %w", err)
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(line)

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save spectrum plot: %w", err)
	}
	return nil
}
