package streak

import (
	"fmt"
	"math"

	"github.com/neutron-data/powder.report/internal/events"
	"github.com/neutron-data/powder.report/internal/units"
)

// FitParams tunes the iterative robust line fit.
type FitParams struct {
	// Iterations is the fixed number of refit passes. The reference
	// behaviour uses 15 and never checks a convergence criterion.
	Iterations int
	// ModPeriod is the modulation repeat window; events farther than a
	// third of it from the cluster line are masked too_far_from_center.
	ModPeriod units.Scalar
	// NeighborGap, when positive, masks events whose cluster line passes
	// within this time of a neighboring cluster's line
	// (too_close_to_other). Zero disables the check.
	NeighborGap units.Scalar
}

// DefaultFitParams returns the reference fit configuration for a mode's
// modulation period.
func DefaultFitParams(modPeriod units.Scalar) FitParams {
	return FitParams{Iterations: 15, ModPeriod: modPeriod}
}

// FitResult holds the per-streak fit parameters. T0 and Slope carry
// variances from the weighted least squares; the variances are informational
// only and are stripped before t0 is applied to the data, because error
// propagation through an iterative trimmed fit is statistically invalid.
type FitResult struct {
	T0    units.Column // s, per streak group; NaN for masked or degenerate groups
	Slope units.Column // s/m, per streak group
}

// FitClusters fits t = s*x + t0 per streak group with x = sin(two_theta/2)
// * Ltotal, masking outliers between iterations instead of removing them.
// On return the binned table carries a too_far_from_center event mask and a
// per-event tof coordinate (t - t0 of the owning group, NaN for groups
// without a valid fit).
func FitClusters(b *events.Binned, p FitParams) (*FitResult, error) {
	if p.Iterations <= 0 {
		return nil, fmt.Errorf("streak: fit needs at least 1 iteration, got %d", p.Iterations)
	}
	mod, err := p.ModPeriod.To(units.Second)
	if err != nil {
		return nil, fmt.Errorf("streak: modulation period: %w", err)
	}
	if mod.Value <= 0 {
		return nil, fmt.Errorf("streak: modulation period must be positive, got %v", p.ModPeriod)
	}
	var gap float64
	if p.NeighborGap.Value > 0 {
		g, err := p.NeighborGap.To(units.Second)
		if err != nil {
			return nil, fmt.Errorf("streak: neighbor gap: %w", err)
		}
		gap = g.Value
	}

	x, err := sinThetaL(b.Table)
	if err != nil {
		return nil, err
	}
	tcol, err := b.T.To(units.Second)
	if err != nil {
		return nil, err
	}

	ng := len(b.Groups)
	res := &FitResult{
		T0:    units.Column{Unit: units.Second, Values: make([]float64, ng), Variances: make([]float64, ng)},
		Slope: units.Column{Unit: units.Second.Div(units.Meter), Values: make([]float64, ng), Variances: make([]float64, ng)},
	}
	tooFar := make([]bool, b.Len())
	tooClose := make([]bool, b.Len())
	noPeak := b.GroupMask("no_peak")

	maxDist := mod.Value / 3

	for iter := 0; iter < p.Iterations; iter++ {
		for g, r := range b.Groups {
			if noPeak != nil && noPeak[g] {
				res.T0.Values[g] = math.NaN()
				res.Slope.Values[g] = math.NaN()
				continue
			}
			s, t0, varS, varT0 := weightedLineFit(b, x.Values, tcol.Values, r, tooFar, tooClose)
			res.Slope.Values[g], res.Slope.Variances[g] = s, varS
			res.T0.Values[g], res.T0.Variances[g] = t0, varT0
		}

		// Masking uses the point estimates only: variances stripped here.
		t0v := res.T0.DropVariances()
		sv := res.Slope.DropVariances()
		for g, r := range b.Groups {
			t0, s := t0v.Values[g], sv.Values[g]
			if math.IsNaN(t0) {
				continue
			}
			for i := r.Start; i < r.End; i++ {
				line := t0 + s*x.Values[i]
				tooFar[i] = math.Abs(line-tcol.Values[i]) > maxDist
				if gap > 0 {
					tooClose[i] = neighborLineClose(t0v.Values, sv.Values, g, x.Values[i], line, gap)
				}
			}
		}
	}

	if err := b.SetMask("too_far_from_center", tooFar); err != nil {
		return nil, err
	}
	if gap > 0 {
		if err := b.SetMask("too_close_to_other", tooClose); err != nil {
			return nil, err
		}
	}

	// Attach tof = t - t0 using the point estimate of t0 only.
	tof := units.Column{Unit: units.Second, Values: make([]float64, b.Len())}
	for g, r := range b.Groups {
		t0 := res.T0.Values[g]
		for i := r.Start; i < r.End; i++ {
			tof.Values[i] = tcol.Values[i] - t0 // NaN t0 propagates to tof
		}
	}
	if err := b.SetCoord("tof", tof); err != nil {
		return nil, err
	}
	return res, nil
}

// weightedLineFit runs one weighted least-squares pass over the unmasked
// events of a group. Degenerate groups (fewer than two usable events, or no
// spread in x) return NaN parameters.
func weightedLineFit(b *events.Binned, x, t []float64, r events.Range, tooFar, tooClose []bool) (s, t0, varS, varT0 float64) {
	var sw, swx, swt float64
	n := 0
	use := func(i int) bool {
		return !tooFar[i] && !tooClose[i] && !b.Excluded(i) && b.Weight[i] > 0
	}
	for i := r.Start; i < r.End; i++ {
		if !use(i) {
			continue
		}
		w := b.Weight[i]
		sw += w
		swx += w * x[i]
		swt += w * t[i]
		n++
	}
	if n < 2 || sw == 0 {
		return math.NaN(), math.NaN(), math.NaN(), math.NaN()
	}
	avgX := swx / sw
	avgT := swt / sw

	var cov, varX float64
	for i := r.Start; i < r.End; i++ {
		if !use(i) {
			continue
		}
		w := b.Weight[i]
		dx := x[i] - avgX
		cov += w * dx * (t[i] - avgT)
		varX += w * dx * dx
	}
	if varX == 0 {
		return math.NaN(), math.NaN(), math.NaN(), math.NaN()
	}
	s = cov / varX
	t0 = avgT - s*avgX

	// Residual-based parameter variances; reported but never propagated.
	var ssr float64
	for i := r.Start; i < r.End; i++ {
		if !use(i) {
			continue
		}
		resid := t[i] - (t0 + s*x[i])
		ssr += b.Weight[i] * resid * resid
	}
	sigma2 := ssr / sw
	varS = sigma2 / varX
	varT0 = sigma2 * (1/sw + avgX*avgX/varX)
	return s, t0, varS, varT0
}

// neighborLineClose reports whether the line of an adjacent streak passes
// within gap of this cluster's line at geometry x. Neighbors wrap around,
// matching the roll-based reference formulation.
func neighborLineClose(t0s, slopes []float64, g int, x, line float64, gap float64) bool {
	n := len(t0s)
	if n < 2 {
		return false
	}
	for _, ng := range [2]int{(g - 1 + n) % n, (g + 1) % n} {
		if ng == g {
			continue
		}
		t0n, sn := t0s[ng], slopes[ng]
		if math.IsNaN(t0n) {
			continue
		}
		if math.Abs((t0n+sn*x)-line) < gap {
			return true
		}
	}
	return false
}
