package streak

import (
	"math"
	"testing"

	"github.com/neutron-data/powder.report/internal/beamline"
	"github.com/neutron-data/powder.report/internal/events"
	"github.com/neutron-data/powder.report/internal/units"
)

// tableWithGeometry builds an event table with per-event two_theta (rad) and
// Ltotal (m) coordinates, arrival times in seconds and unit weights.
func tableWithGeometry(t *testing.T, times, twoTheta, ltotal []float64) *events.Table {
	t.Helper()
	tab, err := events.NewTable(units.NewColumn(times, units.Second), make([]int64, len(times)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := tab.SetCoord("two_theta", units.NewColumn(twoTheta, units.Radian)); err != nil {
		t.Fatal(err)
	}
	if err := tab.SetCoord("Ltotal", units.NewColumn(ltotal, units.Meter)); err != nil {
		t.Fatal(err)
	}
	return tab
}

func TestClusterByStreakSeparatesTwoPeaks(t *testing.T) {
	// Two narrow clusters in coarse d with an empty gap between them, plus
	// one stray event on each side fixing the histogram range. Cluster
	// membership is tracked through the two_theta coordinate.
	var coarse, twoTheta []float64
	add := func(d, tt float64, n int) {
		for i := 0; i < n; i++ {
			coarse = append(coarse, d)
			twoTheta = append(twoTheta, tt)
		}
	}
	add(0.5, 0.1, 1)
	add(2.5, 0.1, 1)
	shape := []int{3, 6, 10, 6, 3}
	for k, n := range shape {
		off := float64(k-2) * 0.002
		add(1.0+off, 1.0, n)
		add(2.0+off, 2.0, n)
	}

	times := make([]float64, len(coarse))
	ltotal := make([]float64, len(coarse))
	for i := range ltotal {
		ltotal[i] = 10
	}
	tab := tableWithGeometry(t, times, twoTheta, ltotal)
	if err := tab.SetCoord("coarse_d", units.NewColumn(coarse, units.Angstrom)); err != nil {
		t.Fatal(err)
	}

	b, err := ClusterByStreak(tab, DefaultClusterParams())
	if err != nil {
		t.Fatal(err)
	}
	if b.Axis != "streak" {
		t.Fatalf("axis = %q, want streak", b.Axis)
	}
	if b.HasCoord("coarse_d") {
		t.Fatal("coarse_d should be dropped after clustering")
	}

	tt, err := b.Coord("two_theta")
	if err != nil {
		t.Fatal(err)
	}
	var got []float64
	for g, r := range b.Groups {
		if b.GroupExcluded(g) {
			continue
		}
		if r.Len() != 28 {
			t.Errorf("unmasked group %d has %d events, want 28", g, r.Len())
		}
		first := tt.Values[r.Start]
		for i := r.Start; i < r.End; i++ {
			if tt.Values[i] != first {
				t.Fatalf("group %d mixes events from different clusters", g)
			}
		}
		got = append(got, first)
	}
	if len(got) != 2 || got[0] != 1.0 || got[1] != 2.0 {
		t.Fatalf("unmasked cluster markers = %v, want [1 2]", got)
	}
}

func TestClusterByStreakDropsValleyBetweenPeaklessIntervals(t *testing.T) {
	// One weighted event per histogram bin sculpts a 20-bin profile over
	// coarse d in [0, 2]: two sharp peaks, a plateau and a lone spike that
	// sit on their own baseline, and deep dips between all of them. The
	// dip after the plateau is a detected valley, but neither interval it
	// borders holds a peak, so it must not become a streak boundary.
	heights := []float64{6, 1, 4, 10, 4, 1, 1, 1, 4, 10, 4, 1, 1, 3, 3, 3, 1, 3, 1, 6}
	var coarse, weights []float64
	for i, w := range heights {
		coarse = append(coarse, 0.1*float64(i)+0.05)
		weights = append(weights, w)
	}
	// Anchor the histogram range so the bin edges land on multiples of 0.1.
	coarse[0], coarse[len(coarse)-1] = 0.0, 2.0

	tab, err := events.NewTable(units.NewColumn(make([]float64, len(coarse)), units.Second),
		make([]int64, len(coarse)), weights)
	if err != nil {
		t.Fatal(err)
	}
	if err := tab.SetCoord("coarse_d", units.NewColumn(coarse, units.Angstrom)); err != nil {
		t.Fatal(err)
	}

	b, err := ClusterByStreak(tab, ClusterParams{
		Bins:           20,
		BaselineWindow: 5,
		MinPeakSep:     3,
		MinValleySep:   3,
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []float64{0, 0.15, 0.65, 1.15, 2}
	if len(b.Edges.Values) != len(want) {
		t.Fatalf("streak edges = %v, want %v", b.Edges.Values, want)
	}
	for i, e := range b.Edges.Values {
		if math.Abs(e-want[i]) > 1e-9 {
			t.Fatalf("streak edges = %v, want %v", b.Edges.Values, want)
		}
	}
	// The dip at 1.65 separates two peakless intervals and is discarded.
	for _, e := range b.Edges.Values {
		if math.Abs(e-1.65) < 1e-9 {
			t.Error("spurious boundary at 1.65 survived")
		}
	}
	for g, wantMasked := range []bool{true, false, false, true} {
		if got := b.GroupExcluded(g); got != wantMasked {
			t.Errorf("group %d excluded = %v, want %v", g, got, wantMasked)
		}
	}
}

func TestClusterByStreakRequiresCoarseD(t *testing.T) {
	tab := tableWithGeometry(t, []float64{0}, []float64{1}, []float64{10})
	if _, err := ClusterByStreak(tab, DefaultClusterParams()); err == nil {
		t.Fatal("want error for missing coarse_d coordinate")
	}
}

// singleGroup bins all events into one streak covering the marker coordinate.
func singleGroup(t *testing.T, tab *events.Table) *events.Binned {
	t.Helper()
	marker := make([]float64, tab.Len())
	for i := range marker {
		marker[i] = 0.5
	}
	if err := tab.SetCoord("streak_marker", units.NewColumn(marker, units.One)); err != nil {
		t.Fatal(err)
	}
	b, err := events.BinByCoord(tab, "streak_marker", units.NewColumn([]float64{0, 1}, units.One))
	if err != nil {
		t.Fatal(err)
	}
	b.Axis = "streak"
	return b
}

// lineData generates t = s*x + t0 over x = 1..n metres at two_theta = pi,
// with the events at the given indices shifted far off the line.
func lineData(n int, s, t0, shift float64, outliers ...int) (times, twoTheta, ltotal []float64) {
	times = make([]float64, n)
	twoTheta = make([]float64, n)
	ltotal = make([]float64, n)
	for i := 0; i < n; i++ {
		x := float64(i + 1)
		ltotal[i] = x
		twoTheta[i] = math.Pi
		times[i] = t0 + s*x
	}
	for _, i := range outliers {
		times[i] += shift
	}
	return times, twoTheta, ltotal
}

func TestFitClustersRejectsOutliers(t *testing.T) {
	const (
		sTrue  = 5e-4
		t0True = 1e-3
	)
	times, twoTheta, ltotal := lineData(20, sTrue, t0True, 6e-3, 4, 14)
	params := FitParams{Iterations: 15, ModPeriod: units.Scalar{Value: 3e-3, Unit: units.Second}}

	// Reference: a single contaminated pass, no outlier rejection.
	single, err := FitClusters(singleGroup(t, tableWithGeometry(t, times, twoTheta, ltotal)), FitParams{
		Iterations: 1, ModPeriod: params.ModPeriod,
	})
	if err != nil {
		t.Fatal(err)
	}
	singleErr := math.Abs(single.T0.Values[0] - t0True)
	if singleErr < 1e-5 {
		t.Fatalf("contaminated single-pass fit unexpectedly accurate: t0 error %g", singleErr)
	}

	b := singleGroup(t, tableWithGeometry(t, times, twoTheta, ltotal))
	res, err := FitClusters(b, params)
	if err != nil {
		t.Fatal(err)
	}
	if got := math.Abs(res.T0.Values[0] - t0True); got > 1e-9 {
		t.Errorf("t0 = %v, want %v within 1e-9", res.T0.Values[0], t0True)
	}
	if got := math.Abs(res.Slope.Values[0] - sTrue); got > 1e-9 {
		t.Errorf("slope = %v, want %v within 1e-9", res.Slope.Values[0], sTrue)
	}
	if math.Abs(res.T0.Values[0]-t0True) >= singleErr {
		t.Error("iterated fit should beat the contaminated single pass")
	}

	mask := b.Mask("too_far_from_center")
	if mask == nil {
		t.Fatal("too_far_from_center mask not set")
	}
	for i, m := range mask {
		want := i == 4 || i == 14
		if m != want {
			t.Errorf("mask[%d] = %v, want %v", i, m, want)
		}
	}

	tof, err := b.Coord("tof")
	if err != nil {
		t.Fatal(err)
	}
	// tof = t - t0 for every event, masked ones included.
	for i := range times {
		if got, want := tof.Values[i], times[i]-t0True; math.Abs(got-want) > 1e-9 {
			t.Errorf("tof[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestFitClustersMaskingIdempotent(t *testing.T) {
	times, twoTheta, ltotal := lineData(20, 5e-4, 1e-3, 6e-3, 7)
	b := singleGroup(t, tableWithGeometry(t, times, twoTheta, ltotal))
	params := FitParams{Iterations: 15, ModPeriod: units.Scalar{Value: 3e-3, Unit: units.Second}}

	if _, err := FitClusters(b, params); err != nil {
		t.Fatal(err)
	}
	first := append([]bool(nil), b.Mask("too_far_from_center")...)

	// A second run starts from the already-masked table and must converge
	// to the same line, flagging exactly the same events.
	if _, err := FitClusters(b, params); err != nil {
		t.Fatal(err)
	}
	for i, m := range b.Mask("too_far_from_center") {
		if m != first[i] {
			t.Fatalf("mask changed at %d on reapplication", i)
		}
	}
}

// twoStreaks bins events into two streak groups, the first n on the line
// t = sA*x and the rest on t = sB*x, with x = Ltotal = 1..n in each group.
func twoStreaks(t *testing.T, n int, sA, sB float64) *events.Binned {
	t.Helper()
	times := make([]float64, 2*n)
	twoTheta := make([]float64, 2*n)
	ltotal := make([]float64, 2*n)
	marker := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		x := float64(i + 1)
		times[i], times[n+i] = sA*x, sB*x
		ltotal[i], ltotal[n+i] = x, x
		twoTheta[i], twoTheta[n+i] = math.Pi, math.Pi
		marker[i], marker[n+i] = 0.5, 1.5
	}
	tab := tableWithGeometry(t, times, twoTheta, ltotal)
	if err := tab.SetCoord("streak_marker", units.NewColumn(marker, units.One)); err != nil {
		t.Fatal(err)
	}
	b, err := events.BinByCoord(tab, "streak_marker", units.NewColumn([]float64{0, 1, 2}, units.One))
	if err != nil {
		t.Fatal(err)
	}
	b.Axis = "streak"
	return b
}

func TestFitClustersMasksNeighborOverlap(t *testing.T) {
	// Two noiseless streaks through the origin whose lines diverge with x.
	// At path length x the lines are 1e-3*x seconds apart, so a 3 ms gap
	// flags exactly the events with x < 3 in both groups.
	b := twoStreaks(t, 10, 1e-3, 2e-3)
	res, err := FitClusters(b, FitParams{
		Iterations:  3,
		ModPeriod:   units.Scalar{Value: 1, Unit: units.Second},
		NeighborGap: units.Scalar{Value: 3, Unit: units.Millisecond},
	})
	if err != nil {
		t.Fatal(err)
	}
	for g, want := range []float64{1e-3, 2e-3} {
		if got := res.Slope.Values[g]; math.Abs(got-want) > 1e-9 {
			t.Errorf("slope[%d] = %v, want %v", g, got, want)
		}
	}

	mask := b.Mask("too_close_to_other")
	if mask == nil {
		t.Fatal("too_close_to_other mask not set")
	}
	x, err := b.Coord("Ltotal")
	if err != nil {
		t.Fatal(err)
	}
	for i, m := range mask {
		if want := x.Values[i] < 3; m != want {
			t.Errorf("mask[%d] (x=%v) = %v, want %v", i, x.Values[i], m, want)
		}
	}
	for i, m := range b.Mask("too_far_from_center") {
		if m {
			t.Errorf("too_far_from_center[%d] set for on-line event", i)
		}
	}
}

func TestFitClustersNeighborCheckDisabledByDefault(t *testing.T) {
	b := twoStreaks(t, 10, 1e-3, 2e-3)
	if _, err := FitClusters(b, FitParams{
		Iterations: 3,
		ModPeriod:  units.Scalar{Value: 1, Unit: units.Second},
	}); err != nil {
		t.Fatal(err)
	}
	if b.Mask("too_close_to_other") != nil {
		t.Error("too_close_to_other mask set with a zero gap")
	}
}

func TestFitClustersSkipsNoPeakGroups(t *testing.T) {
	times, twoTheta, ltotal := lineData(5, 5e-4, 1e-3, 0)
	b := singleGroup(t, tableWithGeometry(t, times, twoTheta, ltotal))
	if err := b.SetGroupMask("no_peak", []bool{true}); err != nil {
		t.Fatal(err)
	}
	res, err := FitClusters(b, FitParams{Iterations: 15, ModPeriod: units.Scalar{Value: 3e-3, Unit: units.Second}})
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(res.T0.Values[0]) {
		t.Errorf("t0 = %v for masked group, want NaN", res.T0.Values[0])
	}
	tof, err := b.Coord("tof")
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range tof.Values {
		if !math.IsNaN(v) {
			t.Errorf("tof[%d] = %v for masked group, want NaN", i, v)
		}
	}
}

func TestFitClustersVariancePolicy(t *testing.T) {
	times, twoTheta, ltotal := lineData(10, 5e-4, 1e-3, 6e-3, 3)
	b := singleGroup(t, tableWithGeometry(t, times, twoTheta, ltotal))
	res, err := FitClusters(b, FitParams{Iterations: 15, ModPeriod: units.Scalar{Value: 3e-3, Unit: units.Second}})
	if err != nil {
		t.Fatal(err)
	}
	// The fit reports parameter variances but the tof coordinate carries
	// none: only the point estimate of t0 corrects the data.
	if res.T0.Variances == nil {
		t.Fatal("fit should report t0 variances")
	}
	tof, err := b.Coord("tof")
	if err != nil {
		t.Fatal(err)
	}
	if tof.Variances != nil {
		t.Error("tof coordinate must not carry broadcast fit variances")
	}
}

func TestModularUnwrapRoundTrip(t *testing.T) {
	const (
		twoTheta = math.Pi / 3
		ltotal   = 10.0
		dTrue    = 2.0
		mod      = 1e-3
		time0    = 2e-4
	)
	// Expected arrival for the true d, then alias it into one cycle.
	x := math.Sin(twoTheta/2) * ltotal
	trueTof := 2 * x * 1e-10 * dTrue / beamline.PlanckOverNeutronMass
	aliased := time0 + math.Mod(trueTof, mod)

	// Second event: background far from every candidate arrival.
	tab := tableWithGeometry(t,
		[]float64{aliased, time0 + 2.5e-4},
		[]float64{twoTheta, twoTheta},
		[]float64{ltotal, ltotal})

	params := KnownPeakParams{
		DHKL:        []float64{1, 2, 3},
		PulseLength: units.Scalar{Value: 2e-4, Unit: units.Second},
		ModPeriod:   units.Scalar{Value: mod, Unit: units.Second},
		Time0:       units.Scalar{Value: time0, Unit: units.Second},
	}
	d, err := ComputeD(tab, params)
	if err != nil {
		t.Fatal(err)
	}
	if d.Values[0] != dTrue {
		t.Fatalf("resolved d = %v, want %v", d.Values[0], dTrue)
	}
	if !math.IsNaN(d.Values[1]) {
		t.Fatalf("background event resolved to d = %v, want NaN", d.Values[1])
	}

	tof, err := TofFromDHKL(tab, d, params)
	if err != nil {
		t.Fatal(err)
	}
	if got := math.Abs(tof.Values[0] - trueTof); got > 1e-15 {
		t.Errorf("unwrapped tof = %v, want %v (error %g)", tof.Values[0], trueTof, got)
	}
	if !math.IsNaN(tof.Values[1]) {
		t.Errorf("tof for unresolved event = %v, want NaN", tof.Values[1])
	}
}

func TestKnownPeakParamsValidate(t *testing.T) {
	good := KnownPeakParams{
		DHKL:        []float64{1, 2},
		PulseLength: units.Scalar{Value: 1, Unit: units.Millisecond},
		ModPeriod:   units.Scalar{Value: 1, Unit: units.Millisecond},
		Time0:       units.Scalar{Unit: units.Second},
	}
	if err := good.Validate(); err != nil {
		t.Fatal(err)
	}
	unsorted := good
	unsorted.DHKL = []float64{2, 1}
	if err := unsorted.Validate(); err == nil {
		t.Error("want error for unsorted dhkl list")
	}
	empty := good
	empty.DHKL = nil
	if err := empty.Validate(); err == nil {
		t.Error("want error for empty dhkl list")
	}
}
