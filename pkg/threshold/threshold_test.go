package threshold

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"tubulemetrics/pkg/movie"
)

func TestChordKneedleTwoClusters(t *testing.T) {
	// A high plateau followed by a low plateau: the knee must sit at the
	// drop, so the threshold separates the clusters.
	profile := make([]float64, 0, 100)
	for i := 0; i < 50; i++ {
		profile = append(profile, 200)
	}
	for i := 0; i < 50; i++ {
		profile = append(profile, 20)
	}

	idx, ok := ChordKneedle{}.FindKnee(profile)
	if !ok {
		t.Fatal("expected a knee on a two-cluster profile")
	}
	if idx < 45 || idx > 55 {
		t.Errorf("expected knee near the drop (index ~50), got %d", idx)
	}
	if v := profile[idx]; v != 200 && v != 20 {
		t.Errorf("knee value should come from the profile, got %v", v)
	}
}

func TestChordKneedleNoKneeOnFlatProfile(t *testing.T) {
	flat := []float64{7, 7, 7, 7, 7, 7}
	if _, ok := (ChordKneedle{}).FindKnee(flat); ok {
		t.Error("expected no knee on a flat profile")
	}
	if _, ok := (ChordKneedle{}).FindKnee([]float64{7}); ok {
		t.Error("expected no knee on a single-sample profile")
	}
}

func TestChordKneedleSensitivity(t *testing.T) {
	profile := []float64{10, 9.8, 9.7, 9.5, 9.4, 9.2}
	if _, ok := (ChordKneedle{Sensitivity: 5}).FindKnee(profile); ok {
		t.Error("expected deviations below sensitivity to be ignored")
	}
}

func TestProfileLength(t *testing.T) {
	f := movie.NewFrame(40, 30)
	got := len(Profile(f))
	// Middle row + middle column + two diagonals.
	if got < 40+30+2*30 {
		t.Errorf("profile unexpectedly short: %d samples", got)
	}
}

func TestSelectorSeparatesTwoPopulations(t *testing.T) {
	// Left half dim, right half bright: the threshold must fall in between.
	f := movie.NewFrame(60, 60)
	for y := 0; y < 60; y++ {
		for x := 0; x < 60; x++ {
			if x < 30 {
				f.Set(x, y, 30)
			} else {
				f.Set(x, y, 220)
			}
		}
	}
	m, err := movie.New([]*movie.Frame{f}, movie.Meta{})
	if err != nil {
		t.Fatal(err)
	}

	sel := NewSelector(&SelectorParams{
		Finder:          ChordKneedle{},
		Polarity:        BrightCells,
		SmoothingWindow: 10,
		Workers:         1,
	}, zerolog.Nop())

	raws := sel.Thresholds(m)
	if len(raws) != 1 {
		t.Fatalf("expected 1 threshold, got %d", len(raws))
	}
	if math.IsNaN(raws[0]) {
		t.Fatal("expected a threshold on a bimodal frame")
	}
	// v > threshold must keep exactly the bright population.
	if raws[0] < 30 || raws[0] >= 220 {
		t.Errorf("expected threshold separating populations, got %v", raws[0])
	}
}

func TestSelectorDarkPolarity(t *testing.T) {
	f := movie.NewFrame(60, 60)
	for y := 0; y < 60; y++ {
		for x := 0; x < 60; x++ {
			if x < 30 {
				f.Set(x, y, 220)
			} else {
				f.Set(x, y, 30)
			}
		}
	}
	m, err := movie.New([]*movie.Frame{f}, movie.Meta{})
	if err != nil {
		t.Fatal(err)
	}

	sel := NewSelector(&SelectorParams{
		Finder:          ChordKneedle{},
		Polarity:        DarkCells,
		SmoothingWindow: 10,
		Workers:         1,
	}, zerolog.Nop())

	raws := sel.Thresholds(m)
	if math.IsNaN(raws[0]) {
		t.Fatal("expected a threshold with dark polarity")
	}
	// v < threshold must keep exactly the dark population.
	if raws[0] <= 30 || raws[0] > 220 {
		t.Errorf("expected threshold separating populations, got %v", raws[0])
	}
}

func TestSelectorFlatFrameHasNoThreshold(t *testing.T) {
	f := movie.NewFrame(40, 40)
	for i := range f.Pix {
		f.Pix[i] = 99
	}
	m, err := movie.New([]*movie.Frame{f}, movie.Meta{})
	if err != nil {
		t.Fatal(err)
	}

	sel := NewSelector(&SelectorParams{
		Finder:          ChordKneedle{},
		Polarity:        BrightCells,
		SmoothingWindow: 10,
		Workers:         2,
	}, zerolog.Nop())

	if raw := sel.Thresholds(m)[0]; !math.IsNaN(raw) {
		t.Errorf("expected NaN threshold on a flat frame, got %v", raw)
	}
}

func TestSmootherIsCausal(t *testing.T) {
	raws := []float64{10, 12, 14, 16, 18, 20}
	base := NewSmoother(3).Smooth(raws)

	// Changing a later raw value must not affect earlier smoothed values.
	perturbed := append([]float64(nil), raws...)
	perturbed[5] = 1000
	got := NewSmoother(3).Smooth(perturbed)

	for i := 0; i < 5; i++ {
		if got[i].Smoothed != base[i].Smoothed {
			t.Errorf("frame %d: smoothed value changed from %v to %v after perturbing a later frame",
				i, base[i].Smoothed, got[i].Smoothed)
		}
	}
}

func TestSmootherWindowAndReuse(t *testing.T) {
	nan := math.NaN()
	raws := []float64{10, 20, nan, 30}
	recs := NewSmoother(2).Smooth(raws)

	if recs[0].Smoothed != 10 {
		t.Errorf("frame 0: expected 10, got %v", recs[0].Smoothed)
	}
	if recs[1].Smoothed != 15 {
		t.Errorf("frame 1: expected mean(10,20)=15, got %v", recs[1].Smoothed)
	}
	// No knee: previous smoothed value is reused, raw stays NaN.
	if recs[2].Smoothed != 15 {
		t.Errorf("frame 2: expected reused 15, got %v", recs[2].Smoothed)
	}
	if !math.IsNaN(recs[2].Raw) {
		t.Errorf("frame 2: expected NaN raw, got %v", recs[2].Raw)
	}
	// The NaN frame does not occupy a window slot.
	if recs[3].Smoothed != 25 {
		t.Errorf("frame 3: expected mean(20,30)=25, got %v", recs[3].Smoothed)
	}
}

func TestSmootherLeadingNoKnee(t *testing.T) {
	nan := math.NaN()
	recs := NewSmoother(3).Smooth([]float64{nan, nan, 12})

	if !math.IsNaN(recs[0].Smoothed) || !math.IsNaN(recs[1].Smoothed) {
		t.Error("expected NaN smoothed values before the first knee")
	}
	if recs[2].Smoothed != 12 {
		t.Errorf("frame 2: expected 12, got %v", recs[2].Smoothed)
	}
}
