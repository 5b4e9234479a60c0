package measure

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"tubulemetrics/pkg/segmentation"
	"tubulemetrics/pkg/trace"
)

func labeledMask(w, h int, fn func(x, y int) uint8) *segmentation.Mask {
	m := segmentation.NewMask(0, w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Set(x, y, fn(x, y))
		}
	}
	return m
}

// stripMask is a horizontal tubule: 10 px lumen between 10 px cell bands,
// background above and below.
func stripMask() *segmentation.Mask {
	return labeledMask(80, 60, func(x, y int) uint8 {
		switch {
		case y < 15:
			return segmentation.LabelBackgroundA
		case y < 25:
			return segmentation.LabelCell
		case y < 35:
			return segmentation.LabelLumen
		case y < 45:
			return segmentation.LabelCell
		default:
			return segmentation.LabelBackgroundB
		}
	})
}

func traceMask(t *testing.T, m *segmentation.Mask, maxSkew float64) *trace.Centerline {
	t.Helper()
	line, err := trace.NewTracer(&trace.Params{MaxSkewDeg: maxSkew, MaxLengthRatio: 2}, zerolog.Nop()).Trace(m)
	if err != nil {
		t.Fatalf("tracing failed: %v", err)
	}
	return line
}

func newTestSampler(scale, spacing float64) *Sampler {
	return NewSampler(&Params{Scale: scale, Spacing: spacing}, zerolog.Nop())
}

func eventAt(events []SampleEvent, position int) (SampleEvent, bool) {
	for _, ev := range events {
		if ev.Position == position {
			return ev, true
		}
	}
	return SampleEvent{}, false
}

func TestMeasureStrip(t *testing.T) {
	m := stripMask()
	line := traceMask(t, m, 30)
	res := newTestSampler(1, 10).MeasureFrame(m, line)

	if len(res.Events) < 6 {
		t.Fatalf("expected at least 6 events along the strip, got %d", len(res.Events))
	}
	if res.Summary.Count != len(res.Events) {
		t.Errorf("summary count %d disagrees with %d events", res.Summary.Count, len(res.Events))
	}

	ev, ok := eventAt(res.Events, 4)
	if !ok {
		t.Fatalf("expected an event at position 4")
	}
	if ev.TubuleWidth < 28 || ev.TubuleWidth > 32 {
		t.Errorf("expected tubule width near 30, got %v", ev.TubuleWidth)
	}
	if ev.LumenWidth < 8 || ev.LumenWidth > 11 {
		t.Errorf("expected lumen width near 9, got %v", ev.LumenWidth)
	}
	if want := (ev.TubuleWidth - ev.LumenWidth) / 2; math.Abs(ev.CellWidth-want) > 1e-9 {
		t.Errorf("expected cell width %v, got %v", want, ev.CellWidth)
	}

	if ev.LumenArea != 800 {
		t.Errorf("expected lumen area 800, got %v", ev.LumenArea)
	}
	if ev.CellArea != 1600 {
		t.Errorf("expected cell area 1600, got %v", ev.CellArea)
	}
	if res.Summary.TubuleMean < 27 || res.Summary.TubuleMean > 38 {
		t.Errorf("expected mean tubule width near 30, got %v", res.Summary.TubuleMean)
	}
}

func TestMeasureScalesLinearly(t *testing.T) {
	m := stripMask()
	line := traceMask(t, m, 30)
	// Scale times 2 with spacing times 2 samples the same pixel positions.
	base := newTestSampler(1, 10).MeasureFrame(m, line)
	scaled := newTestSampler(2, 20).MeasureFrame(m, line)

	if len(base.Events) != len(scaled.Events) {
		t.Fatalf("event counts differ: %d vs %d", len(base.Events), len(scaled.Events))
	}
	for i, a := range base.Events {
		b := scaled.Events[i]
		if b.Position != a.Position {
			t.Fatalf("event %d: positions differ: %d vs %d", i, a.Position, b.Position)
		}
		if b.TubuleWidth != 2*a.TubuleWidth || b.LumenWidth != 2*a.LumenWidth {
			t.Errorf("event %d: widths did not double: %+v vs %+v", i, a, b)
		}
		if b.LumenArea != 4*a.LumenArea || b.CellArea != 4*a.CellArea {
			t.Errorf("event %d: areas did not quadruple", i)
		}
	}
}

func TestMeasureCircularLumen(t *testing.T) {
	const cx, cy = 30, 30
	const r, outer = 12.0, 25.0
	m := labeledMask(60, 60, func(x, y int) uint8 {
		d := math.Hypot(float64(x)-cx, float64(y)-cy)
		switch {
		case d <= r:
			return segmentation.LabelLumen
		case d <= outer:
			return segmentation.LabelCell
		default:
			return segmentation.LabelBackgroundA
		}
	})
	line := traceMask(t, m, 150)
	res := newTestSampler(1, 5).MeasureFrame(m, line)

	ev, ok := eventAt(res.Events, 2)
	if !ok {
		t.Fatalf("expected an event near the circle center")
	}
	if math.Abs(ev.TubuleWidth-2*outer) > 4 {
		t.Errorf("expected tubule width near %v, got %v", 2*outer, ev.TubuleWidth)
	}
	if math.Abs(ev.LumenWidth-2*r) > 4 {
		t.Errorf("expected lumen width near %v, got %v", 2*r, ev.LumenWidth)
	}
	if want := math.Pi * r * r; math.Abs(ev.LumenArea-want) > 0.1*want {
		t.Errorf("expected lumen area near %v, got %v", want, ev.LumenArea)
	}
	if want := math.Pi * (outer*outer - r*r); math.Abs(ev.CellArea-want) > 0.1*want {
		t.Errorf("expected cell area near %v, got %v", want, ev.CellArea)
	}
}

func TestMeasureDropsFrameExitingProfiles(t *testing.T) {
	// No background below the tubule: downward rays leave the frame and
	// every position is dropped.
	m := labeledMask(80, 60, func(x, y int) uint8 {
		switch {
		case y < 15:
			return segmentation.LabelBackgroundA
		case y < 25:
			return segmentation.LabelCell
		case y < 35:
			return segmentation.LabelLumen
		default:
			return segmentation.LabelCell
		}
	})
	line := traceMask(t, m, 30)
	res := newTestSampler(1, 10).MeasureFrame(m, line)

	if len(res.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(res.Events))
	}
	if res.Summary.Count != 0 {
		t.Errorf("expected count 0, got %d", res.Summary.Count)
	}
	if !math.IsNaN(res.Summary.TubuleMean) {
		t.Errorf("expected NaN width stats, got %v", res.Summary.TubuleMean)
	}
	if res.Summary.LumenArea != 800 {
		t.Errorf("expected lumen area still counted, got %v", res.Summary.LumenArea)
	}
}

func TestMeasureDiagnosticValues(t *testing.T) {
	m := stripMask()
	line := traceMask(t, m, 30)
	res := newTestSampler(1, 10).MeasureFrame(m, line)

	var sawTract, sawProfile bool
	for _, v := range res.Diagnostic {
		switch v {
		case 0, diagSilhouette:
		case diagTract:
			sawTract = true
		case diagProfile:
			sawProfile = true
		default:
			t.Fatalf("unexpected diagnostic value %d", v)
		}
	}
	if !sawTract || !sawProfile {
		t.Errorf("expected tract and profile pixels in the diagnostic, tract=%v profile=%v", sawTract, sawProfile)
	}
}

func TestEmptySummaryIsNaN(t *testing.T) {
	s := EmptySummary(3)
	if s.Frame != 3 || s.Count != 0 {
		t.Errorf("unexpected frame or count: %+v", s)
	}
	if !math.IsNaN(s.TubuleMean) || !math.IsNaN(s.LumenArea) {
		t.Errorf("expected NaN fields, got %+v", s)
	}
}
