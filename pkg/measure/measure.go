// Package measure samples tubule, lumen and cell widths perpendicular to the
// traced centerline and aggregates them into per-frame summaries.
package measure

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SampleEvent is one width measurement at a centerline position. Widths and
// areas are already scaled to physical units.
type SampleEvent struct {
	Frame    int
	Position int

	TubuleWidth float64
	LumenWidth  float64
	CellWidth   float64

	// Whole-frame areas, identical for every event of a frame.
	LumenArea float64
	CellArea  float64
}

// Table collects sample events across a movie, ordered by frame and
// position.
type Table struct {
	Events []SampleEvent
}

// Append adds events in order.
func (t *Table) Append(events ...SampleEvent) {
	t.Events = append(t.Events, events...)
}

// Len returns the number of events.
func (t *Table) Len() int {
	return len(t.Events)
}

// FrameSummary aggregates the events of one frame. Width statistics are NaN
// when the frame has no events; areas are NaN when the frame has no mask.
type FrameSummary struct {
	Frame int
	Count int

	TubuleMean, TubuleStd float64
	LumenMean, LumenStd   float64
	CellsMean, CellsStd   float64

	LumenArea float64
	CellsArea float64
}

// EmptySummary is the summary of a frame excluded from measurement.
func EmptySummary(frame int) FrameSummary {
	nan := math.NaN()
	return FrameSummary{
		Frame:      frame,
		TubuleMean: nan, TubuleStd: nan,
		LumenMean: nan, LumenStd: nan,
		CellsMean: nan, CellsStd: nan,
		LumenArea: nan, CellsArea: nan,
	}
}

// summarize aggregates events measured on one frame. The standard deviation
// is the population form, matching the width variability the plots show.
func summarize(frame int, events []SampleEvent, lumenArea, cellArea float64) FrameSummary {
	s := EmptySummary(frame)
	s.Count = len(events)
	s.LumenArea = lumenArea
	s.CellsArea = cellArea
	if len(events) == 0 {
		return s
	}

	tubule := make([]float64, len(events))
	lumen := make([]float64, len(events))
	cells := make([]float64, len(events))
	for i, ev := range events {
		tubule[i] = ev.TubuleWidth
		lumen[i] = ev.LumenWidth
		cells[i] = ev.CellWidth
	}
	s.TubuleMean, s.TubuleStd = stat.Mean(tubule, nil), stat.PopStdDev(tubule, nil)
	s.LumenMean, s.LumenStd = stat.Mean(lumen, nil), stat.PopStdDev(lumen, nil)
	s.CellsMean, s.CellsStd = stat.Mean(cells, nil), stat.PopStdDev(cells, nil)
	return s
}
