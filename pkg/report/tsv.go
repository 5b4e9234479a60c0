package report

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tubulemetrics/pkg/measure"
	"tubulemetrics/pkg/threshold"
)

// Artifact suffixes.
const (
	suffixMeasurements = "_measurements.tsv"
	suffixFrameSummary = "_frame_summary.tsv"
	suffixThresholds   = "_thresholds.tsv"
)

// WriteMeasurements writes the per-position measurement table.
func (r *Reporter) WriteMeasurements(t *measure.Table) error {
	return r.writeTSV(suffixMeasurements, func(w *bufio.Writer) error {
		writeRow(w, "sample_id", "frame_index", "position_index",
			"tubule_width", "lumen_width", "cell_width",
			"lumen_area", "cell_area", "units")
		for _, ev := range t.Events {
			writeRow(w, r.params.Prefix,
				strconv.Itoa(ev.Frame), strconv.Itoa(ev.Position),
				fnum(ev.TubuleWidth), fnum(ev.LumenWidth), fnum(ev.CellWidth),
				fnum(ev.LumenArea), fnum(ev.CellArea), r.params.Unit)
		}
		return nil
	})
}

// WriteFrameSummary writes one row per frame with the aggregated widths and
// areas plus their smoothed and normalized presentation columns.
func (r *Reporter) WriteFrameSummary(sums []measure.FrameSummary) error {
	d := deriveSeries(sums, r.params.SummaryWindow)
	return r.writeTSV(suffixFrameSummary, func(w *bufio.Writer) error {
		cols := []string{"frame", "width_measurements"}
		for _, v := range []string{"tubule", "lumen", "cells"} {
			cols = append(cols,
				v+"_mean_width", v+"_mean_width_std", v+"_smoothed_width",
				v+"_normalized_width", v+"_smoothed_normalized_width")
		}
		for _, v := range []string{"lumen", "cells"} {
			cols = append(cols,
				v+"_area", v+"_smoothed_area",
				v+"_normalized_area", v+"_smoothed_normalized_area")
		}
		writeRow(w, cols...)

		for i, s := range sums {
			row := []string{strconv.Itoa(s.Frame), strconv.Itoa(s.Count)}
			for _, v := range []*derived{&d.tubule, &d.lumen, &d.cells} {
				row = append(row, fnum(v.raw[i]), fnum(v.std[i]), fnum(v.smoothed[i]),
					fnum(v.normalized[i]), fnum(v.smoothedNormalized[i]))
			}
			for _, v := range []*derived{&d.lumenArea, &d.cellsArea} {
				row = append(row, fnum(v.raw[i]), fnum(v.smoothed[i]),
					fnum(v.normalized[i]), fnum(v.smoothedNormalized[i]))
			}
			writeRow(w, row...)
		}
		return nil
	})
}

// WriteThresholds writes the raw and smoothed threshold of every frame.
func (r *Reporter) WriteThresholds(recs []threshold.Record) error {
	return r.writeTSV(suffixThresholds, func(w *bufio.Writer) error {
		writeRow(w, "frame_index", "raw_threshold", "smoothed_threshold")
		for _, rec := range recs {
			writeRow(w, strconv.Itoa(rec.Frame), fnum(rec.Raw), fnum(rec.Smoothed))
		}
		return nil
	})
}

// derived carries one base series with its presentation transforms.
type derived struct {
	raw                []float64
	std                []float64
	smoothed           []float64
	normalized         []float64
	smoothedNormalized []float64
}

func newDerived(raw, std []float64, window int) derived {
	normalized := normalize(raw)
	return derived{
		raw:                raw,
		std:                std,
		smoothed:           runningAverage(raw, window),
		normalized:         normalized,
		smoothedNormalized: runningAverage(normalized, window),
	}
}

type derivedSet struct {
	tubule, lumen, cells derived
	lumenArea, cellsArea derived
}

func deriveSeries(sums []measure.FrameSummary, window int) derivedSet {
	n := len(sums)
	col := func(get func(measure.FrameSummary) float64) []float64 {
		xs := make([]float64, n)
		for i, s := range sums {
			xs[i] = get(s)
		}
		return xs
	}
	return derivedSet{
		tubule: newDerived(col(func(s measure.FrameSummary) float64 { return s.TubuleMean }),
			col(func(s measure.FrameSummary) float64 { return s.TubuleStd }), window),
		lumen: newDerived(col(func(s measure.FrameSummary) float64 { return s.LumenMean }),
			col(func(s measure.FrameSummary) float64 { return s.LumenStd }), window),
		cells: newDerived(col(func(s measure.FrameSummary) float64 { return s.CellsMean }),
			col(func(s measure.FrameSummary) float64 { return s.CellsStd }), window),
		lumenArea: newDerived(col(func(s measure.FrameSummary) float64 { return s.LumenArea }), nil, window),
		cellsArea: newDerived(col(func(s measure.FrameSummary) float64 { return s.CellsArea }), nil, window),
	}
}

func (r *Reporter) writeTSV(suffix string, write func(w *bufio.Writer) error) error {
	path := r.path(suffix)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	r.log.Debug().Str("path", path).Msg("table written")
	return f.Close()
}

func writeRow(w *bufio.Writer, fields ...string) {
	w.WriteString(strings.Join(fields, "\t"))
	w.WriteByte('\n')
}

// fnum renders a float compactly; NaN marks frames without a value.
func fnum(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
