package report

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"tubulemetrics/pkg/measure"
	"tubulemetrics/pkg/threshold"
)

const (
	plotWidth  = 15 * vg.Inch
	plotHeight = 3 * vg.Inch
)

var (
	colorTubule = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	colorLumen  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorCells  = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// series is one named line on a plot. NaN values leave gaps.
type series struct {
	name  string
	color color.Color
	ys    []float64
}

// PlotThresholds renders the raw and smoothed threshold curves.
func (r *Reporter) PlotThresholds(recs []threshold.Record) error {
	frames := make([]int, len(recs))
	raw := make([]float64, len(recs))
	smoothed := make([]float64, len(recs))
	for i, rec := range recs {
		frames[i] = rec.Frame
		raw[i] = rec.Raw
		smoothed[i] = rec.Smoothed
	}
	return r.linePlot("_thresholds.png", "Segmentation thresholds", "Threshold (intensity)",
		frames, []series{
			{name: "raw", color: colorCells, ys: raw},
			{name: "smoothed", color: colorTubule, ys: smoothed},
		})
}

// PlotMeasurements renders the width and area trends over time, in raw and
// normalized form, each with a smoothed companion.
func (r *Reporter) PlotMeasurements(sums []measure.FrameSummary) error {
	d := deriveSeries(sums, r.params.SummaryWindow)
	frames := make([]int, len(sums))
	for i, s := range sums {
		frames[i] = s.Frame
	}

	type plotVar struct {
		name  string
		color color.Color
		d     *derived
	}
	widthVars := []plotVar{
		{"tubule", colorTubule, &d.tubule},
		{"lumen", colorLumen, &d.lumen},
		{"cells", colorCells, &d.cells},
	}
	areaVars := []plotVar{
		{"lumen", colorLumen, &d.lumenArea},
		{"cells", colorCells, &d.cellsArea},
	}

	unit := r.params.Unit
	plots := []struct {
		suffix, title, yLabel string
		vars                  []plotVar
		pick                  func(*derived) []float64
	}{
		{"_measurements_raw_width.png", "Widths", fmt.Sprintf("Width (%s)", unit),
			widthVars, func(v *derived) []float64 { return v.raw }},
		{"_measurements_raw_width_smoothed.png", "Widths (smoothed)", fmt.Sprintf("Width (%s)", unit),
			widthVars, func(v *derived) []float64 { return v.smoothed }},
		{"_measurements_normalized_width.png", "Widths (normalized)", "Fraction of maximum",
			widthVars, func(v *derived) []float64 { return v.normalized }},
		{"_measurements_normalized_width_smoothed.png", "Widths (normalized, smoothed)", "Fraction of maximum",
			widthVars, func(v *derived) []float64 { return v.smoothedNormalized }},
		{"_measurements_raw_area.png", "Areas", fmt.Sprintf("Area (%s²)", unit),
			areaVars, func(v *derived) []float64 { return v.raw }},
		{"_measurements_raw_area_smoothed.png", "Areas (smoothed)", fmt.Sprintf("Area (%s²)", unit),
			areaVars, func(v *derived) []float64 { return v.smoothed }},
		{"_measurements_normalized_area.png", "Areas (normalized)", "Fraction of maximum",
			areaVars, func(v *derived) []float64 { return v.normalized }},
		{"_measurements_normalized_area_smoothed.png", "Areas (normalized, smoothed)", "Fraction of maximum",
			areaVars, func(v *derived) []float64 { return v.smoothedNormalized }},
	}

	for _, ps := range plots {
		ss := make([]series, len(ps.vars))
		for i, v := range ps.vars {
			ss[i] = series{name: v.name, color: v.color, ys: ps.pick(v.d)}
		}
		if err := r.linePlot(ps.suffix, ps.title, ps.yLabel, frames, ss); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) linePlot(suffix, title, yLabel string, frames []int, ss []series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (frames)"
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	added := 0
	for _, s := range ss {
		xys := make(plotter.XYs, 0, len(s.ys))
		for i, y := range s.ys {
			if math.IsNaN(y) {
				continue
			}
			xys = append(xys, plotter.XY{X: float64(frames[i]), Y: y})
		}
		if len(xys) == 0 {
			continue
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("plotting %s: %w", s.name, err)
		}
		l.Color = s.color
		l.Width = vg.Points(2)
		p.Add(l)
		p.Legend.Add(s.name, l)
		added++
	}
	// Axes need finite ranges even when every frame failed.
	if added == 0 {
		p.X.Min, p.X.Max = 0, 1
		p.Y.Min, p.Y.Max = 0, 1
	}

	path := r.path(suffix)
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	r.log.Debug().Str("path", path).Msg("plot written")
	return nil
}
