package report

import (
	"math"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"tubulemetrics/pkg/measure"
	"tubulemetrics/pkg/movie"
	"tubulemetrics/pkg/segmentation"
	"tubulemetrics/pkg/threshold"
)

func newTestReporter(t *testing.T) *Reporter {
	t.Helper()
	r, err := NewReporter(&Params{
		OutDir:        t.TempDir(),
		Prefix:        "s1",
		Unit:          "um",
		SummaryWindow: 2,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewReporter: %v", err)
	}
	return r
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func seriesEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.IsNaN(a[i]) != math.IsNaN(b[i]) {
			return false
		}
		if !math.IsNaN(a[i]) && math.Abs(a[i]-b[i]) > 1e-12 {
			return false
		}
	}
	return true
}

func TestRunningAverage(t *testing.T) {
	nan := math.NaN()
	cases := []struct {
		name     string
		xs       []float64
		window   int
		expected []float64
	}{
		{"plain", []float64{1, 2, 3, 4, 5}, 4, []float64{1.5, 2, 2.5, 3.5, 4}},
		{"skips NaN", []float64{1, nan, 3, nan, nan}, 4, []float64{1, 2, 2, 3, 3}},
		{"all NaN stays NaN", []float64{nan, nan}, 2, []float64{nan, nan}},
	}
	for _, tc := range cases {
		if got := runningAverage(tc.xs, tc.window); !seriesEqual(got, tc.expected) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestNormalize(t *testing.T) {
	nan := math.NaN()
	cases := []struct {
		name     string
		xs       []float64
		expected []float64
	}{
		{"scales by max", []float64{2, 4, 8}, []float64{0.25, 0.5, 1}},
		{"keeps NaN holes", []float64{2, nan, 8}, []float64{0.25, nan, 1}},
		{"all NaN unchanged", []float64{nan}, []float64{nan}},
		{"non-positive unchanged", []float64{-2, -1}, []float64{-2, -1}},
	}
	for _, tc := range cases {
		if got := normalize(tc.xs); !seriesEqual(got, tc.expected) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestWriteMeasurements(t *testing.T) {
	r := newTestReporter(t)
	table := &measure.Table{}
	table.Append(
		measure.SampleEvent{Frame: 0, Position: 0, TubuleWidth: 30, LumenWidth: 10, CellWidth: 10, LumenArea: 800, CellArea: 1600},
		measure.SampleEvent{Frame: 0, Position: 1, TubuleWidth: 32.5, LumenWidth: 11, CellWidth: 10.75, LumenArea: 800, CellArea: 1600},
	)
	if err := r.WriteMeasurements(table); err != nil {
		t.Fatalf("WriteMeasurements: %v", err)
	}

	lines := readLines(t, r.path(suffixMeasurements))
	if expected := 3; len(lines) != expected {
		t.Fatalf("expected %d lines, got %d", expected, len(lines))
	}
	header := "sample_id\tframe_index\tposition_index\ttubule_width\tlumen_width\tcell_width\tlumen_area\tcell_area\tunits"
	if lines[0] != header {
		t.Errorf("expected header %q, got %q", header, lines[0])
	}
	if expected := "s1\t0\t1\t32.5\t11\t10.75\t800\t1600\tum"; lines[2] != expected {
		t.Errorf("expected row %q, got %q", expected, lines[2])
	}
}

func TestWriteFrameSummary(t *testing.T) {
	r := newTestReporter(t)
	sums := []measure.FrameSummary{
		{Frame: 0, Count: 2, TubuleMean: 10, TubuleStd: 1, LumenMean: 4, LumenStd: 0.5,
			CellsMean: 3, CellsStd: 0.25, LumenArea: 100, CellsArea: 200},
		measure.EmptySummary(1),
		{Frame: 2, Count: 3, TubuleMean: 20, TubuleStd: 2, LumenMean: 8, LumenStd: 1,
			CellsMean: 6, CellsStd: 0.5, LumenArea: 50, CellsArea: 100},
	}
	if err := r.WriteFrameSummary(sums); err != nil {
		t.Fatalf("WriteFrameSummary: %v", err)
	}

	lines := readLines(t, r.path(suffixFrameSummary))
	if expected := 4; len(lines) != expected {
		t.Fatalf("expected %d lines, got %d", expected, len(lines))
	}
	cols := strings.Split(lines[0], "\t")
	if expected := 25; len(cols) != expected {
		t.Fatalf("expected %d columns, got %d: %v", expected, len(cols), cols)
	}
	if expected := "tubule_mean_width_std"; cols[3] != expected {
		t.Errorf("expected column 3 %q, got %q", expected, cols[3])
	}
	if expected := "lumen_smoothed_area"; cols[18] != expected {
		t.Errorf("expected column 18 %q, got %q", expected, cols[18])
	}

	// Frame 1 has no measurements: raw width is NaN, but the window-2
	// smoothed value borrows from frame 0.
	row1 := strings.Split(lines[2], "\t")
	if expected := "NaN"; row1[2] != expected {
		t.Errorf("expected tubule_mean_width %q, got %q", expected, row1[2])
	}
	if expected := "10"; row1[4] != expected {
		t.Errorf("expected tubule_smoothed_width %q, got %q", expected, row1[4])
	}

	// Normalization divides by the series maximum, 20.
	row0 := strings.Split(lines[1], "\t")
	if expected := "0.5"; row0[5] != expected {
		t.Errorf("expected tubule_normalized_width %q, got %q", expected, row0[5])
	}
	row2 := strings.Split(lines[3], "\t")
	if expected := "1"; row2[5] != expected {
		t.Errorf("expected tubule_normalized_width %q, got %q", expected, row2[5])
	}
}

func TestWriteThresholds(t *testing.T) {
	r := newTestReporter(t)
	recs := []threshold.Record{
		{Frame: 0, Raw: 12.5, Smoothed: 12.5},
		{Frame: 1, Raw: math.NaN(), Smoothed: 12.5},
	}
	if err := r.WriteThresholds(recs); err != nil {
		t.Fatalf("WriteThresholds: %v", err)
	}

	lines := readLines(t, r.path(suffixThresholds))
	if expected := "frame_index\traw_threshold\tsmoothed_threshold"; lines[0] != expected {
		t.Errorf("expected header %q, got %q", expected, lines[0])
	}
	if expected := "1\tNaN\t12.5"; lines[2] != expected {
		t.Errorf("expected row %q, got %q", expected, lines[2])
	}
}

func TestMaskOutline(t *testing.T) {
	m := segmentation.NewMask(0, 6, 6)
	for y := 1; y <= 4; y++ {
		for x := 1; x <= 4; x++ {
			m.Set(x, y, segmentation.LabelLumen)
		}
	}
	outline := maskOutline(m)
	if expected := 12; outline.Count() != expected {
		t.Errorf("expected %d outline pixels, got %d", expected, outline.Count())
	}
	if outline.At(2, 2) {
		t.Error("expected interior pixel off")
	}
	if !outline.At(1, 1) {
		t.Error("expected rim pixel on")
	}
}

func TestWriteCleanMovieRoundTrip(t *testing.T) {
	r := newTestReporter(t)
	f0, f1 := movie.NewFrame(8, 6), movie.NewFrame(8, 6)
	f0.Set(3, 2, 200)
	f1.Set(0, 0, 3)
	mv, err := movie.New([]*movie.Frame{f0, f1}, movie.Meta{SampleID: "s1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.WriteCleanMovie(mv); err != nil {
		t.Fatalf("WriteCleanMovie: %v", err)
	}
	back, err := movie.ReadMovie(r.path("_clean.tif"))
	if err != nil {
		t.Fatalf("ReadMovie: %v", err)
	}
	if back.Len() != 2 || back.W != 8 || back.H != 6 {
		t.Fatalf("expected 2 frames of 8x6, got %d of %dx%d", back.Len(), back.W, back.H)
	}
	if expected := 200.0; back.Frames[0].At(3, 2) != expected {
		t.Errorf("expected pixel %v, got %v", expected, back.Frames[0].At(3, 2))
	}
	if expected := 3.0; back.Frames[1].At(0, 0) != expected {
		t.Errorf("expected pixel %v, got %v", expected, back.Frames[1].At(0, 0))
	}
}

func TestWriteMaskMovieRoundTrip(t *testing.T) {
	r := newTestReporter(t)
	m := segmentation.NewMask(0, 8, 6)
	m.Set(1, 1, segmentation.LabelBackgroundA)
	m.Set(2, 1, segmentation.LabelBackgroundB)
	m.Set(3, 1, segmentation.LabelLumen)

	if err := r.WriteMaskMovie([]*segmentation.Mask{m, nil}, 8, 6); err != nil {
		t.Fatalf("WriteMaskMovie: %v", err)
	}
	back, err := movie.ReadMovie(r.path("_mask.tif"))
	if err != nil {
		t.Fatalf("ReadMovie: %v", err)
	}
	if expected := 2; back.Len() != expected {
		t.Fatalf("expected %d pages, got %d", expected, back.Len())
	}

	got, err := segmentation.FromFrame(back.Frames[0], 0)
	if err != nil {
		t.Fatalf("FromFrame: %v", err)
	}
	for i, v := range m.Pix {
		if got.Pix[i] != v {
			t.Fatalf("pixel %d: expected label %d, got %d", i, v, got.Pix[i])
		}
	}

	// The failed frame becomes an all-cell page.
	empty, err := segmentation.FromFrame(back.Frames[1], 1)
	if err != nil {
		t.Fatalf("FromFrame: %v", err)
	}
	if expected := 8 * 6; empty.CountLabel(segmentation.LabelCell) != expected {
		t.Errorf("expected %d cell pixels, got %d", expected, empty.CountLabel(segmentation.LabelCell))
	}
}

func TestWriteMaskDiagnostics(t *testing.T) {
	r := newTestReporter(t)
	f := movie.NewFrame(8, 6)
	for i := range f.Pix {
		f.Pix[i] = 7
	}
	mv, err := movie.New([]*movie.Frame{f, f.Clone()}, movie.Meta{SampleID: "s1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m := segmentation.NewMask(0, 8, 6)
	m.Set(4, 3, segmentation.LabelLumen)

	if err := r.WriteMaskDiagnostics(mv, []*segmentation.Mask{m, nil}); err != nil {
		t.Fatalf("WriteMaskDiagnostics: %v", err)
	}
	// A single labeled pixel erodes away entirely, so it is its own outline.
	// The RGB reader is out of scope here; check the file exists and has the
	// 3-channel payload size for two pages.
	info, err := os.Stat(r.path("_mask-diagnostics.tif"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if min := int64(2 * 3 * 8 * 6); info.Size() < min {
		t.Errorf("expected at least %d bytes, got %d", min, info.Size())
	}
}

func TestWriteMeasurementDiagnosticsLabel(t *testing.T) {
	r := newTestReporter(t)
	if err := r.WriteMeasurementDiagnostics([][]uint8{nil}, 64, 20); err != nil {
		t.Fatalf("WriteMeasurementDiagnostics: %v", err)
	}
	back, err := movie.ReadMovie(r.path("_measurements-diagnostics.tif"))
	if err != nil {
		t.Fatalf("ReadMovie: %v", err)
	}
	lit := 0
	for _, v := range back.Frames[0].Pix {
		if v > 0 {
			lit++
		}
	}
	if lit == 0 {
		t.Error("expected frame label pixels on a blank page")
	}
}

func TestPlotFilesWritten(t *testing.T) {
	r := newTestReporter(t)
	sums := []measure.FrameSummary{
		{Frame: 0, Count: 2, TubuleMean: 10, TubuleStd: 1, LumenMean: 4, LumenStd: 0.5,
			CellsMean: 3, CellsStd: 0.25, LumenArea: 100, CellsArea: 200},
		{Frame: 1, Count: 3, TubuleMean: 20, TubuleStd: 2, LumenMean: 8, LumenStd: 1,
			CellsMean: 6, CellsStd: 0.5, LumenArea: 50, CellsArea: 100},
	}
	if err := r.PlotMeasurements(sums); err != nil {
		t.Fatalf("PlotMeasurements: %v", err)
	}
	if err := r.PlotThresholds([]threshold.Record{{Frame: 0, Raw: 10, Smoothed: 10}}); err != nil {
		t.Fatalf("PlotThresholds: %v", err)
	}

	suffixes := []string{
		"_measurements_raw_width.png", "_measurements_raw_width_smoothed.png",
		"_measurements_normalized_width.png", "_measurements_normalized_width_smoothed.png",
		"_measurements_raw_area.png", "_measurements_raw_area_smoothed.png",
		"_measurements_normalized_area.png", "_measurements_normalized_area_smoothed.png",
		"_thresholds.png",
	}
	for _, suffix := range suffixes {
		info, err := os.Stat(r.path(suffix))
		if err != nil {
			t.Errorf("%s: %v", suffix, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s: empty file", suffix)
		}
	}
}

func TestPlotAllFailedFrames(t *testing.T) {
	r := newTestReporter(t)
	sums := []measure.FrameSummary{measure.EmptySummary(0), measure.EmptySummary(1)}
	if err := r.PlotMeasurements(sums); err != nil {
		t.Fatalf("PlotMeasurements: %v", err)
	}
}
