package threshold

import (
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"tubulemetrics/pkg/movie"
)

// Polarity declares which side of the intensity range the tubule cells
// occupy. It is configuration, never inferred from the data.
type Polarity int

const (
	BrightCells Polarity = iota
	DarkCells
)

// SelectorParams holds threshold selection parameters.
type SelectorParams struct {
	Finder KneeFinder

	Polarity Polarity

	// SmoothingWindow is the running-average window applied to the pooled
	// profile before sorting.
	SmoothingWindow int

	// Workers bounds the frame-parallel fan-out.
	Workers int
}

// Selector computes one raw threshold per frame.
type Selector struct {
	params *SelectorParams
	log    zerolog.Logger
}

// NewSelector creates a Selector with the given parameters.
func NewSelector(params *SelectorParams, log zerolog.Logger) *Selector {
	return &Selector{params: params, log: log}
}

// Thresholds returns one raw threshold per frame. Frames whose profile has
// no knee yield NaN.
func (s *Selector) Thresholds(m *movie.Movie) []float64 {
	out := make([]float64, m.Len())

	workers := s.params.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > m.Len() {
		workers = m.Len()
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = s.frameThreshold(m.Frames[i])
			}
		}()
	}
	for i := 0; i < m.Len(); i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	missing := 0
	for _, v := range out {
		if math.IsNaN(v) {
			missing++
		}
	}
	if missing > 0 {
		s.log.Warn().Int("frames", missing).Msg("no knee found on some frames, previous thresholds will be reused")
	}
	return out
}

func (s *Selector) frameThreshold(f *movie.Frame) float64 {
	profile := Profile(f)

	// Dark cells are handled by negating the profile, so the knee search
	// always works on a descending curve.
	if s.params.Polarity == DarkCells {
		for i, v := range profile {
			profile[i] = -v
		}
	}

	profile = runningMeanValid(profile, s.params.SmoothingWindow)
	sort.Sort(sort.Reverse(sort.Float64Slice(profile)))

	idx, ok := s.params.Finder.FindKnee(profile)
	if !ok {
		return math.NaN()
	}
	raw := profile[idx]
	if s.params.Polarity == DarkCells {
		raw = -raw
	}
	return raw
}

// Profile extracts the pooled intensity profile of a frame: middle row,
// middle column and the two corner diagonals, concatenated.
func Profile(f *movie.Frame) []float64 {
	out := make([]float64, 0, 2*(f.W+f.H))

	my := f.H / 2
	for x := 0; x < f.W; x++ {
		out = append(out, f.At(x, my))
	}
	mx := f.W / 2
	for y := 0; y < f.H; y++ {
		out = append(out, f.At(mx, y))
	}

	out = appendLineProfile(out, f, 0, 0, f.W-1, f.H-1)
	out = appendLineProfile(out, f, 0, f.H-1, f.W-1, 0)
	return out
}

// appendLineProfile samples the frame along the integer connector between
// two points.
func appendLineProfile(dst []float64, f *movie.Frame, x0, y0, x1, y1 int) []float64 {
	distance := math.Round(math.Hypot(float64(x1-x0), float64(y1-y0)))
	if distance < 1 {
		return append(dst, f.At(x0, y0))
	}
	dx, dy := float64(x1-x0), float64(y1-y0)
	lastX, lastY := -1, -1
	for d := 0.0; d < distance; d++ {
		x := x0 + int(math.Round(d*dx/distance))
		y := y0 + int(math.Round(d*dy/distance))
		dst = append(dst, f.At(x, y))
		lastX, lastY = x, y
	}
	if lastX != x1 || lastY != y1 {
		dst = append(dst, f.At(x1, y1))
	}
	return dst
}

// runningMeanValid smooths with a sliding window, dropping the half-window
// tails. Inputs shorter than the window are returned unchanged.
func runningMeanValid(xs []float64, window int) []float64 {
	half := window / 2
	if half < 1 || len(xs) < window {
		return xs
	}
	out := make([]float64, 0, len(xs)-2*half)
	sum := 0.0
	for _, v := range xs[:2*half] {
		sum += v
	}
	for i := half; i < len(xs)-half; i++ {
		out = append(out, sum/float64(2*half))
		if i+half < len(xs) {
			sum += xs[i+half] - xs[i-half]
		}
	}
	return out
}
