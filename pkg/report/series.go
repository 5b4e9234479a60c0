package report

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// runningAverage returns the centered running mean of xs. Windows shrink at
// the edges and skip NaN entries; positions whose window holds no valid
// value stay NaN.
func runningAverage(xs []float64, window int) []float64 {
	half := window / 2
	out := make([]float64, len(xs))
	for i := range xs {
		lo, hi := i-half, i+half
		if lo < 0 {
			lo = 0
		}
		if hi > len(xs) {
			hi = len(xs)
		}
		sum, n := 0.0, 0
		for _, v := range xs[lo:hi] {
			if !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// normalize scales xs by its maximum into [0, 1], ignoring NaN entries. An
// all-NaN or non-positive series comes back unchanged.
func normalize(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	max := nanMax(xs)
	if math.IsNaN(max) || max <= 0 {
		return out
	}
	floats.Scale(1/max, out)
	return out
}

func nanMax(xs []float64) float64 {
	max := math.NaN()
	for _, v := range xs {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(max) || v > max {
			max = v
		}
	}
	return max
}
