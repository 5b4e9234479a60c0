package threshold

import "math"

// Record pairs the raw knee threshold of a frame with its causally smoothed
// value. Raw is NaN when the frame's profile had no knee; Smoothed is NaN
// only before the first knee of the recording.
type Record struct {
	Frame    int
	Raw      float64
	Smoothed float64
}

// Smoother applies causal temporal smoothing: each frame's threshold is the
// mean of the most recent raw values, so a frame is never influenced by
// frames after it. Frames without a raw threshold reuse the previous
// smoothed value.
type Smoother struct {
	window int
}

// NewSmoother creates a Smoother averaging over the given number of raw
// thresholds.
func NewSmoother(window int) *Smoother {
	if window < 1 {
		window = 1
	}
	return &Smoother{window: window}
}

// Smooth converts raw thresholds into records. The input is indexed by
// frame; NaN marks frames without a knee.
func (s *Smoother) Smooth(raws []float64) []Record {
	recs := make([]Record, len(raws))
	window := make([]float64, 0, s.window)
	prev := math.NaN()

	for i, raw := range raws {
		if !math.IsNaN(raw) {
			if len(window) == s.window {
				copy(window, window[1:])
				window = window[:len(window)-1]
			}
			window = append(window, raw)

			sum := 0.0
			for _, v := range window {
				sum += v
			}
			prev = sum / float64(len(window))
		}
		recs[i] = Record{Frame: i, Raw: raw, Smoothed: prev}
	}
	return recs
}
