// Package threshold derives per-frame segmentation thresholds from pooled
// intensity profiles and smooths them over time.
package threshold

// KneeFinder locates the knee of a monotonically sorted profile. It is also
// used to cut sorted component-area lists during segmentation.
type KneeFinder interface {
	// FindKnee returns the index of the knee. ok is false when the profile
	// has no usable knee; the index is then 0.
	FindKnee(profile []float64) (index int, ok bool)
}

// ChordKneedle finds the point of maximum deviation between the profile and
// the chord spanning its value range. Flat or strictly linear profiles have
// no knee.
type ChordKneedle struct {
	// Sensitivity is the minimum chord deviation for a knee to count.
	Sensitivity float64
}

// FindKnee implements KneeFinder.
func (k ChordKneedle) FindKnee(profile []float64) (int, bool) {
	if len(profile) < 2 {
		return 0, false
	}

	y0, y1 := profile[0], profile[0]
	for _, v := range profile[1:] {
		if v > y0 {
			y0 = v
		}
		if v < y1 {
			y1 = v
		}
	}
	gradient := (y1 - y0) / float64(len(profile))
	intercept := y0

	best, bestIdx := 0.0, 0
	for x, y := range profile {
		diff := (gradient*float64(x) + intercept) - y
		if diff > best {
			best = diff
			bestIdx = x
		}
	}

	if best <= k.Sensitivity {
		return 0, false
	}
	return bestIdx, true
}
