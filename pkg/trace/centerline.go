// Package trace recovers the tubule axis from the lumen of a labeled mask.
// The lumen boundary is walked into a ring, split into two edge tracts at
// the extremes of its principal axis, and the tract midpoints form the
// centerline used for perpendicular sampling.
package trace

import (
	"math"
	"sort"
)

// Point is an image-space position in pixels.
type Point struct {
	X, Y float64
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func lerp(a, b Point, t float64) Point {
	return Point{a.X + t*(b.X-a.X), a.Y + t*(b.Y-a.Y)}
}

func unit(p Point) Point {
	l := math.Hypot(p.X, p.Y)
	if l == 0 {
		return Point{}
	}
	return Point{p.X / l, p.Y / l}
}

// Sample is one centerline support point with its local frame. Normal is the
// tangent rotated a quarter turn; width profiles run along both its signs.
type Sample struct {
	Point   Point
	Tangent Point
	Normal  Point
}

// Centerline is the traced tubule axis. Tract1 and Tract2 are the two
// lumen-edge tracts it runs between, resampled to matching support points.
type Centerline struct {
	Samples []Sample
	Tract1  []Point
	Tract2  []Point

	cum []float64
}

func newCenterline(samples []Sample, tract1, tract2 []Point) *Centerline {
	c := &Centerline{Samples: samples, Tract1: tract1, Tract2: tract2}
	c.cum = make([]float64, len(samples))
	for i := 1; i < len(samples); i++ {
		c.cum[i] = c.cum[i-1] + dist(samples[i-1].Point, samples[i].Point)
	}
	return c
}

// Length returns the centerline arclength in pixels.
func (c *Centerline) Length() float64 {
	if len(c.cum) == 0 {
		return 0
	}
	return c.cum[len(c.cum)-1]
}

// At interpolates the sample at the given arclength from the start of the
// centerline. ok is false outside [0, Length()].
func (c *Centerline) At(d float64) (Sample, bool) {
	if len(c.Samples) < 2 || d < 0 || d > c.Length() {
		return Sample{}, false
	}
	i := sort.SearchFloat64s(c.cum, d)
	if i == 0 {
		return c.Samples[0], true
	}
	if i >= len(c.cum) {
		i = len(c.cum) - 1
	}

	seg := c.cum[i] - c.cum[i-1]
	t := 0.0
	if seg > 0 {
		t = (d - c.cum[i-1]) / seg
	}
	a, b := c.Samples[i-1], c.Samples[i]
	tan := unit(lerp(a.Tangent, b.Tangent, t))
	if tan == (Point{}) {
		tan = a.Tangent
	}
	return Sample{
		Point:   lerp(a.Point, b.Point, t),
		Tangent: tan,
		Normal:  Point{-tan.Y, tan.X},
	}, true
}

// polylineLength is the arclength of pts.
func polylineLength(pts []Point) float64 {
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += dist(pts[i-1], pts[i])
	}
	return total
}

// resample redistributes pts onto n points at uniform arclength, keeping the
// endpoints.
func resample(pts []Point, n int) []Point {
	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + dist(pts[i-1], pts[i])
	}
	total := cum[len(cum)-1]

	out := make([]Point, n)
	out[0] = pts[0]
	if total == 0 {
		for i := range out {
			out[i] = pts[0]
		}
		return out
	}
	j := 1
	for k := 1; k < n; k++ {
		target := total * float64(k) / float64(n-1)
		for j < len(cum)-1 && cum[j] < target {
			j++
		}
		seg := cum[j] - cum[j-1]
		t := 0.0
		if seg > 0 {
			t = (target - cum[j-1]) / seg
		}
		out[k] = lerp(pts[j-1], pts[j], t)
	}
	return out
}
