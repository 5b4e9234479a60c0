// Package movie provides the in-memory movie model for time-lapse recordings
// along with multi-page TIFF input and output.
package movie

import (
	"fmt"
	"image"
	"math"
)

// Options are the per-sample processing switches. Each field corresponds to
// one manifest option; the zero value means "measure an already labeled
// movie without touching it".
type Options struct {
	// MakeMask enables threshold selection and segmentation. Without it the
	// input movie is expected to already contain region labels.
	MakeMask bool

	// RemoveBackground enables no-neighbor deblurring before thresholding
	// and emits the cleaned movie as an artifact.
	RemoveBackground bool

	// RemoveVesicles enables temporal vesicle removal on the mask stack.
	RemoveVesicles bool
}

// Meta carries the physical calibration of a recording.
type Meta struct {
	SampleID string

	// Scale is the physical size of one pixel edge, in Unit per pixel.
	Scale float64

	// Spacing is the distance between measurement positions along the
	// tubule axis, in physical units.
	Spacing float64

	// Unit is the label written next to measurements, e.g. "um".
	Unit string
}

// Frame is a single grayscale frame with float64 pixels in row-major order.
// Pipeline stages treat frames as immutable and return new ones.
type Frame struct {
	W, H int
	Pix  []float64
}

// NewFrame allocates a zero-valued frame.
func NewFrame(w, h int) *Frame {
	return &Frame{W: w, H: h, Pix: make([]float64, w*h)}
}

// At returns the pixel at (x, y). No bounds check; callers iterate within
// the frame rectangle.
func (f *Frame) At(x, y int) float64 {
	return f.Pix[y*f.W+x]
}

// Set writes the pixel at (x, y).
func (f *Frame) Set(x, y int, v float64) {
	f.Pix[y*f.W+x] = v
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	out := &Frame{W: f.W, H: f.H, Pix: make([]float64, len(f.Pix))}
	copy(out.Pix, f.Pix)
	return out
}

// Max returns the largest pixel value of the frame.
func (f *Frame) Max() float64 {
	max := math.Inf(-1)
	for _, v := range f.Pix {
		if v > max {
			max = v
		}
	}
	return max
}

// Gray8 converts the frame to 8-bit pixels, clamping to [0, 255].
func (f *Frame) Gray8() []uint8 {
	out := make([]uint8, len(f.Pix))
	for i, v := range f.Pix {
		out[i] = uint8(clamp(math.Round(v), 0, 255))
	}
	return out
}

// FromImage converts a decoded image to a frame with values in [0, 255],
// collapsing color to luminance.
func FromImage(img image.Image) *Frame {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	frame := NewFrame(w, h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			gray := (19595*r + 38470*g + 7471*b + 1<<15) >> 16
			frame.Pix[y*w+x] = float64(gray >> 8)
		}
	}
	return frame
}

// Movie is an ordered stack of equally sized frames.
type Movie struct {
	Frames  []*Frame
	W, H    int
	Meta    Meta
	Options Options
}

// New builds a movie from frames, validating that all frames share one size.
func New(frames []*Frame, meta Meta) (*Movie, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("movie has no frames")
	}
	w, h := frames[0].W, frames[0].H
	for i, f := range frames {
		if f.W != w || f.H != h {
			return nil, fmt.Errorf("frame %d is %dx%d, expected %dx%d", i, f.W, f.H, w, h)
		}
	}
	return &Movie{Frames: frames, W: w, H: h, Meta: meta}, nil
}

// Len returns the number of frames.
func (m *Movie) Len() int { return len(m.Frames) }

// GlobalMax returns the largest pixel value across all frames.
func (m *Movie) GlobalMax() float64 {
	max := math.Inf(-1)
	for _, f := range m.Frames {
		if v := f.Max(); v > max {
			max = v
		}
	}
	return max
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
