// Package segmentation turns thresholded frames into labeled region masks
// (cell, background, lumen) and removes transient vesicles by comparing the
// lumen across neighbouring frames.
package segmentation

import (
	"fmt"
	"math"

	"tubulemetrics/pkg/morph"
	"tubulemetrics/pkg/movie"
)

// Region labels. The numeric values are a wire contract: mask movies are
// written and re-read with exactly these bytes, and already labeled input
// movies are expected to use them.
const (
	LabelCell        uint8 = 0
	LabelBackgroundA uint8 = 1
	LabelBackgroundB uint8 = 2
	LabelLumen       uint8 = 3
)

// Mask is the labeled counterpart of one movie frame.
type Mask struct {
	Frame int
	W, H  int
	Pix   []uint8
}

// NewMask returns an all-cell mask of the given size.
func NewMask(frame, w, h int) *Mask {
	return &Mask{Frame: frame, W: w, H: h, Pix: make([]uint8, w*h)}
}

// FromFrame reinterprets an already labeled frame as a mask. Every pixel must
// round to one of the region labels.
func FromFrame(f *movie.Frame, frame int) (*Mask, error) {
	m := NewMask(frame, f.W, f.H)
	for i, v := range f.Pix {
		l := math.Round(v)
		if l < 0 || l > float64(LabelLumen) || math.IsNaN(v) {
			return nil, fmt.Errorf("frame %d: pixel (%d,%d) value %v is not a region label", frame, i%f.W, i/f.W, v)
		}
		m.Pix[i] = uint8(l)
	}
	return m, nil
}

// At returns the label at (x, y).
func (m *Mask) At(x, y int) uint8 {
	return m.Pix[y*m.W+x]
}

// Set writes the label at (x, y).
func (m *Mask) Set(x, y int, l uint8) {
	m.Pix[y*m.W+x] = l
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	out := NewMask(m.Frame, m.W, m.H)
	copy(out.Pix, m.Pix)
	return out
}

// Of returns the pixels carrying the given label as a binary image.
func (m *Mask) Of(label uint8) *morph.Binary {
	return morph.FromLabels(m.Pix, m.W, m.H, label)
}

// Lumen returns the lumen pixels as a binary image.
func (m *Mask) Lumen() *morph.Binary {
	return m.Of(LabelLumen)
}

// CountLabel returns how many pixels carry the given label.
func (m *Mask) CountLabel(label uint8) int {
	n := 0
	for _, l := range m.Pix {
		if l == label {
			n++
		}
	}
	return n
}
