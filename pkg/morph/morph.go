// Package morph implements binary morphology and connected component
// analysis on row-major bitmaps. It backs mask construction, vesicle removal
// and boundary tracing.
package morph

import "sort"

// Binary is a row-major binary image.
type Binary struct {
	W, H int
	Pix  []bool
}

// NewBinary allocates an all-false bitmap.
func NewBinary(w, h int) *Binary {
	return &Binary{W: w, H: h, Pix: make([]bool, w*h)}
}

// Clone returns a deep copy.
func (b *Binary) Clone() *Binary {
	out := &Binary{W: b.W, H: b.H, Pix: make([]bool, len(b.Pix))}
	copy(out.Pix, b.Pix)
	return out
}

// At reports the pixel at (x, y), treating everything outside the image as
// false.
func (b *Binary) At(x, y int) bool {
	if x < 0 || y < 0 || x >= b.W || y >= b.H {
		return false
	}
	return b.Pix[y*b.W+x]
}

// Set writes the pixel at (x, y).
func (b *Binary) Set(x, y int, v bool) {
	b.Pix[y*b.W+x] = v
}

// Count returns the number of set pixels.
func (b *Binary) Count() int {
	n := 0
	for _, v := range b.Pix {
		if v {
			n++
		}
	}
	return n
}

// FromLabels extracts the set of pixels carrying one label value.
func FromLabels(labels []uint8, w, h int, target uint8) *Binary {
	out := NewBinary(w, h)
	for i, v := range labels {
		if v == target {
			out.Pix[i] = true
		}
	}
	return out
}

type offset struct{ dx, dy int }

// Kernel is a structuring element given as a list of offsets.
type Kernel []offset

// Square returns a (2r+1)x(2r+1) square structuring element.
func Square(r int) Kernel {
	var k Kernel
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			k = append(k, offset{dx, dy})
		}
	}
	return k
}

// Disk returns a disk structuring element of the given radius.
func Disk(r int) Kernel {
	var k Kernel
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				k = append(k, offset{dx, dy})
			}
		}
	}
	return k
}

// Erode keeps a pixel only when every kernel offset lands on a set pixel.
// Pixels outside the image count as unset, so sets touching the border
// shrink there too.
func Erode(src *Binary, k Kernel) *Binary {
	dst := NewBinary(src.W, src.H)
	for y := 0; y < src.H; y++ {
		for x := 0; x < src.W; x++ {
			if !src.Pix[y*src.W+x] {
				continue
			}
			keep := true
			for _, o := range k {
				if !src.At(x+o.dx, y+o.dy) {
					keep = false
					break
				}
			}
			dst.Pix[y*src.W+x] = keep
		}
	}
	return dst
}

// Dilate sets a pixel when any kernel offset lands on a set pixel.
func Dilate(src *Binary, k Kernel) *Binary {
	dst := NewBinary(src.W, src.H)
	for y := 0; y < src.H; y++ {
		for x := 0; x < src.W; x++ {
			for _, o := range k {
				if src.At(x+o.dx, y+o.dy) {
					dst.Pix[y*src.W+x] = true
					break
				}
			}
		}
	}
	return dst
}

// Open erodes then dilates, dropping speckle smaller than the kernel.
func Open(src *Binary, k Kernel) *Binary {
	return Dilate(Erode(src, k), k)
}

// Close dilates then erodes, sealing gaps smaller than the kernel.
func Close(src *Binary, k Kernel) *Binary {
	return Erode(Dilate(src, k), k)
}

// FillHoles sets every unset pixel that cannot be reached from the image
// border through unset pixels (4-connected flood).
func FillHoles(src *Binary) *Binary {
	w, h := src.W, src.H
	outside := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))

	push := func(x, y int) {
		i := y*w + x
		if !src.Pix[i] && !outside[i] {
			outside[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}

	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}

	dst := NewBinary(w, h)
	for i := range dst.Pix {
		dst.Pix[i] = src.Pix[i] || !outside[i]
	}
	return dst
}

// Not returns the complement of a.
func Not(a *Binary) *Binary {
	dst := NewBinary(a.W, a.H)
	for i := range dst.Pix {
		dst.Pix[i] = !a.Pix[i]
	}
	return dst
}

// Sub returns a AND NOT b.
func Sub(a, b *Binary) *Binary {
	dst := NewBinary(a.W, a.H)
	for i := range dst.Pix {
		dst.Pix[i] = a.Pix[i] && !b.Pix[i]
	}
	return dst
}

// And returns a AND b.
func And(a, b *Binary) *Binary {
	dst := NewBinary(a.W, a.H)
	for i := range dst.Pix {
		dst.Pix[i] = a.Pix[i] && b.Pix[i]
	}
	return dst
}

// Or returns a OR b.
func Or(a, b *Binary) *Binary {
	dst := NewBinary(a.W, a.H)
	for i := range dst.Pix {
		dst.Pix[i] = a.Pix[i] || b.Pix[i]
	}
	return dst
}

// Region describes one connected component.
type Region struct {
	ID   int32
	Area int

	// Bounding box, inclusive.
	MinX, MinY, MaxX, MaxY int

	// Centroid.
	CX, CY float64

	// Boundary is the number of region pixels adjacent (4-connected) to a
	// different label or to the image edge; Border counts only the pixels
	// lying on the image edge itself.
	Boundary int
	Border   int
}

// Labels is the result of connected component analysis. IDs are 1-based;
// 0 marks unset pixels.
type Labels struct {
	W, H    int
	IDs     []int32
	Regions []Region
}

var eightNeighbors = []offset{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Label performs 8-connected component labeling.
func Label(src *Binary) *Labels {
	w, h := src.W, src.H
	ids := make([]int32, w*h)
	var regions []Region
	stack := make([]int, 0, 1024)

	for start, on := range src.Pix {
		if !on || ids[start] != 0 {
			continue
		}
		id := int32(len(regions) + 1)
		reg := Region{ID: id, MinX: w, MinY: h, MaxX: -1, MaxY: -1}

		ids[start] = id
		stack = append(stack[:0], start)
		var sumX, sumY float64

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w

			reg.Area++
			sumX += float64(x)
			sumY += float64(y)
			if x < reg.MinX {
				reg.MinX = x
			}
			if y < reg.MinY {
				reg.MinY = y
			}
			if x > reg.MaxX {
				reg.MaxX = x
			}
			if y > reg.MaxY {
				reg.MaxY = y
			}

			for _, o := range eightNeighbors {
				nx, ny := x+o.dx, y+o.dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				ni := ny*w + nx
				if src.Pix[ni] && ids[ni] == 0 {
					ids[ni] = id
					stack = append(stack, ni)
				}
			}
		}

		reg.CX = sumX / float64(reg.Area)
		reg.CY = sumY / float64(reg.Area)
		regions = append(regions, reg)
	}

	out := &Labels{W: w, H: h, IDs: ids, Regions: regions}
	out.fillContactStats()
	return out
}

func (l *Labels) fillContactStats() {
	w, h := l.W, l.H
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			id := l.IDs[y*w+x]
			if id == 0 {
				continue
			}
			reg := &l.Regions[id-1]

			onEdge := x == 0 || y == 0 || x == w-1 || y == h-1
			if onEdge {
				reg.Border++
				reg.Boundary++
				continue
			}
			if l.IDs[y*w+x-1] != id || l.IDs[y*w+x+1] != id ||
				l.IDs[(y-1)*w+x] != id || l.IDs[(y+1)*w+x] != id {
				reg.Boundary++
			}
		}
	}
}

// ByArea returns the regions sorted by decreasing area.
func (l *Labels) ByArea() []Region {
	out := make([]Region, len(l.Regions))
	copy(out, l.Regions)
	sort.Slice(out, func(i, j int) bool { return out[i].Area > out[j].Area })
	return out
}

// MaskOf builds the bitmap of the listed region IDs.
func (l *Labels) MaskOf(ids ...int32) *Binary {
	keep := make(map[int32]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := NewBinary(l.W, l.H)
	for i, id := range l.IDs {
		if id != 0 && keep[id] {
			out.Pix[i] = true
		}
	}
	return out
}
