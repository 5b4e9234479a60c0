package segmentation

import (
	"github.com/rs/zerolog"

	"tubulemetrics/pkg/morph"
	"tubulemetrics/pkg/threshold"
)

// VesicleParams holds the vesicle removal parameters.
type VesicleParams struct {
	// Offsets are the temporal comparison offsets in frames, e.g.
	// {-10, -5, 5, 10}. At least one offset per temporal side is needed
	// for a frame to be filtered.
	Offsets []int

	// ErodeRadius shrinks discrepancy regions before they are sized, so
	// flicker along the lumen edge does not count as a vesicle.
	ErodeRadius int

	// MinArea is the smallest discrepancy region treated as a vesicle.
	MinArea int

	// Finder cuts the sorted discrepancy areas.
	Finder threshold.KneeFinder
}

// VesicleFilter removes lumen sub-regions that neighbouring frames do not
// corroborate. A vesicle drifting through the lumen is segmented as lumen in
// one frame but is absent a few frames earlier and later, unlike the lumen
// itself, which moves slowly.
type VesicleFilter struct {
	params *VesicleParams
	reach  int
	log    zerolog.Logger
}

// NewVesicleFilter creates a VesicleFilter with the given parameters.
func NewVesicleFilter(params *VesicleParams, log zerolog.Logger) *VesicleFilter {
	reach := 0
	for _, off := range params.Offsets {
		if off < 0 {
			off = -off
		}
		if off > reach {
			reach = off
		}
	}
	return &VesicleFilter{params: params, reach: reach, log: log}
}

// MaskWindow is a bounded buffer over a stream of consecutive masks. It keeps
// the newest 2*reach+1 entries so the filter never holds a whole movie of
// masks beyond the stack it was given.
type MaskWindow struct {
	reach int
	next  int
	buf   []*Mask
}

// NewMaskWindow returns a window covering +-reach frames.
func NewMaskWindow(reach int) *MaskWindow {
	return &MaskWindow{reach: reach}
}

// Push appends the next mask in frame order. Nil stands for a frame whose
// segmentation failed.
func (w *MaskWindow) Push(m *Mask) {
	w.buf = append(w.buf, m)
	w.next++
	if len(w.buf) > 2*w.reach+1 {
		w.buf = w.buf[1:]
	}
}

// At returns the mask of the given frame, or nil when the frame is outside
// the window or failed segmentation.
func (w *MaskWindow) At(frame int) *Mask {
	first := w.next - len(w.buf)
	if frame < first || frame >= w.next {
		return nil
	}
	return w.buf[frame-first]
}

// Run filters the mask stack in frame order. Nil entries pass through as
// nil. The returned skipped list names frames that had no comparison
// neighbour on one temporal side and were passed through unfiltered.
func (f *VesicleFilter) Run(masks []*Mask) (out []*Mask, skipped []int) {
	out = make([]*Mask, len(masks))
	window := NewMaskWindow(f.reach)
	fed := 0
	filtered := 0
	for i := range masks {
		for ; fed <= i+f.reach && fed < len(masks); fed++ {
			window.Push(masks[fed])
		}
		m, skip, removed := f.filterFrame(window, i)
		if skip {
			skipped = append(skipped, i)
		}
		if removed > 0 {
			filtered++
			f.log.Debug().Int("frame", i).Int("removed_px", removed).Msg("vesicle removed")
		}
		out[i] = m
	}
	f.log.Info().Int("frames", len(masks)).Int("with_vesicles", filtered).
		Int("skipped", len(skipped)).Msg("vesicle removal finished")
	return out, skipped
}

// filterFrame filters one frame against its temporal neighbours. Comparison
// always runs against the unfiltered input masks.
func (f *VesicleFilter) filterFrame(w *MaskWindow, frame int) (out *Mask, skip bool, removed int) {
	m := w.At(frame)
	if m == nil {
		return nil, false, 0
	}

	var neighbours []*morph.Binary
	var before, after int
	for _, off := range f.params.Offsets {
		n := w.At(frame + off)
		if n == nil {
			continue
		}
		neighbours = append(neighbours, n.Lumen())
		if off < 0 {
			before++
		} else {
			after++
		}
	}
	if before == 0 || after == 0 {
		return m, true, 0
	}

	lumen := m.Lumen()

	// A lumen pixel unseen by most neighbours is a discrepancy.
	missing := make([]int, len(lumen.Pix))
	for _, nb := range neighbours {
		for i, on := range lumen.Pix {
			if on && !nb.Pix[i] {
				missing[i]++
			}
		}
	}
	disc := morph.NewBinary(lumen.W, lumen.H)
	for i, cnt := range missing {
		disc.Pix[i] = 2*cnt > len(neighbours)
	}

	erodeKernel := morph.Square(f.params.ErodeRadius)
	cores := morph.Erode(disc, erodeKernel)
	labels := morph.Label(cores)
	if len(labels.Regions) == 0 {
		return m, false, 0
	}
	regs := labels.ByArea()
	keep := len(regs)
	if idx, ok := f.params.Finder.FindKnee(regionAreas(regs)); ok {
		keep = idx
	}
	var ids []int32
	for _, r := range regs[:keep] {
		if r.Area >= f.params.MinArea {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return m, false, 0
	}

	// Grow the surviving cores back so the whole vesicle goes, not just
	// its eroded center.
	vesicles := morph.Dilate(labels.MaskOf(ids...), erodeKernel)
	newLumen := morph.Sub(lumen, vesicles)
	newLumen = closePreserving(newLumen, morph.Square(1))

	// Removal must not erase or fragment the lumen.
	pieces := morph.Label(newLumen)
	if len(pieces.Regions) == 0 {
		return m, false, 0
	}
	if len(pieces.Regions) > 1 {
		newLumen = pieces.MaskOf(pieces.ByArea()[0].ID)
	}

	out = m.Clone()
	for i := range out.Pix {
		switch {
		case newLumen.Pix[i]:
			out.Pix[i] = LabelLumen
		case out.Pix[i] == LabelLumen:
			out.Pix[i] = LabelCell
		}
	}
	for i, l := range out.Pix {
		if l != m.Pix[i] {
			removed++
		}
	}
	return out, false, removed
}
