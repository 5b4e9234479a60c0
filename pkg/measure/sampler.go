package measure

import (
	"math"

	"github.com/rs/zerolog"

	"tubulemetrics/pkg/segmentation"
	"tubulemetrics/pkg/trace"
)

// Diagnostic page values, chosen to be told apart at a glance in a viewer.
const (
	diagSilhouette uint8 = 1
	diagTract      uint8 = 3
	diagProfile    uint8 = 5
)

// Params holds the sampling parameters.
type Params struct {
	// Scale converts pixels to physical units (unit per pixel).
	Scale float64

	// Spacing is the distance between sampling positions along the
	// centerline, in physical units.
	Spacing float64
}

// Sampler measures widths along profiles perpendicular to the centerline.
type Sampler struct {
	params *Params
	log    zerolog.Logger
}

// NewSampler creates a Sampler with the given parameters.
func NewSampler(params *Params, log zerolog.Logger) *Sampler {
	return &Sampler{params: params, log: log}
}

// FrameResult carries the measurements of one frame and the diagnostic page
// showing where they were taken.
type FrameResult struct {
	Events     []SampleEvent
	Summary    FrameSummary
	Diagnostic []uint8
}

// MeasureFrame samples the mask along the centerline. At every spacing step
// a profile runs along both signs of the local normal until it reaches
// background; the tubule width is the non-background span, the lumen width
// the span between the outermost lumen pixels on the profile. Positions
// whose profile leaves the frame, or never crosses the lumen, are dropped.
func (s *Sampler) MeasureFrame(m *segmentation.Mask, line *trace.Centerline) *FrameResult {
	diag := make([]uint8, m.W*m.H)
	for i, l := range m.Pix {
		if l != segmentation.LabelCell {
			diag[i] = diagSilhouette
		}
	}
	burnTract(diag, m.W, m.H, line.Tract1)
	burnTract(diag, m.W, m.H, line.Tract2)

	scale := s.params.Scale
	lumenArea := float64(m.CountLabel(segmentation.LabelLumen)) * scale * scale
	cellArea := float64(m.CountLabel(segmentation.LabelCell)) * scale * scale

	spacingPx := s.params.Spacing / scale
	var events []SampleEvent
	dropped := 0
	for k := 0; float64(k)*spacingPx <= line.Length(); k++ {
		sample, ok := line.At(float64(k) * spacingPx)
		if !ok {
			break
		}
		plus := castRay(m, sample.Point, sample.Normal.X, sample.Normal.Y)
		minus := castRay(m, sample.Point, -sample.Normal.X, -sample.Normal.Y)
		if !plus.ok || !minus.ok {
			dropped++
			continue
		}
		tubulePx := plus.steps + minus.steps - 1
		if tubulePx < 1 {
			dropped++
			continue
		}

		hasLumen := plus.lumenFar >= 0 || minus.lumenFar >= 0
		if !hasLumen {
			dropped++
			continue
		}
		lumenMin, lumenMax := plus.lumenNear, plus.lumenFar
		if minus.lumenFar >= 0 {
			lumenMin = -minus.lumenFar
			if plus.lumenFar < 0 {
				lumenMax = -minus.lumenNear
			}
		}
		lumenPx := float64(lumenMax - lumenMin)

		tubule := float64(tubulePx) * scale
		lumen := lumenPx * scale
		events = append(events, SampleEvent{
			Frame:       m.Frame,
			Position:    k,
			TubuleWidth: tubule,
			LumenWidth:  lumen,
			CellWidth:   (tubule - lumen) / 2,
			LumenArea:   lumenArea,
			CellArea:    cellArea,
		})
		for _, i := range plus.px {
			diag[i] = diagProfile
		}
		for _, i := range minus.px {
			diag[i] = diagProfile
		}
	}
	if dropped > 0 {
		s.log.Debug().Int("frame", m.Frame).Int("dropped", dropped).Msg("sampling positions dropped")
	}

	return &FrameResult{
		Events:     events,
		Summary:    summarize(m.Frame, events, lumenArea, cellArea),
		Diagnostic: diag,
	}
}

type rayResult struct {
	// steps is the step index of the first background pixel.
	steps int

	// lumenNear and lumenFar are the first and last step indices labeled
	// lumen, -1 when the ray saw none.
	lumenNear, lumenFar int

	// px are the offsets of the non-background pixels crossed.
	px []int

	// ok is false when the ray left the frame before reaching background.
	ok bool
}

// castRay walks from origin along (dx, dy) in unit steps until the first
// background pixel. A unit direction must leave the frame within W+H steps,
// so the walk is capped there.
func castRay(m *segmentation.Mask, origin trace.Point, dx, dy float64) rayResult {
	res := rayResult{lumenNear: -1, lumenFar: -1}
	for t := 0; t <= m.W+m.H; t++ {
		x := int(math.Round(origin.X + dx*float64(t)))
		y := int(math.Round(origin.Y + dy*float64(t)))
		if x < 0 || y < 0 || x >= m.W || y >= m.H {
			return rayResult{lumenNear: -1, lumenFar: -1}
		}
		switch m.At(x, y) {
		case segmentation.LabelBackgroundA, segmentation.LabelBackgroundB:
			res.steps = t
			res.ok = true
			return res
		case segmentation.LabelLumen:
			if res.lumenNear < 0 {
				res.lumenNear = t
			}
			res.lumenFar = t
		}
		res.px = append(res.px, y*m.W+x)
	}
	return rayResult{lumenNear: -1, lumenFar: -1}
}

func burnTract(diag []uint8, w, h int, tract []trace.Point) {
	for _, p := range tract {
		x := int(math.Round(p.X))
		y := int(math.Round(p.Y))
		if x < 0 || y < 0 || x >= w || y >= h {
			continue
		}
		diag[y*w+x] = diagTract
	}
}
