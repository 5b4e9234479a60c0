package segmentation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"tubulemetrics/pkg/morph"
	"tubulemetrics/pkg/movie"
	"tubulemetrics/pkg/threshold"
)

// ErrNoLumen reports that a frame has no region layout a tubule cross
// section could produce. Callers treat it as a per-frame condition, not a
// pipeline failure.
var ErrNoLumen = errors.New("no plausible lumen region")

// Params holds the segmentation parameters.
type Params struct {
	// Polarity declares whether cells are the bright or the dark side of
	// the threshold.
	Polarity threshold.Polarity

	// Finder cuts sorted component areas when too many cell components
	// survive thresholding.
	Finder threshold.KneeFinder

	// MinCellArea is the smallest pixel area a cell component may have.
	MinCellArea int

	// MaxCellComponents caps how many cell components are kept before the
	// area knee cut applies.
	MaxCellComponents int

	// CloseRadius and CloseRounds control the opening of the non-cell
	// complement that seals small holes in the cell layer.
	CloseRadius int
	CloseRounds int

	// LumenCloseRadius seals the lumen before hole filling.
	LumenCloseRadius int

	// LumenBorderFrac is the largest fraction of the lumen perimeter that
	// may lie on the image border. The end caps of a tubule crossing the
	// whole field touch the border, so this is a tolerance, not zero.
	LumenBorderFrac float64
}

// Segmenter labels frames into cell, background and lumen regions.
type Segmenter struct {
	params *Params
	log    zerolog.Logger
}

// NewSegmenter creates a Segmenter with the given parameters.
func NewSegmenter(params *Params, log zerolog.Logger) *Segmenter {
	return &Segmenter{params: params, log: log}
}

// Segment builds the labeled mask of one frame from its smoothed threshold.
// The steps are:
// 1. binary split by threshold, honoring polarity
// 2. open and keep the significant cell components
// 3. open the complement to seal pinholes in the cell layer
// 4. classify the top non-cell components into backgrounds and lumen
// 5. close and hole-fill the lumen
func (s *Segmenter) Segment(f *movie.Frame, frame int, thr float64) (*Mask, error) {
	if math.IsNaN(thr) {
		return nil, fmt.Errorf("frame %d: no threshold available", frame)
	}

	cells := s.cellMask(f, thr)

	nonCell := morph.Not(cells)
	kernel := morph.Square(s.params.CloseRadius)
	for i := 0; i < s.params.CloseRounds; i++ {
		nonCell = morph.Open(nonCell, kernel)
	}

	bgA, bgB, lumen, err := s.classify(nonCell, frame)
	if err != nil {
		return nil, err
	}

	mask := NewMask(frame, f.W, f.H)
	if bgA != nil {
		for i, on := range bgA.Pix {
			if on {
				mask.Pix[i] = LabelBackgroundA
			}
		}
	}
	if bgB != nil {
		for i, on := range bgB.Pix {
			if on {
				mask.Pix[i] = LabelBackgroundB
			}
		}
	}
	// Any non-cell component beyond the classified three is enclosed by
	// cell pixels and folds back into the cell layer here.
	for i, on := range lumen.Pix {
		if on {
			mask.Pix[i] = LabelLumen
		}
	}
	s.log.Debug().Int("frame", frame).Int("lumen_px", lumen.Count()).Msg("frame segmented")
	return mask, nil
}

// cellMask thresholds a frame and keeps the significant cell components.
func (s *Segmenter) cellMask(f *movie.Frame, thr float64) *morph.Binary {
	bin := morph.NewBinary(f.W, f.H)
	if s.params.Polarity == threshold.DarkCells {
		for i, v := range f.Pix {
			bin.Pix[i] = v < thr
		}
	} else {
		for i, v := range f.Pix {
			bin.Pix[i] = v > thr
		}
	}
	bin = morph.Open(bin, morph.Square(1))

	labels := morph.Label(bin)
	regs := labels.ByArea()
	keep := len(regs)
	if keep > s.params.MaxCellComponents {
		if idx, ok := s.params.Finder.FindKnee(regionAreas(regs)); ok {
			keep = idx
		}
	}
	var ids []int32
	for _, r := range regs[:keep] {
		if r.Area > s.params.MinCellArea {
			ids = append(ids, r.ID)
		}
	}
	return labels.MaskOf(ids...)
}

// classify resolves the top non-cell components into up to two backgrounds
// and one lumen. Backgrounds hug the image border; the lumen runs between
// them with border contact only at its end caps.
func (s *Segmenter) classify(nonCell *morph.Binary, frame int) (bgA, bgB, lumen *morph.Binary, err error) {
	labels := morph.Label(nonCell)
	regs := labels.ByArea()
	if len(regs) < 2 {
		return nil, nil, nil, fmt.Errorf("frame %d: %d non-cell regions, need background and lumen: %w",
			frame, len(regs), ErrNoLumen)
	}
	if len(regs) > 3 {
		regs = regs[:3]
	}

	// The candidates with the most border pixels are the backgrounds; the
	// leftover one is the lumen. Area breaks border-contact ties.
	byBorder := make([]morph.Region, len(regs))
	copy(byBorder, regs)
	sort.SliceStable(byBorder, func(i, j int) bool {
		return byBorder[i].Border > byBorder[j].Border
	})
	lum := byBorder[len(byBorder)-1]
	bgs := byBorder[:len(byBorder)-1]
	if len(bgs) > 0 && bgs[len(bgs)-1].Border == 0 {
		return nil, nil, nil, fmt.Errorf("frame %d: no background region touches the border: %w", frame, ErrNoLumen)
	}
	if lum.Boundary > 0 && float64(lum.Border) > s.params.LumenBorderFrac*float64(lum.Boundary) {
		return nil, nil, nil, fmt.Errorf("frame %d: lumen candidate has %d of %d boundary pixels on the border: %w",
			frame, lum.Border, lum.Boundary, ErrNoLumen)
	}
	if len(bgs) == 2 && !centroidBetween(bgs[0], bgs[1], lum) {
		return nil, nil, nil, fmt.Errorf("frame %d: lumen centroid not between the backgrounds: %w", frame, ErrNoLumen)
	}

	// Background A is the larger one, matching the label order of written
	// masks.
	if len(bgs) == 2 && bgs[1].Area > bgs[0].Area {
		bgs[0], bgs[1] = bgs[1], bgs[0]
	}
	bgA = labels.MaskOf(bgs[0].ID)
	if len(bgs) == 2 {
		bgB = labels.MaskOf(bgs[1].ID)
	}

	lumenBin := labels.MaskOf(lum.ID)
	lumenBin = closePreserving(lumenBin, morph.Square(s.params.LumenCloseRadius))
	lumenBin = morph.FillHoles(lumenBin)

	// Closing cannot split a connected set, but guard the single-lumen
	// invariant against pathological inputs anyway.
	if pieces := morph.Label(lumenBin); len(pieces.Regions) > 1 {
		lumenBin = pieces.MaskOf(pieces.ByArea()[0].ID)
	}
	return bgA, bgB, lumenBin, nil
}

// centroidBetween reports whether the lumen centroid sits between the two
// background centroids, i.e. the backgrounds are the most distant pair.
func centroidBetween(bg1, bg2, lumen morph.Region) bool {
	span := centroidDist(bg1, bg2)
	return span > centroidDist(bg1, lumen) && span > centroidDist(bg2, lumen)
}

func centroidDist(a, b morph.Region) float64 {
	return math.Hypot(a.CX-b.CX, a.CY-b.CY)
}

// closePreserving closes b without the border loss of zero padding: erosion
// after the dilation step treats pixels outside the image as unset and would
// eat the set where it touches the frame edge, so the original pixels are
// restored afterwards.
func closePreserving(b *morph.Binary, k morph.Kernel) *morph.Binary {
	return morph.Or(morph.Close(b, k), b)
}

func regionAreas(regs []morph.Region) []float64 {
	areas := make([]float64, len(regs))
	for i, r := range regs {
		areas[i] = float64(r.Area)
	}
	return areas
}
