package report

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"tubulemetrics/pkg/morph"
	"tubulemetrics/pkg/movie"
	"tubulemetrics/pkg/segmentation"
)

// WriteCleanMovie writes the deblurred movie as 8-bit grayscale pages.
func (r *Reporter) WriteCleanMovie(mv *movie.Movie) error {
	pages := make([][]uint8, mv.Len())
	for i, f := range mv.Frames {
		pages[i] = f.Gray8()
	}
	return r.writeTIFF("_clean.tif", mv.W, mv.H, pages, movie.WriteGray8)
}

// WriteMaskMovie writes the label movie with raw label values, so the file
// can be fed back in as an already-masked input. Failed frames are empty.
func (r *Reporter) WriteMaskMovie(masks []*segmentation.Mask, w, h int) error {
	pages := make([][]uint8, len(masks))
	for i, m := range masks {
		page := make([]uint8, w*h)
		if m != nil {
			copy(page, m.Pix)
		}
		pages[i] = page
	}
	return r.writeTIFF("_mask.tif", w, h, pages, movie.WriteGray8)
}

// WriteMaskDiagnostics writes an RGB movie with the mask outline in red over
// the recording in green.
func (r *Reporter) WriteMaskDiagnostics(mv *movie.Movie, masks []*segmentation.Mask) error {
	pages := make([][]uint8, mv.Len())
	for i, f := range mv.Frames {
		gray := f.Gray8()
		page := make([]uint8, 3*len(gray))
		for j, g := range gray {
			page[3*j+1] = g
		}
		if i < len(masks) && masks[i] != nil {
			for j, on := range maskOutline(masks[i]).Pix {
				if on {
					page[3*j] = 255
				}
			}
		}
		pages[i] = page
	}
	return r.writeTIFF("_mask-diagnostics.tif", mv.W, mv.H, pages, movie.WriteRGB8)
}

// WriteMeasurementDiagnostics writes the measurement overlay pages: the mask
// silhouette with tract and profile pixels burned in, labeled with the frame
// index. Pages of unmeasured frames are blank except for the label.
func (r *Reporter) WriteMeasurementDiagnostics(diags [][]uint8, w, h int) error {
	pages := make([][]uint8, len(diags))
	for i, diag := range diags {
		page := make([]uint8, w*h)
		if diag != nil {
			copy(page, diag)
		}
		labelPage(page, w, h, fmt.Sprintf("frame %d", i))
		pages[i] = page
	}
	return r.writeTIFF("_measurements-diagnostics.tif", w, h, pages, movie.WriteGray8)
}

func (r *Reporter) writeTIFF(suffix string, w, h int, pages [][]uint8, write func(string, int, int, [][]uint8) error) error {
	path := r.path(suffix)
	if err := write(path, w, h, pages); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	r.log.Debug().Str("path", path).Int("pages", len(pages)).Msg("movie written")
	return nil
}

// maskOutline is the one-pixel rim of the labeled area: the non-cell set
// minus its erosion.
func maskOutline(m *segmentation.Mask) *morph.Binary {
	labeled := morph.NewBinary(m.W, m.H)
	for i, v := range m.Pix {
		if v != segmentation.LabelCell {
			labeled.Pix[i] = true
		}
	}
	return morph.Sub(labeled, morph.Erode(labeled, morph.Square(1)))
}

// labelPage burns a text label into the top-left corner of a grayscale page.
func labelPage(page []uint8, w, h int, text string) {
	img := &image.Gray{Pix: page, Stride: w, Rect: image.Rect(0, 0, w, h)}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Gray{Y: 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, 14),
	}
	d.DrawString(text)
}
