// Package deblur implements no-neighbour deblurring: the background of each
// frame is simulated by blurring at several widths and subtracted, leaving
// the foreground structure.
package deblur

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"

	"tubulemetrics/pkg/movie"
)

// Params holds the preprocessing parameters.
type Params struct {
	// BackgroundMultiplier scales the simulated background before
	// subtraction.
	BackgroundMultiplier float64

	// DownscaleFactor shrinks frames before background estimation to keep
	// the large blurs affordable.
	DownscaleFactor int

	// Sigmas are the Gaussian widths whose pixelwise maximum forms the
	// background estimate.
	Sigmas []float64

	// Workers bounds the frame-parallel fan-out.
	Workers int
}

// Preprocessor cleans a movie before thresholding.
type Preprocessor struct {
	params *Params
	log    zerolog.Logger
}

// NewPreprocessor creates a Preprocessor with the given parameters.
func NewPreprocessor(params *Params, log zerolog.Logger) *Preprocessor {
	return &Preprocessor{params: params, log: log}
}

// Result carries the cleaned movie. Degenerate is set when the recording had
// no usable intensity range and was passed through untouched.
type Result struct {
	Movie      *movie.Movie
	Degenerate bool
}

// Run cleans the movie. The steps are:
// 1. 3x3 mean filter per frame
// 2. downscale per frame
// 3. background = pixelwise max of Gaussian blurs, subtracted per frame
// 4. rescale to byte range by the movie-wide maximum
// 5. restore the original frame size and clip negatives
func (p *Preprocessor) Run(m *movie.Movie) (*Result, error) {
	if m == nil || m.Len() == 0 {
		return nil, fmt.Errorf("empty movie")
	}

	factor := p.params.DownscaleFactor
	smallW, smallH := m.W/factor, m.H/factor
	if smallW < 2 || smallH < 2 {
		return nil, fmt.Errorf("%dx%d frames are too small to downscale by %d", m.W, m.H, factor)
	}

	p.log.Info().Int("frames", m.Len()).Msg("running no-neighbour deblurring")

	// Steps 1-3 are frame-local.
	small := make([]*movie.Frame, m.Len())
	p.forEachFrame(m.Len(), func(i int) {
		smoothed := meanFilter3(m.Frames[i])
		down := resize(smoothed, smallW, smallH)

		bg := movie.NewFrame(smallW, smallH)
		for _, sigma := range p.params.Sigmas {
			blurred := gaussianBlur(down, sigma)
			for j, v := range blurred.Pix {
				if v > bg.Pix[j] {
					bg.Pix[j] = v
				}
			}
		}

		out := movie.NewFrame(smallW, smallH)
		for j := range out.Pix {
			out.Pix[j] = down.Pix[j] - p.params.BackgroundMultiplier*bg.Pix[j]
		}
		small[i] = out
	})

	// The byte-range rescale uses the movie-wide maximum, which makes this
	// the only cross-frame step.
	max := math.Inf(-1)
	for _, f := range small {
		if v := f.Max(); v > max {
			max = v
		}
	}
	if max <= 0 || math.IsNaN(max) || math.IsInf(max, 0) {
		p.log.Warn().Float64("max", max).Msg("deblurring numerically degenerate, passing movie through")
		return &Result{Movie: m, Degenerate: true}, nil
	}

	frames := make([]*movie.Frame, m.Len())
	p.forEachFrame(m.Len(), func(i int) {
		f := small[i]
		for j, v := range f.Pix {
			v = v / max * 255
			if v < 0 {
				v = 0
			}
			f.Pix[j] = v
		}
		frames[i] = resize(f, m.W, m.H)
	})

	clean, err := movie.New(frames, m.Meta)
	if err != nil {
		return nil, err
	}
	clean.Options = m.Options
	return &Result{Movie: clean}, nil
}

func (p *Preprocessor) forEachFrame(n int, fn func(int)) {
	workers := p.params.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

// meanFilter3 applies a 3x3 mean filter with zero padding, so border pixels
// dim slightly.
func meanFilter3(f *movie.Frame) *movie.Frame {
	out := movie.NewFrame(f.W, f.H)
	for y := 0; y < f.H; y++ {
		for x := 0; x < f.W; x++ {
			sum := 0.0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= f.W || ny >= f.H {
						continue
					}
					sum += f.Pix[ny*f.W+nx]
				}
			}
			out.Pix[y*f.W+x] = sum / 9
		}
	}
	return out
}

// resize scales a byte-range frame to the target size with Catmull-Rom
// interpolation.
func resize(f *movie.Frame, w, h int) *movie.Frame {
	src := image.NewGray16(image.Rect(0, 0, f.W, f.H))
	for y := 0; y < f.H; y++ {
		for x := 0; x < f.W; x++ {
			v := math.Round(f.Pix[y*f.W+x] * 257)
			if v < 0 {
				v = 0
			}
			if v > 65535 {
				v = 65535
			}
			src.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}

	dst := image.NewGray16(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	out := movie.NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*w+x] = float64(dst.Gray16At(x, y).Y) / 257
		}
	}
	return out
}

// gaussianBlur applies a separable Gaussian with reflected borders. The
// kernel is truncated at four standard deviations.
func gaussianBlur(f *movie.Frame, sigma float64) *movie.Frame {
	radius := int(4*sigma + 0.5)
	if radius < 1 {
		radius = 1
	}
	kernel := gaussianKernel1D(radius, sigma)

	w, h := f.W, f.H
	tmp := make([]float64, w*h)

	// Horizontal pass.
	for y := 0; y < h; y++ {
		row := f.Pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			sum := 0.0
			if x >= radius && x+radius < w {
				base := x - radius
				for k, kv := range kernel {
					sum += row[base+k] * kv
				}
			} else {
				for k, kv := range kernel {
					sum += row[reflectIndex(x+k-radius, w)] * kv
				}
			}
			tmp[y*w+x] = sum
		}
	}

	// Vertical pass.
	out := movie.NewFrame(w, h)
	for y := 0; y < h; y++ {
		interior := y >= radius && y+radius < h
		for x := 0; x < w; x++ {
			sum := 0.0
			if interior {
				base := (y - radius) * w
				for k, kv := range kernel {
					sum += tmp[base+k*w+x] * kv
				}
			} else {
				for k, kv := range kernel {
					sum += tmp[reflectIndex(y+k-radius, h)*w+x] * kv
				}
			}
			out.Pix[y*w+x] = sum
		}
	}
	return out
}

func gaussianKernel1D(radius int, sigma float64) []float64 {
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// reflectIndex mirrors an out-of-range index back into [0, size), repeating
// the edge sample.
func reflectIndex(idx, size int) int {
	for idx < 0 || idx >= size {
		if idx < 0 {
			idx = -idx - 1
		}
		if idx >= size {
			idx = 2*size - idx - 1
		}
	}
	return idx
}
