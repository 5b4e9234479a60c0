package deblur

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"tubulemetrics/pkg/movie"
)

func testParams() *Params {
	return &Params{
		BackgroundMultiplier: 0.5,
		DownscaleFactor:      4,
		Sigmas:               []float64{5, 10, 20},
		Workers:              2,
	}
}

func TestMeanFilter3(t *testing.T) {
	f := movie.NewFrame(5, 5)
	f.Set(2, 2, 9)

	got := meanFilter3(f)
	if got.At(2, 2) != 1 {
		t.Errorf("expected center 1 after mean filter, got %v", got.At(2, 2))
	}
	if got.At(1, 1) != 1 {
		t.Errorf("expected neighbor 1, got %v", got.At(1, 1))
	}
	if got.At(0, 0) != 0 {
		t.Errorf("expected distant pixel 0, got %v", got.At(0, 0))
	}
}

func TestGaussianKernelNormalized(t *testing.T) {
	kernel := gaussianKernel1D(20, 5)
	sum := 0.0
	for _, v := range kernel {
		sum += v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("expected kernel sum 1, got %v", sum)
	}
}

func TestGaussianBlurPreservesConstant(t *testing.T) {
	f := movie.NewFrame(16, 16)
	for i := range f.Pix {
		f.Pix[i] = 42
	}
	got := gaussianBlur(f, 5)
	for i, v := range got.Pix {
		if math.Abs(v-42) > 1e-9 {
			t.Fatalf("pixel %d: expected 42, got %v", i, v)
		}
	}
}

func TestReflectIndex(t *testing.T) {
	cases := []struct{ idx, size, want int }{
		{-1, 5, 0},
		{-2, 5, 1},
		{5, 5, 4},
		{6, 5, 3},
		{2, 5, 2},
	}
	for _, tc := range cases {
		if got := reflectIndex(tc.idx, tc.size); got != tc.want {
			t.Errorf("reflectIndex(%d, %d): expected %d, got %d", tc.idx, tc.size, tc.want, got)
		}
	}
}

func TestRunSuppressesUniformBackground(t *testing.T) {
	w, h := 64, 64
	frames := make([]*movie.Frame, 2)
	for i := range frames {
		f := movie.NewFrame(w, h)
		for j := range f.Pix {
			f.Pix[j] = 50
		}
		for y := 24; y < 40; y++ {
			for x := 24; x < 40; x++ {
				f.Set(x, y, 200)
			}
		}
		frames[i] = f
	}
	m, err := movie.New(frames, movie.Meta{})
	if err != nil {
		t.Fatal(err)
	}

	res, err := NewPreprocessor(testParams(), zerolog.Nop()).Run(m)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Degenerate {
		t.Fatal("expected non-degenerate result")
	}
	clean := res.Movie
	if clean.W != w || clean.H != h {
		t.Fatalf("expected size restored to %dx%d, got %dx%d", w, h, clean.W, clean.H)
	}

	center := clean.Frames[0].At(32, 32)
	corner := clean.Frames[0].At(4, 4)
	if center <= corner {
		t.Errorf("expected foreground to dominate after cleaning: center %v, corner %v", center, corner)
	}
	for i, v := range clean.Frames[0].Pix {
		if v < 0 {
			t.Fatalf("pixel %d negative after cleaning: %v", i, v)
		}
		if v > 255 {
			t.Fatalf("pixel %d above byte range after cleaning: %v", i, v)
		}
	}
}

func TestRunDegenerateMoviePassesThrough(t *testing.T) {
	frames := []*movie.Frame{movie.NewFrame(32, 32), movie.NewFrame(32, 32)}
	m, err := movie.New(frames, movie.Meta{})
	if err != nil {
		t.Fatal(err)
	}

	res, err := NewPreprocessor(testParams(), zerolog.Nop()).Run(m)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Degenerate {
		t.Error("expected degenerate flag for all-zero movie")
	}
	if res.Movie != m {
		t.Error("expected the input movie passed through unchanged")
	}
}
