package trace

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"tubulemetrics/pkg/morph"
	"tubulemetrics/pkg/segmentation"
)

// ErrTractsNotResolved reports that the lumen boundary does not split into
// two usable edge tracts. Callers treat it as a per-frame condition.
var ErrTractsNotResolved = errors.New("lumen tracts not resolved")

// minRingLen is the shortest boundary ring worth splitting.
const minRingLen = 8

// tangentWindow smooths the finite-difference tangents.
const tangentWindow = 5

// Params holds the tracing parameters.
type Params struct {
	// MaxSkewDeg is the mean angular deviation (degrees) between paired
	// tract segments above which the tracts are rejected as non-parallel.
	MaxSkewDeg float64

	// MaxLengthRatio rejects tract pairs whose arclengths differ by more
	// than this factor.
	MaxLengthRatio float64
}

// Tracer extracts the centerline between the two lumen-edge tracts.
type Tracer struct {
	params *Params
	log    zerolog.Logger
}

// NewTracer creates a Tracer with the given parameters.
func NewTracer(params *Params, log zerolog.Logger) *Tracer {
	return &Tracer{params: params, log: log}
}

// Trace recovers the centerline of the lumen in m. The steps are:
// 1. walk the lumen boundary into a ring
// 2. split the ring at the extremes of the lumen's principal axis
// 3. resample both tracts to matched support points
// 4. verify the tracts are parallel and of similar length
// 5. pair them into centerline samples with smoothed tangents
func (t *Tracer) Trace(m *segmentation.Mask) (*Centerline, error) {
	lumen := m.Lumen()
	ring, err := boundaryRing(lumen)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", m.Frame, err)
	}
	axis, err := principalAxis(lumen)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", m.Frame, err)
	}
	arcA, arcB, err := splitRing(ring, axis)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", m.Frame, err)
	}

	lenA, lenB := polylineLength(arcA), polylineLength(arcB)
	if lenA == 0 || lenB == 0 {
		return nil, fmt.Errorf("frame %d: zero-length tract: %w", m.Frame, ErrTractsNotResolved)
	}
	ratio := lenA / lenB
	if ratio < 1 {
		ratio = 1 / ratio
	}
	if ratio > t.params.MaxLengthRatio {
		return nil, fmt.Errorf("frame %d: tract lengths %.1f and %.1f differ beyond factor %v: %w",
			m.Frame, lenA, lenB, t.params.MaxLengthRatio, ErrTractsNotResolved)
	}

	n := int(math.Round((lenA+lenB)/2)) + 1
	if n < 2 {
		n = 2
	}
	tract1 := resample(arcA, n)
	tract2 := resample(arcB, n)

	if skew := meanSkewDeg(tract1, tract2); skew > t.params.MaxSkewDeg {
		return nil, fmt.Errorf("frame %d: tracts skewed by %.1f deg, limit %v: %w",
			m.Frame, skew, t.params.MaxSkewDeg, ErrTractsNotResolved)
	}

	mids := make([]Point, n)
	for i := range mids {
		mids[i] = lerp(tract1[i], tract2[i], 0.5)
	}
	tangents := smoothedTangents(mids)
	samples := make([]Sample, n)
	for i := range samples {
		tan := tangents[i]
		samples[i] = Sample{Point: mids[i], Tangent: tan, Normal: Point{-tan.Y, tan.X}}
	}

	c := newCenterline(samples, tract1, tract2)
	t.log.Debug().Int("frame", m.Frame).Float64("length_px", c.Length()).Msg("centerline traced")
	return c, nil
}

// mooreOrder cycles the 8-neighbourhood; with y growing downward this walks
// the boundary keeping the set on the right.
var mooreOrder = [8][2]int{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

// boundaryRing walks the outer boundary of the set using Moore neighbour
// tracing with Jacob's stopping criterion. Pixels are returned in walk order.
func boundaryRing(b *morph.Binary) ([]Point, error) {
	start := -1
	for i, on := range b.Pix {
		if on {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("empty lumen: %w", ErrTractsNotResolved)
	}
	sx, sy := start%b.W, start/b.W

	at := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < b.W && y < b.H && b.Pix[y*b.W+x]
	}

	// The raster scan reaches the start pixel from the west, so the walk
	// backtracks west of it.
	cx, cy := sx, sy
	bx, by := sx-1, sy
	startBX, startBY := bx, by

	var ring []Point
	for {
		ring = append(ring, Point{float64(cx), float64(cy)})

		bi := 0
		for i, o := range mooreOrder {
			if cx+o[0] == bx && cy+o[1] == by {
				bi = i
				break
			}
		}
		found := false
		px, py := bx, by
		var nx, ny int
		for s := 1; s <= 8; s++ {
			o := mooreOrder[(bi+s)%8]
			x, y := cx+o[0], cy+o[1]
			if at(x, y) {
				nx, ny = x, y
				found = true
				break
			}
			px, py = x, y
		}
		if !found {
			break // isolated pixel
		}
		bx, by = px, py
		cx, cy = nx, ny
		if cx == sx && cy == sy && bx == startBX && by == startBY {
			break
		}
		if len(ring) > 4*b.Count()+8 {
			return nil, fmt.Errorf("boundary walk did not close: %w", ErrTractsNotResolved)
		}
	}
	if len(ring) < minRingLen {
		return nil, fmt.Errorf("lumen boundary of %d pixels is too short: %w", len(ring), ErrTractsNotResolved)
	}
	return ring, nil
}

// principalAxis returns the dominant eigenvector of the pixel coordinate
// covariance, i.e. the direction the lumen extends along.
func principalAxis(b *morph.Binary) (Point, error) {
	var xs, ys []float64
	for i, on := range b.Pix {
		if on {
			xs = append(xs, float64(i%b.W))
			ys = append(ys, float64(i/b.W))
		}
	}
	cross := stat.Covariance(xs, ys, nil)
	cov := mat.NewSymDense(2, []float64{
		stat.Variance(xs, nil), cross,
		cross, stat.Variance(ys, nil),
	})
	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return Point{}, fmt.Errorf("covariance factorization failed: %w", ErrTractsNotResolved)
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Eigenvalues come out ascending, so the principal axis is column 1.
	return Point{vecs.At(0, 1), vecs.At(1, 1)}, nil
}

// splitRing cuts the ring at the extreme projections onto the axis and
// orients both arcs from the low end to the high end.
func splitRing(ring []Point, axis Point) (arcA, arcB []Point, err error) {
	iMin, iMax := 0, 0
	minP, maxP := math.Inf(1), math.Inf(-1)
	for i, p := range ring {
		proj := p.X*axis.X + p.Y*axis.Y
		if proj < minP {
			minP, iMin = proj, i
		}
		if proj > maxP {
			maxP, iMax = proj, i
		}
	}
	if iMin == iMax {
		return nil, nil, fmt.Errorf("degenerate axis projection: %w", ErrTractsNotResolved)
	}

	arc := func(from, to int) []Point {
		var pts []Point
		for i := from; ; i = (i + 1) % len(ring) {
			pts = append(pts, ring[i])
			if i == to {
				return pts
			}
		}
	}
	arcA = arc(iMin, iMax)
	arcB = arc(iMax, iMin)
	for i, j := 0, len(arcB)-1; i < j; i, j = i+1, j-1 {
		arcB[i], arcB[j] = arcB[j], arcB[i]
	}
	if len(arcA) < 2 || len(arcB) < 2 {
		return nil, nil, fmt.Errorf("tract with fewer than two points: %w", ErrTractsNotResolved)
	}
	return arcA, arcB, nil
}

// meanSkewDeg is the mean unsigned angle between corresponding segments of
// the two resampled tracts.
func meanSkewDeg(a, b []Point) float64 {
	sum, n := 0.0, 0
	for i := 0; i+1 < len(a); i++ {
		va := Point{a[i+1].X - a[i].X, a[i+1].Y - a[i].Y}
		vb := Point{b[i+1].X - b[i].X, b[i+1].Y - b[i].Y}
		la := math.Hypot(va.X, va.Y)
		lb := math.Hypot(vb.X, vb.Y)
		if la == 0 || lb == 0 {
			continue
		}
		cross := va.X*vb.Y - va.Y*vb.X
		dot := va.X*vb.X + va.Y*vb.Y
		sum += math.Abs(math.Atan2(cross, dot))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n) * 180 / math.Pi
}

// smoothedTangents returns unit tangents from centrally differenced,
// window-averaged midpoints.
func smoothedTangents(pts []Point) []Point {
	n := len(pts)
	raw := make([]Point, n)
	for i := range pts {
		lo, hi := i-1, i+1
		if lo < 0 {
			lo = 0
		}
		if hi >= n {
			hi = n - 1
		}
		raw[i] = Point{pts[hi].X - pts[lo].X, pts[hi].Y - pts[lo].Y}
	}

	out := make([]Point, n)
	half := tangentWindow / 2
	for i := range raw {
		lo, hi := i-half, i+half
		if lo < 0 {
			lo = 0
		}
		if hi >= n {
			hi = n - 1
		}
		var sx, sy float64
		for j := lo; j <= hi; j++ {
			sx += raw[j].X
			sy += raw[j].Y
		}
		out[i] = unit(Point{sx, sy})
	}
	// A degenerate window leaves a zero tangent; borrow the neighbour's.
	for i := range out {
		if out[i] == (Point{}) {
			if i > 0 {
				out[i] = out[i-1]
			} else {
				out[i] = Point{X: 1}
			}
		}
	}
	return out
}
