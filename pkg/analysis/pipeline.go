// Package analysis drives the per-sample pipeline from recording to
// artifacts: import, background removal, threshold selection, segmentation,
// vesicle removal, centerline tracing, width sampling and reporting.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"tubulemetrics/internal/logging"
	"tubulemetrics/pkg/config"
	"tubulemetrics/pkg/deblur"
	"tubulemetrics/pkg/measure"
	"tubulemetrics/pkg/movie"
	"tubulemetrics/pkg/report"
	"tubulemetrics/pkg/segmentation"
	"tubulemetrics/pkg/threshold"
	"tubulemetrics/pkg/trace"
)

// Stage names used in the frame status ledger.
const (
	StageThreshold = "threshold"
	StageSegment   = "segment"
	StageVesicles  = "vesicles"
	StageTrace     = "trace"
)

// defaultSpacing is the distance between sampling positions when the
// manifest does not set one, in physical units.
const defaultSpacing = 10.0

var errNoThreshold = errors.New("no threshold available yet")

// FrameStatus records a frame a stage failed or skipped. Failed frames stay
// in the output tables as NaN rows; skipped vesicle frames are still
// measured.
type FrameStatus struct {
	Frame  int
	Stage  string
	Reason string
}

// Params holds everything one sample run needs.
type Params struct {
	// InputPath is the multi-page TIFF recording.
	InputPath string

	// OutDir receives all artifacts.
	OutDir string

	// Meta is the physical calibration from the manifest.
	Meta movie.Meta

	// Options are the per-sample processing switches.
	Options movie.Options
}

// Result summarizes one sample run.
type Result struct {
	SampleID       string
	Frames         int
	MeasuredFrames int
	Events         int

	// Statuses lists the frames that dropped out of a stage, in frame order.
	Statuses []FrameStatus

	Table     *measure.Table
	Summaries []measure.FrameSummary

	// DeblurDegenerate is set when background removal found no usable
	// intensity range and passed the movie through.
	DeblurDegenerate bool
}

// Pipeline analyzes samples with one fixed configuration.
type Pipeline struct {
	cfg *config.Config
	log zerolog.Logger
}

// NewPipeline creates a Pipeline with the given configuration.
func NewPipeline(cfg *config.Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, log: log}
}

// Process runs the full pipeline on one sample. The steps are:
// 1. import the recording
// 2. remove background (RemoveBackground), or read region labels directly
//    when mask creation is off
// 3. select and smooth per-frame thresholds
// 4. segment every frame into background, cells and lumen
// 5. remove vesicles from the lumen (RemoveVesicles)
// 6. trace the centerline and sample widths
// 7. write tables, charts and overlay movies
// Frames that fail a stage are recorded in the status ledger and excluded
// from measurement; only input-level problems abort the sample.
func (p *Pipeline) Process(params *Params) (*Result, error) {
	base := p.log.With().Str("sample", params.Meta.SampleID).Logger()
	log := logging.WithComponent(base, "analysis")

	log.Info().Str("path", params.InputPath).Msg("step 1: importing recording")
	mv, err := movie.ReadMovie(params.InputPath)
	if err != nil {
		return nil, fmt.Errorf("importing %s: %w", params.InputPath, err)
	}
	mv.Meta = params.Meta
	mv.Options = params.Options
	p.resolveMeta(&mv.Meta)
	log.Info().Int("frames", mv.Len()).Int("w", mv.W).Int("h", mv.H).
		Float64("scale", mv.Meta.Scale).Str("unit", mv.Meta.Unit).Msg("recording loaded")

	rep, err := report.NewReporter(&report.Params{
		OutDir:        params.OutDir,
		Prefix:        mv.Meta.SampleID,
		Unit:          mv.Meta.Unit,
		SummaryWindow: p.cfg.Output.SummaryWindow,
	}, logging.WithComponent(base, "report"))
	if err != nil {
		return nil, err
	}

	res := &Result{SampleID: mv.Meta.SampleID, Frames: mv.Len()}

	clean := mv
	var masks []*segmentation.Mask
	if mv.Options.MakeMask {
		if mv.Options.RemoveBackground {
			log.Info().Msg("step 2: removing background")
			pre := deblur.NewPreprocessor(&deblur.Params{
				BackgroundMultiplier: p.cfg.Processing.BackgroundMultiplier,
				DownscaleFactor:      p.cfg.Processing.DownscaleFactor,
				Sigmas:               p.cfg.Processing.BackgroundSigmas,
				Workers:              p.cfg.Processing.NumWorkers,
			}, logging.WithComponent(base, "deblur"))
			dres, err := pre.Run(mv)
			if err != nil {
				return nil, fmt.Errorf("removing background: %w", err)
			}
			clean = dres.Movie
			res.DeblurDegenerate = dres.Degenerate
			if err := rep.WriteCleanMovie(clean); err != nil {
				return nil, err
			}
		}

		log.Info().Msg("step 3: selecting thresholds")
		sel := threshold.NewSelector(&threshold.SelectorParams{
			Finder:          p.finder(),
			Polarity:        p.polarity(),
			SmoothingWindow: p.cfg.Processing.ProfileSmoothingWindow,
			Workers:         p.cfg.Processing.NumWorkers,
		}, logging.WithComponent(base, "threshold"))
		records := threshold.NewSmoother(p.cfg.Processing.ThresholdSmoothingWindow).Smooth(sel.Thresholds(clean))

		log.Info().Msg("step 4: segmenting frames")
		masks = p.segmentFrames(clean, records, res, base)
		masked := 0
		for _, m := range masks {
			if m != nil {
				masked++
			}
		}
		log.Info().Int("masked", masked).Int("frames", clean.Len()).Msg("frames masked")

		if mv.Options.RemoveVesicles {
			log.Info().Msg("step 5: removing vesicles")
			vf := segmentation.NewVesicleFilter(&segmentation.VesicleParams{
				Offsets:     p.cfg.Vesicles.Offsets,
				ErodeRadius: p.cfg.Vesicles.ErodeRadius,
				MinArea:     p.cfg.Vesicles.MinArea,
				Finder:      p.finder(),
			}, logging.WithComponent(base, "vesicles"))
			var unfiltered []int
			masks, unfiltered = vf.Run(masks)
			for _, i := range unfiltered {
				res.Statuses = append(res.Statuses, FrameStatus{
					Frame: i, Stage: StageVesicles,
					Reason: "incomplete temporal window, frame kept unfiltered",
				})
			}
		}

		if err := rep.WriteMaskMovie(masks, clean.W, clean.H); err != nil {
			return nil, err
		}
		if p.cfg.Output.SaveDiagnostics {
			if err := rep.WriteMaskDiagnostics(clean, masks); err != nil {
				return nil, err
			}
		}
		if err := rep.WriteThresholds(records); err != nil {
			return nil, err
		}
		if p.cfg.Output.SavePlots {
			if err := rep.PlotThresholds(records); err != nil {
				return nil, err
			}
		}
	} else {
		if mv.Options.RemoveBackground {
			log.Warn().Msg("background removal only applies when masks are made, skipping")
		}
		if mv.Options.RemoveVesicles {
			log.Warn().Msg("vesicle removal only applies when masks are made, skipping")
		}
		log.Info().Msg("step 2: reading region labels")
		masks = make([]*segmentation.Mask, mv.Len())
		for i, f := range mv.Frames {
			m, err := segmentation.FromFrame(f, i)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", i, err)
			}
			masks[i] = m
		}
	}

	log.Info().Msg("step 6: tracing and measuring")
	diags := p.measureFrames(clean, masks, res, base)

	log.Info().Msg("step 7: writing tables and charts")
	if err := rep.WriteMeasurements(res.Table); err != nil {
		return nil, err
	}
	if err := rep.WriteFrameSummary(res.Summaries); err != nil {
		return nil, err
	}
	if p.cfg.Output.SaveDiagnostics {
		if err := rep.WriteMeasurementDiagnostics(diags, clean.W, clean.H); err != nil {
			return nil, err
		}
	}
	if p.cfg.Output.SavePlots {
		if err := rep.PlotMeasurements(res.Summaries); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(res.Statuses, func(i, j int) bool {
		return res.Statuses[i].Frame < res.Statuses[j].Frame
	})
	log.Info().Int("frames", res.Frames).Int("measured", res.MeasuredFrames).
		Int("events", res.Events).Int("statuses", len(res.Statuses)).Msg("sample analyzed")
	return res, nil
}

// segmentFrames segments all frames in parallel. Frames without a smoothed
// threshold or without a recognizable lumen are left nil and recorded in the
// status ledger.
func (p *Pipeline) segmentFrames(clean *movie.Movie, records []threshold.Record, res *Result, log zerolog.Logger) []*segmentation.Mask {
	seg := segmentation.NewSegmenter(&segmentation.Params{
		Polarity:          p.polarity(),
		Finder:            p.finder(),
		MinCellArea:       p.cfg.Segmentation.MinCellArea,
		MaxCellComponents: p.cfg.Segmentation.MaxCellComponents,
		CloseRadius:       p.cfg.Segmentation.CloseRadius,
		CloseRounds:       p.cfg.Segmentation.CloseRounds,
		LumenCloseRadius:  p.cfg.Segmentation.LumenCloseRadius,
		LumenBorderFrac:   p.cfg.Segmentation.LumenBorderFrac,
	}, logging.WithComponent(log, "segmentation"))

	masks := make([]*segmentation.Mask, clean.Len())
	errs := make([]error, clean.Len())
	p.forEachFrame(clean.Len(), func(i int) {
		if math.IsNaN(records[i].Smoothed) {
			errs[i] = errNoThreshold
			return
		}
		m, err := seg.Segment(clean.Frames[i], i, records[i].Smoothed)
		if err != nil {
			errs[i] = err
			return
		}
		masks[i] = m
	})

	for i, err := range errs {
		if err == nil {
			continue
		}
		stage := StageSegment
		if errors.Is(err, errNoThreshold) {
			stage = StageThreshold
		}
		res.Statuses = append(res.Statuses, FrameStatus{Frame: i, Stage: stage, Reason: err.Error()})
	}
	return masks
}

// measureFrames traces and samples all masked frames in parallel, filling
// the result table and summaries. It returns the diagnostic pages.
func (p *Pipeline) measureFrames(mv *movie.Movie, masks []*segmentation.Mask, res *Result, log zerolog.Logger) [][]uint8 {
	tracer := trace.NewTracer(&trace.Params{
		MaxSkewDeg:     p.cfg.Tracing.MaxTractSkewDeg,
		MaxLengthRatio: p.cfg.Tracing.MaxTractLengthRatio,
	}, logging.WithComponent(log, "trace"))
	sampler := measure.NewSampler(&measure.Params{
		Scale:   mv.Meta.Scale,
		Spacing: mv.Meta.Spacing,
	}, logging.WithComponent(log, "measure"))

	sums := make([]measure.FrameSummary, len(masks))
	diags := make([][]uint8, len(masks))
	frames := make([]*measure.FrameResult, len(masks))
	errs := make([]error, len(masks))

	p.forEachFrame(len(masks), func(i int) {
		sums[i] = measure.EmptySummary(i)
		if masks[i] == nil {
			return
		}
		line, err := tracer.Trace(masks[i])
		if err != nil {
			errs[i] = err
			return
		}
		fr := sampler.MeasureFrame(masks[i], line)
		frames[i] = fr
		sums[i] = fr.Summary
		diags[i] = fr.Diagnostic
	})

	res.Table = &measure.Table{}
	for i, fr := range frames {
		if errs[i] != nil {
			res.Statuses = append(res.Statuses, FrameStatus{Frame: i, Stage: StageTrace, Reason: errs[i].Error()})
			continue
		}
		if fr == nil {
			continue
		}
		res.MeasuredFrames++
		res.Events += len(fr.Events)
		res.Table.Append(fr.Events...)
	}
	res.Summaries = sums
	return diags
}

func (p *Pipeline) forEachFrame(n int, fn func(int)) {
	workers := p.cfg.Processing.NumWorkers
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

// resolveMeta fills calibration defaults. Unscaled recordings are measured
// in pixels.
func (p *Pipeline) resolveMeta(meta *movie.Meta) {
	if meta.Scale <= 0 {
		meta.Scale = 1
	}
	if meta.Spacing <= 0 {
		meta.Spacing = defaultSpacing
	}
	if meta.Unit == "" {
		if meta.Scale == 1 {
			meta.Unit = "px"
		} else {
			meta.Unit = p.cfg.Output.UnitLabel
		}
	}
}

func (p *Pipeline) polarity() threshold.Polarity {
	if p.cfg.Processing.Polarity == config.PolarityDarkCells {
		return threshold.DarkCells
	}
	return threshold.BrightCells
}

func (p *Pipeline) finder() threshold.KneeFinder {
	return threshold.ChordKneedle{Sensitivity: p.cfg.Processing.KneeSensitivity}
}
