// Package batch runs the analysis pipeline over every sample of a manifest.
package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"

	"tubulemetrics/internal/logging"
	"tubulemetrics/internal/manifest"
	"tubulemetrics/pkg/analysis"
	"tubulemetrics/pkg/config"
)

// lockName guards the output directory against concurrent batch runs that
// would race on artifact files.
const lockName = ".tubulemetrics.lock"

// Params configures one batch run.
type Params struct {
	// ManifestPath is the tab-delimited sample sheet.
	ManifestPath string

	// OutDir receives every sample's artifacts. Created if absent.
	OutDir string

	// Workers is the number of samples analyzed concurrently.
	Workers int
}

// Outcome is the result of one manifest row. Err is set when the sample
// failed outright; frame-level dropouts live in Result.Statuses instead.
type Outcome struct {
	Row     manifest.Row
	Result  *analysis.Result
	Err     error
	Elapsed time.Duration
}

// Runner executes manifests.
type Runner struct {
	cfg *config.Config
	log zerolog.Logger
}

func NewRunner(cfg *config.Config, log zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, log: log}
}

// Run analyzes every sample in the manifest and returns one Outcome per row,
// in manifest order. A failing sample does not stop the others; Run itself
// fails only when the manifest is unreadable or the output directory cannot
// be claimed.
func (r *Runner) Run(params *Params) ([]Outcome, error) {
	rows, err := manifest.Load(params.ManifestPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(params.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	lock := flock.New(filepath.Join(params.OutDir, lockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring output lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("output directory %s is in use by another run", params.OutDir)
	}
	defer lock.Unlock()

	runID := uuid.NewString()
	runLog := r.log.With().Str("run", runID).Logger()
	log := logging.WithComponent(runLog, "batch")
	log.Info().Str("manifest", params.ManifestPath).Int("samples", len(rows)).Msg("batch started")

	pipe := analysis.NewPipeline(r.cfg, runLog)
	outcomes := make([]Outcome, len(rows))

	workers := params.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(rows) {
		workers = len(rows)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = r.runOne(pipe, log, rows[i], params.OutDir)
			}
		}()
	}
	for i := range rows {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	log.Info().Int("samples", len(rows)).Int("failed", failed).Msg("batch finished")
	return outcomes, nil
}

func (r *Runner) runOne(pipe *analysis.Pipeline, log zerolog.Logger, row manifest.Row, outDir string) Outcome {
	start := time.Now()
	res, err := pipe.Process(&analysis.Params{
		InputPath: row.Path,
		OutDir:    outDir,
		Meta:      row.Meta,
		Options:   row.Options,
	})
	if err != nil {
		log.Error().Err(err).Str("sample", row.Meta.SampleID).Msg("sample failed")
	}
	return Outcome{Row: row, Result: res, Err: err, Elapsed: time.Since(start)}
}

// Summary renders the outcomes as a table for the terminal.
func Summary(outcomes []Outcome) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"sample", "frames", "measured", "events", "time", "status"})
	for _, o := range outcomes {
		status := "ok"
		switch {
		case o.Err != nil:
			status = o.Err.Error()
		case o.Result != nil && len(o.Result.Statuses) > 0:
			status = fmt.Sprintf("ok (%d frames flagged)", len(o.Result.Statuses))
		}
		frames, measured, events := 0, 0, 0
		if o.Result != nil {
			frames = o.Result.Frames
			measured = o.Result.MeasuredFrames
			events = o.Result.Events
		}
		tw.AppendRow(table.Row{
			o.Row.Meta.SampleID, frames, measured, events,
			o.Elapsed.Round(time.Millisecond), status,
		})
	}
	return tw.Render()
}
