// Package report writes the analysis artifacts of one sample: tab-delimited
// measurement tables, trend charts, and TIFF overlays for visual inspection.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Params holds the reporting parameters.
type Params struct {
	// OutDir is the directory all artifacts are written into.
	OutDir string

	// Prefix is the sample name prepended to every artifact file.
	Prefix string

	// Unit labels the width and area columns, e.g. "um" or "px".
	Unit string

	// SummaryWindow is the centered running-average window of the smoothed
	// presentation columns.
	SummaryWindow int
}

// Reporter writes the artifacts of one sample.
type Reporter struct {
	params *Params
	log    zerolog.Logger
}

// NewReporter creates a Reporter and makes sure the output directory exists.
func NewReporter(params *Params, log zerolog.Logger) (*Reporter, error) {
	if err := os.MkdirAll(params.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &Reporter{params: params, log: log}, nil
}

// path joins the output directory, prefix and artifact suffix.
func (r *Reporter) path(suffix string) string {
	return filepath.Join(r.params.OutDir, r.params.Prefix+suffix)
}
