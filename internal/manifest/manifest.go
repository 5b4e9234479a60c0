// Package manifest reads the tab-delimited sample sheet that drives batch
// runs.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"tubulemetrics/pkg/movie"
)

// Defaults applied when a manifest omits the calibration columns.
const (
	DefaultScale   = 1.0
	DefaultSpacing = 10.0
)

// Option tokens accepted in the options column, mirroring the run flags.
const (
	optMakeMask         = "--make_mask"
	optRemoveBackground = "--remove_background"
	optVesiclesRemoval  = "--vesicles_removal"
)

// Row is one sample of a manifest.
type Row struct {
	// Line is the 1-based manifest line the row came from.
	Line int

	// Path is the recording to analyze.
	Path string

	Meta    movie.Meta
	Options movie.Options
}

// Load reads the manifest file at path.
func Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads manifest rows. Lines are tab-delimited:
//
//	sample_id  file_path  [scale]  [measurements_spacing]  [options]
//
// Blank lines, #-comments and a header line starting with "sample_id" are
// skipped. The options column is a space-separated subset of --make_mask,
// --remove_background and --vesicles_removal; an empty column means the
// movie already contains region labels and is only measured.
func Parse(r io.Reader) ([]Row, error) {
	var rows []Row
	seen := make(map[string]int)

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSuffix(sc.Text(), "\r")
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		fields := strings.Split(text, "\t")
		if strings.TrimSpace(fields[0]) == "sample_id" {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("manifest line %d: need at least sample_id and file_path", line)
		}
		if len(fields) > 5 {
			return nil, fmt.Errorf("manifest line %d: %d columns, expected at most 5", line, len(fields))
		}

		id := strings.TrimSpace(fields[0])
		path := strings.TrimSpace(fields[1])
		if id == "" || path == "" {
			return nil, fmt.Errorf("manifest line %d: empty sample_id or file_path", line)
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("manifest line %d: sample %q already declared on line %d", line, id, prev)
		}
		seen[id] = line

		row := Row{
			Line: line,
			Path: path,
			Meta: movie.Meta{SampleID: id, Scale: DefaultScale, Spacing: DefaultSpacing},
		}
		if v, ok, err := floatColumn(fields, 2); err != nil {
			return nil, fmt.Errorf("manifest line %d: scale: %w", line, err)
		} else if ok {
			row.Meta.Scale = v
		}
		if v, ok, err := floatColumn(fields, 3); err != nil {
			return nil, fmt.Errorf("manifest line %d: measurements_spacing: %w", line, err)
		} else if ok {
			row.Meta.Spacing = v
		}
		if len(fields) > 4 {
			opts, err := parseOptions(fields[4])
			if err != nil {
				return nil, fmt.Errorf("manifest line %d: %w", line, err)
			}
			row.Options = opts
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("manifest has no samples")
	}
	return rows, nil
}

// floatColumn parses an optional positive float column. An absent or empty
// column reports ok false.
func floatColumn(fields []string, idx int) (float64, bool, error) {
	if idx >= len(fields) {
		return 0, false, nil
	}
	s := strings.TrimSpace(fields[idx])
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("bad value %q", s)
	}
	if v <= 0 {
		return 0, false, fmt.Errorf("must be positive, got %v", v)
	}
	return v, true, nil
}

func parseOptions(column string) (movie.Options, error) {
	var opts movie.Options
	used := make(map[string]bool)
	for _, tok := range strings.Fields(column) {
		if used[tok] {
			return movie.Options{}, fmt.Errorf("duplicate option %q", tok)
		}
		used[tok] = true
		switch tok {
		case optMakeMask:
			opts.MakeMask = true
		case optRemoveBackground:
			opts.RemoveBackground = true
		case optVesiclesRemoval:
			opts.RemoveVesicles = true
		default:
			return movie.Options{}, fmt.Errorf("unknown option %q", tok)
		}
	}
	return opts, nil
}
