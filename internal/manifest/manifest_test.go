package manifest

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestParseManifest(t *testing.T) {
	input := strings.Join([]string{
		"sample_id\tfile_path\tscale\tmeasurements_spacing\toptions",
		"# calibrated recordings",
		"",
		"w1118_fed\tmovies/w1118_fed.tif\t0.642\t12.5\t--make_mask --remove_background --vesicles_removal",
		"w1118_starved\tmovies/w1118_starved.tif\t0.642\t\t--make_mask",
		"prelabeled\tmovies/prelabeled.tif",
	}, "\n")

	rows, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	r := rows[0]
	if r.Line != 4 {
		t.Errorf("expected line 4, got %d", r.Line)
	}
	if r.Meta.SampleID != "w1118_fed" || r.Path != "movies/w1118_fed.tif" {
		t.Errorf("unexpected identity: %q %q", r.Meta.SampleID, r.Path)
	}
	if r.Meta.Scale != 0.642 || r.Meta.Spacing != 12.5 {
		t.Errorf("unexpected calibration: %v %v", r.Meta.Scale, r.Meta.Spacing)
	}
	if !r.Options.MakeMask || !r.Options.RemoveBackground || !r.Options.RemoveVesicles {
		t.Errorf("expected all options set, got %+v", r.Options)
	}

	r = rows[1]
	if r.Meta.Spacing != DefaultSpacing {
		t.Errorf("empty spacing column should default to %v, got %v", DefaultSpacing, r.Meta.Spacing)
	}
	if !r.Options.MakeMask || r.Options.RemoveBackground || r.Options.RemoveVesicles {
		t.Errorf("expected only MakeMask, got %+v", r.Options)
	}

	r = rows[2]
	if r.Meta.Scale != DefaultScale || r.Meta.Spacing != DefaultSpacing {
		t.Errorf("two-column row should use defaults, got %v %v", r.Meta.Scale, r.Meta.Spacing)
	}
	if r.Options.MakeMask || r.Options.RemoveBackground || r.Options.RemoveVesicles {
		t.Errorf("expected zero options, got %+v", r.Options)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"too few columns", "only_id", "line 1"},
		{"too many columns", "s\tp\t1\t1\t--make_mask\textra", "at most 5"},
		{"empty id", " \tmovies/a.tif", "empty sample_id"},
		{"duplicate id", "a\tx.tif\na\ty.tif", "already declared on line 1"},
		{"bad scale", "a\tx.tif\tfast", "scale"},
		{"negative spacing", "a\tx.tif\t1\t-3", "must be positive"},
		{"unknown option", "a\tx.tif\t1\t1\t--frobnicate", "unknown option"},
		{"duplicate option", "a\tx.tif\t1\t1\t--make_mask --make_mask", "duplicate option"},
		{"empty manifest", "# nothing here\n", "no samples"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.input))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %q", tc.want, err)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.tsv"))
	if err == nil {
		t.Fatal("expected error for missing manifest")
	}
}
