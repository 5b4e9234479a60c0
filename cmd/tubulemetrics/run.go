package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tubulemetrics/internal/batch"
	"tubulemetrics/internal/manifest"
	"tubulemetrics/pkg/analysis"
	"tubulemetrics/pkg/movie"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		sampleName       string
		moviePath        string
		makeMask         bool
		removeBackground bool
		vesiclesRemoval  bool
		scale            float64
		spacing          float64
		outDir           string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Analyze a single recording",
		Long: `Run analyzes one multi-page TIFF recording and writes measurement
tables, charts and overlay movies prefixed with the sample name. Without
--make-mask the movie is expected to already contain region labels.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.load()
			if err != nil {
				return err
			}

			start := time.Now()
			res, err := analysis.NewPipeline(cfg, log).Process(&analysis.Params{
				InputPath: moviePath,
				OutDir:    outDir,
				Meta: movie.Meta{
					SampleID: sampleName,
					Scale:    scale,
					Spacing:  spacing,
				},
				Options: movie.Options{
					MakeMask:         makeMask,
					RemoveBackground: removeBackground,
					RemoveVesicles:   vesiclesRemoval,
				},
			})

			outcome := batch.Outcome{
				Row:     manifest.Row{Path: moviePath, Meta: movie.Meta{SampleID: sampleName}},
				Result:  res,
				Err:     err,
				Elapsed: time.Since(start),
			}
			fmt.Fprintln(cmd.OutOrStdout(), batch.Summary([]batch.Outcome{outcome}))
			return err
		},
	}

	cmd.Flags().StringVar(&sampleName, "sample-name", "", "Sample identifier used as artifact prefix")
	cmd.Flags().StringVar(&moviePath, "movie", "", "Input multi-page TIFF recording")
	cmd.Flags().BoolVar(&makeMask, "make-mask", false, "Segment the movie instead of reading region labels")
	cmd.Flags().BoolVar(&removeBackground, "remove-background", false, "Deblur the movie before thresholding")
	cmd.Flags().BoolVar(&vesiclesRemoval, "vesicles-removal", false, "Remove vesicles from the lumen mask")
	cmd.Flags().Float64Var(&scale, "scale", manifest.DefaultScale, "Physical size of one pixel edge")
	cmd.Flags().Float64Var(&spacing, "measurements-spacing", manifest.DefaultSpacing, "Distance between measurement positions along the tubule")
	cmd.Flags().StringVar(&outDir, "out", ".", "Output directory")
	cmd.MarkFlagRequired("sample-name")
	cmd.MarkFlagRequired("movie")

	return cmd
}
