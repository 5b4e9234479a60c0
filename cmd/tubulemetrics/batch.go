package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tubulemetrics/internal/batch"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var (
		manifestPath string
		outDir       string
		workers      int
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Analyze every sample in a manifest",
		Long: `Batch reads a tab-delimited manifest (sample_id, file_path, scale,
measurements_spacing, options) and analyzes the listed recordings. Samples
fail independently; the command errors only when no sample succeeds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.load()
			if err != nil {
				return err
			}

			outcomes, err := batch.NewRunner(cfg, log).Run(&batch.Params{
				ManifestPath: manifestPath,
				OutDir:       outDir,
				Workers:      workers,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), batch.Summary(outcomes))

			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
				}
			}
			if failed == len(outcomes) {
				return fmt.Errorf("all %d samples failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Tab-delimited sample sheet")
	cmd.Flags().StringVar(&outDir, "out", ".", "Output directory shared by all samples")
	cmd.Flags().IntVar(&workers, "workers", 1, "Samples analyzed concurrently")
	cmd.MarkFlagRequired("manifest")

	return cmd
}
