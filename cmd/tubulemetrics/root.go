package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tubulemetrics/internal/logging"
	"tubulemetrics/pkg/config"
)

// commandContext carries the persistent flags shared by every subcommand.
type commandContext struct {
	configPath *string
	logLevel   *string
}

// load reads the configuration and builds the root logger. A missing config
// file is not an error; defaults apply.
func (c *commandContext) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(*c.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	level := cfg.Logging.Level
	if *c.logLevel != "" {
		level = *c.logLevel
	}
	return cfg, logging.New(os.Stderr, level), nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var levelFlag string

	ctx := &commandContext{configPath: &configFlag, logLevel: &levelFlag}

	rootCmd := &cobra.Command{
		Use:           "tubulemetrics",
		Short:         "Measure tubule, lumen and cell geometry in microscopy movies",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "Log level override (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newBatchCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
