package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tubulemetrics/pkg/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigInitCommand())
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !overwrite {
				if _, err := os.Stat(targetPath); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", targetPath)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("checking config path: %w", err)
				}
			}
			if err := config.CreateDefaultConfigFile(targetPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", targetPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "tubulemetrics.yaml", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}
