package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"configdeck/api/internal/config"
)

func newRootCmd(fs afero.Fs) *cobra.Command {
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:          "configdeck",
		Short:        "Test configuration editor server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg, fs)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (overrides API_ADDR/PORT)")
	rootCmd.PersistentFlags().StringVar(&cfg.DataFile, "data-file", cfg.DataFile, "document file for the file backend (overrides DATA_FILE)")

	rootCmd.AddCommand(getServeCmd(&cfg, fs), getConvertCmd(fs))
	return rootCmd
}
