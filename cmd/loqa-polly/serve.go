package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-polly/internal/runtime"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the speech daemon on NATS",
		Long: `Run headless. Speak requests arrive on <prefix>.speak.request and are
played on this machine; health is served on http.bind:http.port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger, _, closeLog, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer closeLog()
			logger.Info("starting loqa-polly daemon",
				slog.String("version", runtime.Version),
				slog.Bool("embedded_bus", cfg.Bus.Embedded),
				slog.Int("http_port", cfg.HTTP.Port))
			return runtime.New(cfg, logger).Start(cmd.Context())
		},
	}
}
