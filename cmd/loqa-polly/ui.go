package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-polly/internal/tts"
	"github.com/loqalabs/loqa-polly/internal/ui"
)

func newUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Open the terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUI(cmd, opts)
		},
	}
}

func runUI(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	bridge := &ui.ProgramBridge{}
	// The window owns the terminal, so logs only go to log_file.
	s, err := openSession(ctx, cfg, nil, bridge, bridge)
	if err != nil {
		return err
	}
	defer s.Close()

	voice, err := tts.ParseVoice(cfg.Polly.DefaultVoice)
	if err != nil {
		s.logger.Warn("default voice ignored", slog.String("error", err.Error()))
		voice = tts.VoiceDaniel
	}
	app := ui.NewApp(ctx, s.components.Controller, ui.AppOptions{
		Voice: voice,
		Speed: cfg.Polly.DefaultSpeed,
		SSML:  cfg.Polly.SSML,
	})
	s.logger.Info("ui started")
	return ui.Run(ctx, app, bridge)
}
