package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-polly/internal/config"
)

const (
	configEnv         = "LOQA_POLLY_CONFIG"
	defaultConfigFile = "loqa-polly.yaml"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "loqa-polly",
		Short: "Speak text through Amazon Polly",
		Long: `loqa-polly turns text into speech with Amazon Polly and plays it on
the local audio device.

Without a subcommand it opens the terminal UI. Credentials are read from a
two-line file (access key, secret) and asked for when missing or rejected.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUI(cmd, opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (env "+configEnv+", default ./"+defaultConfigFile+" when present)")

	root.AddCommand(
		newUICmd(opts),
		newSayCmd(opts),
		newPasteCmd(opts),
		newCredentialsCmd(opts),
		newVoicesCmd(opts),
		newHistoryCmd(opts),
		newServeCmd(opts),
		newSpeakersCmd(opts),
		newVersionCmd(),
	)
	return root
}

// resolveConfigPath picks the flag, then the env var, then ./loqa-polly.yaml
// if it exists. An empty result means defaults only.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(o.configPath))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the JSON logger. Output goes to telemetry.log_file when
// set, else to fallback; a nil fallback discards.
func newLogger(cfg config.Config, fallback io.Writer) (*slog.Logger, io.Writer, func(), error) {
	out, closeFn := fallback, func() {}
	if path := cfg.Telemetry.LogFile; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closeFn = f, func() { _ = f.Close() }
	}
	if out == nil {
		out = io.Discard
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)})
	logger := slog.New(handler).With(slog.String("service", cfg.RuntimeName))
	return logger, out, closeFn, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
