package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-polly/internal/config"
	"github.com/loqalabs/loqa-polly/internal/controller"
	"github.com/loqalabs/loqa-polly/internal/credentials"
	"github.com/loqalabs/loqa-polly/internal/eventstore"
	"github.com/loqalabs/loqa-polly/internal/playback"
	"github.com/loqalabs/loqa-polly/internal/playback/speaker"
	"github.com/loqalabs/loqa-polly/internal/tts"
)

// Components is the synthesis stack shared by every command.
type Components struct {
	Controller *controller.Controller
	Engine     *playback.Engine
	Store      *eventstore.Store
	logger     *slog.Logger
}

// Build assembles synthesizer, playback, history and controller from cfg and
// adopts the stored credentials when the file holds a complete pair.
func Build(ctx context.Context, cfg config.Config, prompter controller.Prompter, notifier controller.Notifier, logger *slog.Logger) (*Components, error) {
	synth, err := newSynthesizer(cfg, logger)
	if err != nil {
		return nil, err
	}
	out, err := newOutput(cfg.Playback, logger)
	if err != nil {
		return nil, err
	}
	engine := playback.NewEngine(cfg.Playback, out, logger)

	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	ctrl, err := controller.New(controller.Options{
		Synth:           synth,
		Player:          engine,
		Prompter:        prompter,
		Notifier:        notifier,
		Recorder:        store,
		CredentialsPath: cfg.Credentials.Path,
		PersistOnUpdate: cfg.Credentials.PersistOnUpdate,
		Logger:          logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	creds, ok, err := credentials.Load(cfg.Credentials.Path)
	switch {
	case err != nil:
		logger.Warn("credentials file unreadable", slog.String("path", cfg.Credentials.Path), slog.String("error", err.Error()))
	case ok:
		ctrl.Adopt(creds)
		logger.Info("credentials loaded", slog.String("path", cfg.Credentials.Path), slog.String("key", creds.Redacted()))
	default:
		logger.Info("no stored credentials", slog.String("path", cfg.Credentials.Path))
	}

	return &Components{Controller: ctrl, Engine: engine, Store: store, logger: logger}, nil
}

// Close stops playback and closes the history store.
func (c *Components) Close() {
	if c == nil {
		return
	}
	c.Engine.Close()
	if err := c.Store.Close(); err != nil {
		c.logger.Warn("close event store", slog.String("error", err.Error()))
	}
}

func newSynthesizer(cfg config.Config, logger *slog.Logger) (tts.Synthesizer, error) {
	switch cfg.Polly.Mode {
	case "mock":
		logger.Info("using mock synthesizer")
		return tts.NewMockSynth(), nil
	case "aws", "":
		return tts.NewPollyClient(cfg.Polly, nil, logger), nil
	default:
		return nil, fmt.Errorf("unknown polly mode %q", cfg.Polly.Mode)
	}
}

func newOutput(cfg config.PlaybackConfig, logger *slog.Logger) (playback.Output, error) {
	switch cfg.Mode {
	case "portaudio", "":
		return speaker.New(cfg.FramesPerBuffer, logger), nil
	case "exec":
		return playback.NewExecOutput(cfg.Command, logger)
	case "none":
		return playback.NopOutput{}, nil
	default:
		return nil, fmt.Errorf("unknown playback mode %q", cfg.Mode)
	}
}
