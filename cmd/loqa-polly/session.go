package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-polly/internal/config"
	"github.com/loqalabs/loqa-polly/internal/controller"
	"github.com/loqalabs/loqa-polly/internal/runtime"
)

// session is the stack a one-shot or interactive command runs against.
type session struct {
	cfg        config.Config
	logger     *slog.Logger
	telemetry  *runtime.Telemetry
	components *runtime.Components
	closeLog   func()
}

func openSession(ctx context.Context, cfg config.Config, logOut io.Writer, prompter controller.Prompter, notifier controller.Notifier) (*session, error) {
	logger, traceOut, closeLog, err := newLogger(cfg, logOut)
	if err != nil {
		return nil, err
	}
	telemetry, err := runtime.SetupTelemetry(cfg, traceOut, logger)
	if err != nil {
		closeLog()
		return nil, err
	}
	telemetry.ServeMetrics(cfg.Telemetry.PrometheusBind)

	components, err := runtime.Build(ctx, cfg, prompter, notifier, logger)
	if err != nil {
		_ = telemetry.Shutdown(context.Background())
		closeLog()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, telemetry: telemetry, components: components, closeLog: closeLog}, nil
}

func (s *session) Close() {
	s.components.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown error", slog.String("error", err.Error()))
	}
	s.closeLog()
}
