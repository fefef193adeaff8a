// Package runtime wires configuration into running components: telemetry,
// the synthesis stack, and the bus daemon with its health endpoints.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-polly/internal/bus"
	"github.com/loqalabs/loqa-polly/internal/config"
	"github.com/loqalabs/loqa-polly/internal/controller"
	"github.com/loqalabs/loqa-polly/internal/natsserver"
	"github.com/loqalabs/loqa-polly/internal/presence"
	"github.com/loqalabs/loqa-polly/internal/protocol"
	"github.com/loqalabs/loqa-polly/internal/tts"
	"github.com/loqalabs/loqa-polly/internal/ui"
)

const shutdownTimeout = 10 * time.Second

// Runtime is the headless daemon: speak requests arrive over NATS and are
// played locally.
type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	listener   net.Listener
	telemetry  *Telemetry
	embedded   *natsserver.EmbeddedServer
	bus        *bus.Client
	components *Components
	service    *tts.Service
	presence   *presence.Registry
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the daemon up and blocks until ctx is done, then shuts
// everything down.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.open(ctx); err != nil {
		r.close()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if h := r.telemetry.MetricsHandler(); h != nil {
		mux.Handle("/metrics", h)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		r.close()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.listener = ln
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", ln.Addr().String()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.close()
	return nil
}

// Addr is the health listener address once Start is serving.
func (r *Runtime) Addr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Ready reports whether the daemon is serving requests.
func (r *Runtime) Ready() bool {
	if !r.ready.Load() || !r.bus.Healthy() || r.service == nil || !r.service.Healthy() {
		return false
	}
	return r.presence == nil || r.presence.Healthy()
}

// Speakers lists the daemons seen on the bus, this one included. It is
// empty when presence is disabled.
func (r *Runtime) Speakers() []protocol.Speaker {
	if r.presence == nil {
		return nil
	}
	return r.presence.Speakers()
}

func (r *Runtime) open(ctx context.Context) error {
	telemetry, err := SetupTelemetry(r.cfg, os.Stderr, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = telemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger.With(slog.String("component", "nats")))
	if err != nil {
		return err
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	r.bus = client

	components, err := Build(ctx, r.cfg, ui.HeadlessPrompter{}, ui.LogNotifier{Logger: r.logger.With(slog.String("component", "notices"))}, r.logger)
	if err != nil {
		return err
	}
	r.components = components

	r.service = tts.NewService(ctx, r.cfg, client, components.Controller, controller.ErrorKind, r.logger)
	if err := r.service.Start(); err != nil {
		return fmt.Errorf("start speak service: %w", err)
	}

	if r.cfg.Presence.Enabled {
		voices := make([]string, 0, len(tts.Voices()))
		for _, v := range tts.Voices() {
			voices = append(voices, string(v))
		}
		local := presence.Local{Version: Version, Voices: voices, Playback: r.cfg.Playback.Mode}
		reg, err := presence.NewRegistry(ctx, r.cfg.Presence, r.cfg.Bus.SubjectPrefix, local, client, r.logger)
		if err != nil {
			return fmt.Errorf("start presence: %w", err)
		}
		r.presence = reg
	}
	return nil
}

func (r *Runtime) close() {
	if r.presence != nil {
		r.presence.Close()
	}
	if r.service != nil {
		r.service.Close()
	}
	r.components.Close()
	r.bus.Close()
	r.embedded.Shutdown()
	if r.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.telemetry.Shutdown(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
