// Package playback writes synthesized audio to the artifact file and drives a
// single active playback session over it.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loqalabs/loqa-polly/internal/config"
)

var (
	// ErrUnavailable means audio could not be loaded or no output device
	// could be opened.
	ErrUnavailable = errors.New("playback unavailable")
	// ErrBusy is returned under the reject policy while a session plays.
	ErrBusy = errors.New("playback busy")
)

// Session is one loaded audio file.
type Session interface {
	Start() error
	Pause()
	Resume()
	Stop()
	Done() <-chan struct{}
}

// Output opens sessions on an audio file.
type Output interface {
	Open(path string) (Session, error)
}

const stopGrace = 2 * time.Second

// Engine owns the artifact file and at most one session. op serializes
// Play and Stop, which may wait on a session; mu only guards the fields so
// status reads never block behind them.
type Engine struct {
	cfg     config.PlaybackConfig
	out     Output
	op      sync.Mutex
	mu      sync.Mutex
	current Session
	paused  bool
	logger  *slog.Logger
}

func NewEngine(cfg config.PlaybackConfig, out Output, log *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		out:    out,
		logger: log.With(slog.String("component", "playback")),
	}
}

// Play overwrites the artifact with audio and starts playing it. It returns
// once playback has started.
func (e *Engine) Play(audio []byte) error {
	e.op.Lock()
	defer e.op.Unlock()

	if prev := e.session(); prev != nil && active(prev) {
		if e.cfg.BusyPolicy == "reject" {
			return ErrBusy
		}
		e.logger.Info("interrupting active playback")
		stopAndWait(prev)
	}
	e.set(nil)

	if err := writeArtifact(e.cfg.ArtifactPath, audio); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	session, err := e.out.Open(e.cfg.ArtifactPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := session.Start(); err != nil {
		session.Stop()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	e.set(session)
	e.logger.Info("playback started", slog.String("artifact", e.cfg.ArtifactPath), slog.Int("bytes", len(audio)))
	return nil
}

func (e *Engine) session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Engine) set(s Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = s
	e.paused = false
}

func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.paused || !active(e.current) {
		return
	}
	e.current.Pause()
	e.paused = true
}

func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || !e.paused {
		return
	}
	e.current.Resume()
	e.paused = false
}

func (e *Engine) Stop() {
	e.op.Lock()
	defer e.op.Unlock()
	current := e.session()
	if current == nil {
		return
	}
	e.set(nil)
	stopAndWait(current)
}

// Detach forgets the active session without stopping it, so an external
// player keeps running after the engine is closed.
func (e *Engine) Detach() {
	e.op.Lock()
	defer e.op.Unlock()
	e.set(nil)
}

// Paused reports whether the active session is paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil && e.paused && active(e.current)
}

// Playing reports whether a session is loaded and not finished.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil && active(e.current)
}

// Wait blocks until the active session finishes or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	current := e.session()
	if current == nil {
		return nil
	}
	select {
	case <-current.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any active session.
func (e *Engine) Close() {
	e.Stop()
}

func active(s Session) bool {
	select {
	case <-s.Done():
		return false
	default:
		return true
	}
}

func stopAndWait(s Session) {
	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(stopGrace):
	}
}

func writeArtifact(path string, audio []byte) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
	}
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return fmt.Errorf("write audio artifact: %w", err)
	}
	return nil
}
