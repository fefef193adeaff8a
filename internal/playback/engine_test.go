package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-polly/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSession struct {
	mu        sync.Mutex
	stopDelay time.Duration
	started   bool
	paused    int
	resumed   int
	stopped   int
	done      chan struct{}
	once      sync.Once
}

func (s *fakeSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}
func (s *fakeSession) Pause()  { s.mu.Lock(); s.paused++; s.mu.Unlock() }
func (s *fakeSession) Resume() { s.mu.Lock(); s.resumed++; s.mu.Unlock() }
func (s *fakeSession) Stop() {
	s.mu.Lock()
	s.stopped++
	delay := s.stopDelay
	s.mu.Unlock()
	if delay > 0 {
		time.AfterFunc(delay, s.finish)
		return
	}
	s.finish()
}
func (s *fakeSession) finish()               { s.once.Do(func() { close(s.done) }) }
func (s *fakeSession) Done() <-chan struct{} { return s.done }

type fakeOutput struct {
	sessions []*fakeSession
	paths    []string
	contents []string
	err      error
}

func (o *fakeOutput) Open(path string) (Session, error) {
	if o.err != nil {
		return nil, o.err
	}
	data, _ := os.ReadFile(path)
	o.paths = append(o.paths, path)
	o.contents = append(o.contents, string(data))
	s := &fakeSession{done: make(chan struct{})}
	o.sessions = append(o.sessions, s)
	return s, nil
}

func testConfig(t *testing.T, policy string) config.PlaybackConfig {
	cfg := config.Default().Playback
	cfg.ArtifactPath = filepath.Join(t.TempDir(), "speech.mp3")
	cfg.BusyPolicy = policy
	return cfg
}

func TestPlayWritesArtifactAndStarts(t *testing.T) {
	out := &fakeOutput{}
	cfg := testConfig(t, "interrupt")
	e := NewEngine(cfg, out, newLogger())

	if err := e.Play([]byte("audio-1")); err != nil {
		t.Fatalf("play: %v", err)
	}
	if len(out.sessions) != 1 || !out.sessions[0].started {
		t.Fatalf("expected one started session")
	}
	if out.paths[0] != cfg.ArtifactPath || out.contents[0] != "audio-1" {
		t.Fatalf("unexpected artifact %q = %q", out.paths[0], out.contents[0])
	}
	if !e.Playing() {
		t.Fatal("expected engine playing")
	}
}

func TestPlayInterruptsActiveSession(t *testing.T) {
	out := &fakeOutput{}
	cfg := testConfig(t, "interrupt")
	e := NewEngine(cfg, out, newLogger())

	_ = e.Play([]byte("first"))
	if err := e.Play([]byte("second")); err != nil {
		t.Fatalf("second play: %v", err)
	}
	if out.sessions[0].stopped != 1 {
		t.Fatalf("expected first session stopped")
	}
	data, _ := os.ReadFile(cfg.ArtifactPath)
	if string(data) != "second" {
		t.Fatalf("expected artifact overwritten, got %q", data)
	}
}

func TestPlayRejectPolicy(t *testing.T) {
	out := &fakeOutput{}
	e := NewEngine(testConfig(t, "reject"), out, newLogger())

	_ = e.Play([]byte("first"))
	if err := e.Play([]byte("second")); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	out.sessions[0].finish()
	if err := e.Play([]byte("third")); err != nil {
		t.Fatalf("expected play after finish, got %v", err)
	}
}

func TestPlayOpenFailureIsUnavailable(t *testing.T) {
	out := &fakeOutput{err: errors.New("no default output device")}
	e := NewEngine(testConfig(t, "interrupt"), out, newLogger())
	if err := e.Play([]byte("x")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestControlsWithoutSessionAreNoops(t *testing.T) {
	e := NewEngine(testConfig(t, "interrupt"), &fakeOutput{}, newLogger())
	e.Pause()
	e.Resume()
	e.Stop()
	if e.Playing() || e.Paused() {
		t.Fatal("expected idle engine")
	}
	if err := e.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestPauseResumeStop(t *testing.T) {
	out := &fakeOutput{}
	e := NewEngine(testConfig(t, "interrupt"), out, newLogger())
	_ = e.Play([]byte("x"))

	e.Pause()
	e.Pause()
	if !e.Paused() {
		t.Fatal("expected paused")
	}
	e.Resume()
	e.Stop()

	s := out.sessions[0]
	if s.paused != 1 || s.resumed != 1 || s.stopped != 1 {
		t.Fatalf("unexpected control counts: %+v", s)
	}
	if e.Playing() {
		t.Fatal("expected stopped")
	}
}

func TestWaitReturnsWhenSessionEnds(t *testing.T) {
	out := &fakeOutput{}
	e := NewEngine(testConfig(t, "interrupt"), out, newLogger())
	_ = e.Play([]byte("x"))

	go func() {
		time.Sleep(10 * time.Millisecond)
		out.sessions[0].finish()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestExpandArgs(t *testing.T) {
	got := expandArgs([]string{"mpg123", "-q", "{file}"}, "/tmp/speech.mp3")
	if !reflect.DeepEqual(got, []string{"mpg123", "-q", "/tmp/speech.mp3"}) {
		t.Fatalf("unexpected args %v", got)
	}
	got = expandArgs([]string{"afplay"}, "speech.mp3")
	if !reflect.DeepEqual(got, []string{"afplay", "speech.mp3"}) {
		t.Fatalf("unexpected args %v", got)
	}
}

func TestNewExecOutputRejectsEmpty(t *testing.T) {
	if _, err := NewExecOutput("   ", newLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecOutputRunsPlayer(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out, err := NewExecOutput(`sh -c "exit 0" {file}`, newLogger())
	if err != nil {
		t.Fatalf("new exec output: %v", err)
	}
	e := NewEngine(testConfig(t, "interrupt"), out, newLogger())
	if err := e.Play([]byte("x")); err != nil {
		t.Fatalf("play: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestExecOutputMissingPlayer(t *testing.T) {
	out, err := NewExecOutput("definitely-not-a-player-binary {file}", newLogger())
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(testConfig(t, "interrupt"), out, newLogger())
	if err := e.Play([]byte("x")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNopOutput(t *testing.T) {
	e := NewEngine(testConfig(t, "reject"), NopOutput{}, newLogger())
	if err := e.Play([]byte("x")); err != nil {
		t.Fatalf("play: %v", err)
	}
	if e.Playing() {
		t.Fatal("nop session should finish immediately")
	}
	if err := e.Play([]byte("y")); err != nil {
		t.Fatalf("second play under reject policy: %v", err)
	}
}

func TestStatusReadsDoNotBlockDuringInterrupt(t *testing.T) {
	out := &fakeOutput{}
	e := NewEngine(testConfig(t, "interrupt"), out, newLogger())
	_ = e.Play([]byte("first"))
	first := out.sessions[0]
	first.mu.Lock()
	first.stopDelay = 500 * time.Millisecond
	first.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- e.Play([]byte("second")) }()

	// Wait until the interrupt is underway.
	deadline := time.Now().Add(2 * time.Second)
	for {
		first.mu.Lock()
		stopped := first.stopped
		first.mu.Unlock()
		if stopped > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("interrupt never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	start := time.Now()
	_ = e.Playing()
	_ = e.Paused()
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("status reads blocked for %s while a session was being interrupted", elapsed)
	}
	if err := <-done; err != nil {
		t.Fatalf("second play: %v", err)
	}
	if !e.Playing() {
		t.Fatal("expected second session playing")
	}
}

func TestPausedClearsWhenSessionFinishes(t *testing.T) {
	out := &fakeOutput{}
	e := NewEngine(testConfig(t, "interrupt"), out, newLogger())
	_ = e.Play([]byte("x"))
	e.Pause()
	out.sessions[0].finish()
	if e.Paused() {
		t.Fatal("a finished session must not read as paused")
	}
}

func TestDetachKeepsExternalPlayerRunning(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	marker := filepath.Join(t.TempDir(), "played")
	out, err := NewExecOutput(`sh -c "sleep 0.3; touch `+marker+`"`, newLogger())
	if err != nil {
		t.Fatalf("new exec output: %v", err)
	}
	e := NewEngine(testConfig(t, "interrupt"), out, newLogger())
	if err := e.Play([]byte("x")); err != nil {
		t.Fatalf("play: %v", err)
	}
	e.Detach()
	e.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("player was killed by Close after Detach")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
