package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loqalabs/loqa-polly/internal/controller"
	"github.com/loqalabs/loqa-polly/internal/tts"
)

type fakeActions struct {
	mu       sync.Mutex
	requests []tts.Request
	updates  int
	paused   int
	resumed  int
	stopped  int
	// pausedNow is what the player reports; playback ending clears it.
	pausedNow bool
}

func (f *fakeActions) Play(_ context.Context, req tts.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}
func (f *fakeActions) UpdateCredentials(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return controller.ErrCancelled
}
func (f *fakeActions) Pause()                  { f.paused++; f.pausedNow = true }
func (f *fakeActions) Resume()                 { f.resumed++; f.pausedNow = false }
func (f *fakeActions) Stop()                   { f.stopped++; f.pausedNow = false }
func (f *fakeActions) Paused() bool            { return f.pausedNow }
func (f *fakeActions) State() controller.State { return controller.StateReady }

func newTestApp(clip string, clipErr error) (App, *fakeActions) {
	actions := &fakeActions{}
	app := NewApp(context.Background(), actions, AppOptions{
		Voice:     tts.VoiceDaniel,
		Speed:     100,
		Clipboard: func() (string, error) { return clip, clipErr },
	})
	return app, actions
}

func update(t *testing.T, a App, msg tea.Msg) (App, tea.Cmd) {
	t.Helper()
	m, cmd := a.Update(msg)
	next, ok := m.(App)
	if !ok {
		t.Fatal("Update did not return an App")
	}
	return next, cmd
}

func ctrl(k tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: k} }

func TestPasteEmptyClipboardLeavesTextAndWarns(t *testing.T) {
	for name, tc := range map[string]struct {
		clip string
		err  error
	}{
		"empty":      {clip: ""},
		"unreadable": {err: errors.New("no clipboard")},
	} {
		t.Run(name, func(t *testing.T) {
			a, _ := newTestApp(tc.clip, tc.err)
			a.text.SetValue("original text")

			a, _ = update(t, a, ctrl(tea.KeyCtrlV))
			if a.text.Value() != "original text" {
				t.Fatalf("text changed to %q", a.text.Value())
			}
			if a.notice == nil || a.notice.Level != controller.LevelWarning {
				t.Fatalf("expected warning notice, got %+v", a.notice)
			}
			if a.notice.Title != "Empty Clipboard" || a.notice.Message != "There is no text to paste from the clipboard." {
				t.Fatalf("unexpected notice %+v", a.notice)
			}
		})
	}
}

func TestPasteWhitespaceClipboardReplacesText(t *testing.T) {
	a, _ := newTestApp("   ", nil)
	a.text.SetValue("original text")

	a, _ = update(t, a, ctrl(tea.KeyCtrlV))
	if a.text.Value() != "   " {
		t.Fatalf("expected whitespace pasted, got %q", a.text.Value())
	}
	if a.notice != nil {
		t.Fatalf("unexpected notice %+v", a.notice)
	}
}

func TestClearPastePlayWithEmptyClipboardDoesNothing(t *testing.T) {
	a, actions := newTestApp("", nil)
	a.text.SetValue("keep me")

	a, cmd := update(t, a, ctrl(tea.KeyCtrlG))
	if cmd != nil || a.busy {
		t.Fatal("expected no play on empty clipboard")
	}
	if a.text.Value() != "keep me" || len(actions.requests) != 0 {
		t.Fatalf("unexpected state text=%q requests=%d", a.text.Value(), len(actions.requests))
	}
}

func TestClearPastePlay(t *testing.T) {
	a, actions := newTestApp("Hello from clipboard", nil)
	a.text.SetValue("old")

	a, cmd := update(t, a, ctrl(tea.KeyCtrlG))
	if a.text.Value() != "Hello from clipboard" {
		t.Fatalf("unexpected text %q", a.text.Value())
	}
	if cmd == nil || !a.busy {
		t.Fatal("expected play command")
	}
	done := cmd()
	if len(actions.requests) != 1 || actions.requests[0].Text != "Hello from clipboard" {
		t.Fatalf("unexpected requests %+v", actions.requests)
	}
	a, _ = update(t, a, done)
	if a.busy {
		t.Fatal("expected busy cleared after completion")
	}
}

func TestPlayIgnoredWhileBusy(t *testing.T) {
	a, _ := newTestApp("", nil)
	a.text.SetValue("Hello")
	a, first := update(t, a, ctrl(tea.KeyCtrlR))
	if first == nil {
		t.Fatal("expected play command")
	}
	_, second := update(t, a, ctrl(tea.KeyCtrlR))
	if second != nil {
		t.Fatal("expected second play ignored while busy")
	}
}

func TestRequestReflectsControls(t *testing.T) {
	a, _ := newTestApp("", nil)
	a.text.SetValue("Hi")

	a, _ = update(t, a, ctrl(tea.KeyTab))
	a, _ = update(t, a, ctrl(tea.KeyRight))
	a, _ = update(t, a, ctrl(tea.KeyTab))
	for i := 0; i < 30; i++ {
		a, _ = update(t, a, ctrl(tea.KeyRight))
	}
	a, _ = update(t, a, ctrl(tea.KeyCtrlT))

	req := a.Request()
	if req.Voice != tts.VoiceVicki || req.Speed != tts.MaxSpeed || req.Mode != tts.ModeSSML || req.Text != "Hi" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestPauseToggleAndStop(t *testing.T) {
	a, actions := newTestApp("", nil)
	a, _ = update(t, a, ctrl(tea.KeyCtrlP))
	a, _ = update(t, a, ctrl(tea.KeyCtrlP))
	a, _ = update(t, a, ctrl(tea.KeyCtrlX))
	if actions.paused != 1 || actions.resumed != 1 || actions.stopped != 1 {
		t.Fatalf("unexpected control counts %+v", actions)
	}
}

func TestPauseAfterPlaybackEndedPausesAgain(t *testing.T) {
	a, actions := newTestApp("", nil)
	a, _ = update(t, a, ctrl(tea.KeyCtrlP))
	// The paused session finishes or is replaced; the player no longer
	// reports paused.
	actions.pausedNow = false
	a, _ = update(t, a, ctrl(tea.KeyCtrlP))
	if actions.paused != 2 || actions.resumed != 0 {
		t.Fatalf("expected two pauses and no resume, got %+v", actions)
	}
	if a.status != "Paused." {
		t.Fatalf("unexpected status %q", a.status)
	}
}

func TestPromptRequestOpensModalAndReplies(t *testing.T) {
	a, _ := newTestApp("", nil)
	reply := make(chan controller.PromptResult, 1)

	a, _ = update(t, a, promptRequestMsg{reply: reply})
	if !a.formOpen {
		t.Fatal("expected form open")
	}
	if !strings.Contains(a.View(), "Update AWS Credentials") {
		t.Fatal("expected form in view")
	}
	a, _ = update(t, a, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("AKIA")})
	a, _ = update(t, a, ctrl(tea.KeyTab))
	a, _ = update(t, a, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("secret")})
	a, _ = update(t, a, ctrl(tea.KeyEnter))

	select {
	case r := <-reply:
		if !r.Confirmed || r.Key != "AKIA" || r.Secret != "secret" {
			t.Fatalf("unexpected result %+v", r)
		}
	default:
		t.Fatal("expected prompt reply")
	}
	if a.formOpen {
		t.Fatal("expected form closed")
	}
}

func TestNoticeRequestBlocksUntilDismissed(t *testing.T) {
	a, _ := newTestApp("", nil)
	reply := make(chan struct{})

	a, _ = update(t, a, noticeRequestMsg{notice: controller.Notice{Level: controller.LevelInfo, Title: "Playing", Message: "Playing the synthesized speech."}, reply: reply})
	if !strings.Contains(a.View(), "Playing the synthesized speech.") {
		t.Fatal("expected notice in view")
	}
	a, _ = update(t, a, ctrl(tea.KeyCtrlR))
	if a.busy {
		t.Fatal("keys must not reach the window while a notice is shown")
	}
	a, _ = update(t, a, ctrl(tea.KeyEnter))
	select {
	case <-reply:
	default:
		t.Fatal("expected notice dismissed")
	}
	if a.notice != nil {
		t.Fatal("expected notice cleared")
	}
}

func TestQuitCancelsContext(t *testing.T) {
	a, _ := newTestApp("", nil)
	a, cmd := update(t, a, ctrl(tea.KeyCtrlC))
	if cmd == nil || !a.quitting {
		t.Fatal("expected quit")
	}
	if a.ctx.Err() == nil {
		t.Fatal("expected context cancelled")
	}
}
