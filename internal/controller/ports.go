package controller

import (
	"context"

	"github.com/loqalabs/loqa-polly/internal/eventstore"
)

// PromptResult is what the credential form returned.
type PromptResult struct {
	Confirmed bool
	Key       string
	Secret    string
}

// Prompter collects a credential pair from the user. It blocks until the
// form is dismissed.
type Prompter interface {
	Prompt(ctx context.Context, initialKey, initialSecret string) (PromptResult, error)
}

// Level is the severity of a Notice.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notice is a modal message for the user.
type Notice struct {
	Level   Level
	Title   string
	Message string
}

// Notifier shows a notice. Interactive implementations block until the
// notice is dismissed.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Player plays synthesized audio; *playback.Engine satisfies it.
type Player interface {
	Play(audio []byte) error
	Pause()
	Resume()
	Stop()
	Playing() bool
	Paused() bool
}

// Recorder stores request history; *eventstore.Store satisfies it.
type Recorder interface {
	AppendRequest(ctx context.Context, req eventstore.Request) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
	FinishRequest(ctx context.Context, requestID, outcome string) error
}
