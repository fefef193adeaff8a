package tts

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-polly/internal/credentials"
)

// Voice is one of the Polly voices offered by the app.
type Voice string

const (
	VoiceDaniel  Voice = "Daniel"
	VoiceVicki   Voice = "Vicki"
	VoiceRuth    Voice = "Ruth"
	VoiceStephen Voice = "Stephen"
)

// Voices returns the selectable voices in display order.
func Voices() []Voice {
	return []Voice{VoiceDaniel, VoiceVicki, VoiceRuth, VoiceStephen}
}

// ParseVoice resolves a voice name case-insensitively.
func ParseVoice(name string) (Voice, error) {
	for _, v := range Voices() {
		if strings.EqualFold(string(v), strings.TrimSpace(name)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown voice %q", name)
}

// Mode selects how the request text is sent to the service.
type Mode int

const (
	ModeText Mode = iota
	ModeSSML
)

func (m Mode) String() string {
	if m == ModeSSML {
		return "ssml"
	}
	return "text"
}

const (
	MinSpeed     = 50
	MaxSpeed     = 250
	DefaultSpeed = 100
)

// ClampSpeed limits speed to [MinSpeed, MaxSpeed].
func ClampSpeed(speed int) int {
	return max(MinSpeed, min(MaxSpeed, speed))
}

// Request contains parameters to synthesize speech.
type Request struct {
	Text  string
	Voice Voice
	Speed int
	Mode  Mode
}

// Validate checks the request can be sent.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("text must not be empty")
	}
	if _, err := ParseVoice(string(r.Voice)); err != nil {
		return err
	}
	if r.Speed < MinSpeed || r.Speed > MaxSpeed {
		return fmt.Errorf("speed %d out of range [%d,%d]", r.Speed, MinSpeed, MaxSpeed)
	}
	return nil
}

// Payload returns the text sent to the service for the request mode.
func (r Request) Payload() string {
	if r.Mode == ModeSSML {
		return SSML(r.Text, r.Speed)
	}
	return r.Text
}

// Synthesizer is the contract for verifying credentials and producing audio.
// Implementations build a fresh session from creds on every call.
type Synthesizer interface {
	Verify(ctx context.Context, creds credentials.Credentials) error
	Synthesize(ctx context.Context, req Request, creds credentials.Credentials) ([]byte, error)
}
