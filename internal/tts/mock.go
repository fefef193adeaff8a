package tts

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-polly/internal/credentials"
)

// mockAudio is an MPEG-1 Layer III frame header followed by silence.
var mockAudio = append([]byte{0xFF, 0xFB, 0x90, 0x64}, make([]byte, 413)...)

type mockSynth struct{}

// NewMockSynth returns a Synthesizer that accepts any complete credential
// pair and returns a single silent frame.
func NewMockSynth() Synthesizer {
	return &mockSynth{}
}

func (m *mockSynth) Verify(ctx context.Context, creds credentials.Credentials) error {
	if err := ctx.Err(); err != nil {
		return unexpectedError("verify", err)
	}
	if !creds.Valid() {
		return clientError("verify", errors.New("incomplete credentials"))
	}
	return nil
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request, creds credentials.Credentials) ([]byte, error) {
	if err := m.Verify(ctx, creds); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, clientError("synthesize", err)
	}
	return append([]byte(nil), mockAudio...), nil
}
