package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/loqalabs/loqa-polly/internal/config"
	"github.com/loqalabs/loqa-polly/internal/credentials"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeAPI struct {
	describeErr   error
	synthErr      error
	audio         string
	describeCalls int
	lastSynth     *polly.SynthesizeSpeechInput
}

func (f *fakeAPI) DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error) {
	f.describeCalls++
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &polly.DescribeVoicesOutput{}, nil
}

func (f *fakeAPI) SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.lastSynth = params
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(strings.NewReader(f.audio))}, nil
}

func newTestClient(api *fakeAPI, seen *[]credentials.Credentials) *PollyClient {
	cfg := config.Default().Polly
	factory := func(ctx context.Context, _ config.PollyConfig, creds credentials.Credentials) (API, error) {
		if seen != nil {
			*seen = append(*seen, creds)
		}
		return api, nil
	}
	return NewPollyClient(cfg, factory, newLogger())
}

var testCreds = credentials.Credentials{AccessKey: "AKIAEXAMPLE", AccessSecret: "secret"}

func TestVerifySuccess(t *testing.T) {
	api := &fakeAPI{}
	var seen []credentials.Credentials
	client := newTestClient(api, &seen)
	if err := client.Verify(context.Background(), testCreds); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if api.describeCalls != 1 {
		t.Fatalf("expected one describe call, got %d", api.describeCalls)
	}
	if len(seen) != 1 || seen[0] != testCreds {
		t.Fatalf("expected session built from given credentials, got %+v", seen)
	}
}

func TestVerifyClientError(t *testing.T) {
	api := &fakeAPI{describeErr: &smithy.GenericAPIError{Code: "UnrecognizedClientException", Message: "The security token included in the request is invalid."}}
	client := newTestClient(api, nil)
	err := client.Verify(context.Background(), testCreds)
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindAuthOrClient {
		t.Fatalf("expected auth/client kind, got %v", KindOf(err))
	}
	if !strings.Contains(err.Error(), "security token") {
		t.Fatalf("expected service message surfaced, got %q", err)
	}
}

func TestSynthesizePlainText(t *testing.T) {
	api := &fakeAPI{audio: "mp3-bytes"}
	client := newTestClient(api, nil)
	audio, err := client.Synthesize(context.Background(), Request{Text: "Hello", Voice: VoiceDaniel, Speed: 100}, testCreds)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Fatalf("unexpected audio %q", audio)
	}
	in := api.lastSynth
	if in.VoiceId != types.VoiceIdDaniel {
		t.Fatalf("unexpected voice %q", in.VoiceId)
	}
	if in.TextType != types.TextTypeText || aws.ToString(in.Text) != "Hello" {
		t.Fatalf("unexpected text payload %q (%s)", aws.ToString(in.Text), in.TextType)
	}
	if in.OutputFormat != types.OutputFormatMp3 || in.Engine != types.EngineNeural {
		t.Fatalf("unexpected format/engine %s/%s", in.OutputFormat, in.Engine)
	}
}

func TestSynthesizeSSML(t *testing.T) {
	api := &fakeAPI{audio: "x"}
	client := newTestClient(api, nil)
	_, err := client.Synthesize(context.Background(), Request{Text: "Hi", Voice: VoiceRuth, Speed: 50, Mode: ModeSSML}, testCreds)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if api.lastSynth.TextType != types.TextTypeSsml {
		t.Fatalf("expected ssml text type")
	}
	if got := aws.ToString(api.lastSynth.Text); got != "<speak><prosody rate='125%'>Hi</prosody></speak>" {
		t.Fatalf("unexpected ssml %q", got)
	}
}

func TestSynthesizeErrorKinds(t *testing.T) {
	api := &fakeAPI{synthErr: &smithy.GenericAPIError{Code: "InvalidSignatureException", Message: "bad signature"}}
	client := newTestClient(api, nil)
	_, err := client.Synthesize(context.Background(), Request{Text: "Hi", Voice: VoiceRuth, Speed: 100}, testCreds)
	if KindOf(err) != KindAuthOrClient {
		t.Fatalf("expected auth/client kind, got %v (%v)", KindOf(err), err)
	}

	api.synthErr = errors.New("dial tcp: connection refused")
	_, err = client.Synthesize(context.Background(), Request{Text: "Hi", Voice: VoiceRuth, Speed: 100}, testCreds)
	if err == nil || KindOf(err) != KindUnexpected {
		t.Fatalf("expected unexpected kind, got %v", err)
	}
}

func TestFactoryErrorIsUnexpected(t *testing.T) {
	factory := func(context.Context, config.PollyConfig, credentials.Credentials) (API, error) {
		return nil, errors.New("no region")
	}
	client := NewPollyClient(config.Default().Polly, factory, newLogger())
	if err := client.Verify(context.Background(), testCreds); KindOf(err) != KindUnexpected {
		t.Fatalf("expected unexpected kind, got %v", err)
	}
}

func TestMockSynth(t *testing.T) {
	m := NewMockSynth()
	if err := m.Verify(context.Background(), credentials.Credentials{AccessKey: "a"}); KindOf(err) != KindAuthOrClient {
		t.Fatalf("expected client error for incomplete pair, got %v", err)
	}
	audio, err := m.Synthesize(context.Background(), Request{Text: "Hi", Voice: VoiceDaniel, Speed: 100}, testCreds)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(audio) == 0 || audio[0] != 0xFF {
		t.Fatalf("expected mp3 frame, got %d bytes", len(audio))
	}
}
