package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-polly/internal/config"
	"github.com/loqalabs/loqa-polly/internal/credentials"
)

// API is the subset of the Polly client used here.
type API interface {
	DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// APIFactory opens a Polly session for a credential pair.
type APIFactory func(ctx context.Context, cfg config.PollyConfig, creds credentials.Credentials) (API, error)

// PollyClient talks to Amazon Polly. It holds no session between calls.
type PollyClient struct {
	cfg    config.PollyConfig
	newAPI APIFactory
	tracer trace.Tracer
	logger *slog.Logger
}

// NewPollyClient returns a client; a nil factory uses the AWS SDK.
func NewPollyClient(cfg config.PollyConfig, newAPI APIFactory, log *slog.Logger) *PollyClient {
	if newAPI == nil {
		newAPI = NewSDKAPI
	}
	return &PollyClient{
		cfg:    cfg,
		newAPI: newAPI,
		tracer: otel.Tracer("github.com/loqalabs/loqa-polly/tts"),
		logger: log.With(slog.String("component", "polly-client")),
	}
}

// NewSDKAPI builds a Polly client from static credentials and the configured
// region and endpoint.
func NewSDKAPI(ctx context.Context, cfg config.PollyConfig, creds credentials.Credentials) (API, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(creds.AccessKey, creds.AccessSecret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return polly.NewFromConfig(awsCfg, func(o *polly.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func (c *PollyClient) Verify(ctx context.Context, creds credentials.Credentials) error {
	ctx, span := c.tracer.Start(ctx, "polly.verify", trace.WithAttributes(
		attribute.String("polly.region", c.cfg.Region),
	))
	defer span.End()

	api, err := c.newAPI(ctx, c.cfg, creds)
	if err != nil {
		return recordErr(span, unexpectedError("verify", err))
	}
	if _, err := api.DescribeVoices(ctx, &polly.DescribeVoicesInput{}); err != nil {
		c.logger.Warn("credential verification failed", slogError(err))
		return recordErr(span, classify("verify", err))
	}
	c.logger.Info("credentials verified", slog.String("key", creds.Redacted()))
	return nil
}

func (c *PollyClient) Synthesize(ctx context.Context, req Request, creds credentials.Credentials) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "polly.synthesize", trace.WithAttributes(
		attribute.String("polly.voice", string(req.Voice)),
		attribute.String("polly.text_type", req.Mode.String()),
		attribute.Int("polly.chars", len(req.Text)),
	))
	defer span.End()

	api, err := c.newAPI(ctx, c.cfg, creds)
	if err != nil {
		return nil, recordErr(span, unexpectedError("synthesize", err))
	}

	textType := types.TextTypeText
	if req.Mode == ModeSSML {
		textType = types.TextTypeSsml
	}
	out, err := api.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		VoiceId:      types.VoiceId(req.Voice),
		OutputFormat: types.OutputFormat(c.cfg.OutputFormat),
		Text:         aws.String(req.Payload()),
		TextType:     textType,
		Engine:       types.Engine(c.cfg.Engine),
	})
	if err != nil {
		c.logger.Warn("synthesis failed", slog.String("voice", string(req.Voice)), slogError(err))
		return nil, recordErr(span, classify("synthesize", err))
	}
	if out.AudioStream == nil {
		return nil, recordErr(span, unexpectedError("synthesize", errors.New("empty audio stream")))
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, recordErr(span, unexpectedError("synthesize", fmt.Errorf("read audio stream: %w", err)))
	}
	span.SetAttributes(attribute.Int("polly.audio_bytes", len(audio)))
	return audio, nil
}

// classify maps service errors to KindAuthOrClient and everything else to
// KindUnexpected.
func classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return clientError(op, err)
	}
	return unexpectedError(op, err)
}

func recordErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("polly.error_kind", KindOf(err).String()))
	return err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
