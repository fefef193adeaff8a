// Package controller runs the credential, synthesis and playback workflow
// behind every user action.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-polly/internal/credentials"
	"github.com/loqalabs/loqa-polly/internal/eventstore"
	"github.com/loqalabs/loqa-polly/internal/playback"
	"github.com/loqalabs/loqa-polly/internal/tts"
)

const instrumentationName = "github.com/loqalabs/loqa-polly/internal/controller"

var (
	// ErrCredentialsAbsent is returned when a request needs credentials and
	// the user dismissed the form.
	ErrCredentialsAbsent = errors.New("credentials absent")
	// ErrCancelled is returned when a credential update was dismissed.
	ErrCancelled = errors.New("credential update cancelled")
	// ErrBusy is returned while another call is in flight.
	ErrBusy = errors.New("controller busy")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

const (
	msgUpdateFirst   = "Please update your AWS credentials first."
	msgRequired      = "AWS credentials are required to synthesize speech."
	msgPlaying       = "Playing the synthesized speech."
	msgUpdateCancel  = "Credential update cancelled."
	msgUpdateOK      = "Credentials successfully updated and verified."
	msgUpdateInvalid = "Credentials updated but not valid. Please try again."
)

// Options wires a Controller. Synth, Player, Prompter and Notifier are
// required.
type Options struct {
	Synth    tts.Synthesizer
	Player   Player
	Prompter Prompter
	Notifier Notifier
	Recorder Recorder

	// CredentialsPath and PersistOnUpdate control writing verified
	// credentials back to disk.
	CredentialsPath string
	PersistOnUpdate bool

	Logger *slog.Logger
}

// Controller is single-threaded: Play and UpdateCredentials fail with ErrBusy
// while another of them runs.
type Controller struct {
	opts   Options
	mu     sync.Mutex
	creds  credentials.Credentials
	sm     *StateMachine
	tracer trace.Tracer
	m      metrics
	logger *slog.Logger
}

func New(opts Options) (*Controller, error) {
	switch {
	case opts.Synth == nil:
		return nil, fmt.Errorf("controller: synthesizer required")
	case opts.Player == nil:
		return nil, fmt.Errorf("controller: player required")
	case opts.Prompter == nil:
		return nil, fmt.Errorf("controller: prompter required")
	case opts.Notifier == nil:
		return nil, fmt.Errorf("controller: notifier required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "controller"))
	c := &Controller{
		opts:   opts,
		sm:     NewStateMachine(StateNoCredentials),
		tracer: otel.Tracer(instrumentationName),
		m:      newMetrics(log),
		logger: log,
	}
	c.sm.AddListener(func(from, to State) {
		log.Debug("state changed", slog.String("from", from.String()), slog.String("to", to.String()))
	})
	return c, nil
}

// Adopt installs credentials loaded at startup. They are not verified until
// first use.
func (c *Controller) Adopt(creds credentials.Credentials) {
	if !creds.Valid() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
	c.sm.Transition(StateReady)
}

// HasCredentials reports whether a credential pair is held.
func (c *Controller) HasCredentials() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.Valid()
}

// State reports the current workflow state. Finished playback reads as Ready.
func (c *Controller) State() State {
	s := c.sm.Current()
	if s == StatePlaying && !c.opts.Player.Playing() {
		return StateReady
	}
	return s
}

// Paused reports whether the active playback is paused.
func (c *Controller) Paused() bool { return c.opts.Player.Paused() }

func (c *Controller) Pause()  { c.opts.Player.Pause() }
func (c *Controller) Resume() { c.opts.Player.Resume() }

func (c *Controller) Stop() {
	c.opts.Player.Stop()
	if c.sm.Current() == StatePlaying {
		c.sm.Transition(StateReady)
	}
}

// Play synthesizes req and starts playing it. Missing credentials are asked
// for first; a rejected synthesis re-prompts once and retries once.
func (c *Controller) Play(ctx context.Context, req tts.Request) (err error) {
	if !c.mu.TryLock() {
		return ErrBusy
	}
	defer c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "controller.play", trace.WithAttributes(
		attribute.String("voice", string(req.Voice)),
		attribute.Int("speed", req.Speed),
		attribute.String("mode", req.Mode.String()),
	))
	defer func() { endSpan(span, err) }()

	rec := c.begin(ctx, "play", req)
	defer func() { rec.finish(ctx, err, "played") }()
	c.m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("action", "play")))

	if verr := req.Validate(); verr != nil {
		rec.event(ctx, "request", "invalid", verr)
		c.notify(ctx, LevelWarning, "Invalid Request", verr.Error())
		return fmt.Errorf("%w: %w", ErrInvalidRequest, verr)
	}

	if !c.creds.Valid() {
		c.notify(ctx, LevelWarning, "Credential Issue", msgUpdateFirst)
		if aerr := c.acquire(ctx, rec, credentials.Credentials{}); aerr != nil {
			c.notifyAcquireFailure(ctx, aerr)
			if errors.Is(aerr, ErrCancelled) {
				return ErrCredentialsAbsent
			}
			return aerr
		}
	}

	var audio []byte
	reprompted := false
	for {
		c.sm.Transition(StateSynthesizing)
		audio, err = c.synthesize(ctx, rec, req)
		if err == nil {
			break
		}
		kind := tts.KindOf(err)
		c.m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))

		if kind != tts.KindAuthOrClient {
			c.notify(ctx, LevelError, "Error", "An unexpected error occurred: "+err.Error())
			c.sm.Transition(StateFailed)
			c.sm.Transition(StateReady)
			return err
		}
		c.notify(ctx, LevelError, "AWS Client Error", "An error occurred: "+err.Error())
		if reprompted {
			c.logger.Warn("synthesis rejected after re-prompt, dropping credentials")
			c.creds = credentials.Credentials{}
			c.sm.Transition(StateNoCredentials)
			rec.event(ctx, "credentials", "dropped", nil)
			return err
		}
		// The service rejected the held pair; it must not survive a failed
		// re-prompt.
		c.creds = credentials.Credentials{}
		rec.event(ctx, "credentials", "rejected", nil)
		reprompted = true
		c.m.reprompts.Add(ctx, 1)
		if aerr := c.acquire(ctx, rec, credentials.Credentials{}); aerr != nil {
			c.notifyAcquireFailure(ctx, aerr)
			return errors.Join(err, aerr)
		}
	}

	if perr := c.opts.Player.Play(audio); perr != nil {
		rec.event(ctx, "playback", "failed", perr)
		c.m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "playback")))
		c.notify(ctx, LevelError, "Playback Error", perr.Error())
		c.sm.Transition(StateFailed)
		c.sm.Transition(StateReady)
		return perr
	}
	c.sm.Transition(StatePlaying)
	rec.event(ctx, "playback", "started", nil)
	c.notify(ctx, LevelInfo, "Playing", msgPlaying)
	return nil
}

// UpdateCredentials runs the credential form seeded with the held pair and
// adopts the result only when it verifies.
func (c *Controller) UpdateCredentials(ctx context.Context) (err error) {
	if !c.mu.TryLock() {
		return ErrBusy
	}
	defer c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "controller.update_credentials")
	defer func() { endSpan(span, err) }()

	rec := c.begin(ctx, "update_credentials", tts.Request{})
	defer func() { rec.finish(ctx, err, "updated") }()
	c.m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("action", "update_credentials")))

	err = c.acquire(ctx, rec, c.creds)
	switch {
	case err == nil:
		c.notify(ctx, LevelInfo, "Success", msgUpdateOK)
	case errors.Is(err, ErrCancelled):
		c.notify(ctx, LevelWarning, "Cancelled", msgUpdateCancel)
	default:
		c.notify(ctx, LevelError, "AWS Client Error", "An error occurred: "+err.Error())
		c.notify(ctx, LevelError, "Error", msgUpdateInvalid)
	}
	return err
}

// acquire prompts for a pair and verifies it. Only a verified pair replaces
// the held one; otherwise the state settles back on what is held.
func (c *Controller) acquire(ctx context.Context, rec requestLog, initial credentials.Credentials) error {
	c.sm.Transition(StateRequestingCredentials)
	res, err := c.opts.Prompter.Prompt(ctx, initial.AccessKey, initial.AccessSecret)
	if err != nil || !res.Confirmed {
		rec.event(ctx, "prompt", "cancelled", err)
		c.settle()
		return ErrCancelled
	}
	candidate := credentials.Credentials{
		AccessKey:    strings.TrimSpace(res.Key),
		AccessSecret: strings.TrimSpace(res.Secret),
	}
	if !candidate.Valid() {
		rec.event(ctx, "prompt", "incomplete", nil)
		c.settle()
		return ErrCancelled
	}
	rec.event(ctx, "prompt", "confirmed", nil)

	c.sm.Transition(StateVerifying)
	if err := c.opts.Synth.Verify(ctx, candidate); err != nil {
		rec.event(ctx, "verify", "failed", err)
		c.m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", tts.KindOf(err).String())))
		c.logger.Warn("credential verification failed", slog.String("key", candidate.Redacted()), slog.String("error", err.Error()))
		c.settle()
		return err
	}
	rec.event(ctx, "verify", "ok", nil)
	c.creds = candidate
	c.sm.Transition(StateReady)
	c.logger.Info("credentials verified", slog.String("key", candidate.Redacted()))
	c.persist(ctx, candidate)
	return nil
}

func (c *Controller) notifyAcquireFailure(ctx context.Context, err error) {
	if errors.Is(err, ErrCancelled) {
		c.notify(ctx, LevelWarning, "Credentials Required", msgRequired)
		return
	}
	c.notify(ctx, LevelError, "AWS Client Error", "An error occurred: "+err.Error())
}

func (c *Controller) settle() {
	if c.creds.Valid() {
		c.sm.Transition(StateReady)
		return
	}
	c.sm.Transition(StateNoCredentials)
}

func (c *Controller) synthesize(ctx context.Context, rec requestLog, req tts.Request) ([]byte, error) {
	start := time.Now()
	audio, err := c.opts.Synth.Synthesize(ctx, req, c.creds)
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	c.m.synthMs.Record(ctx, elapsed, metric.WithAttributes(attribute.Bool("ok", err == nil)))
	if err != nil {
		rec.event(ctx, "synthesize", tts.KindOf(err).String(), err)
		return nil, err
	}
	rec.event(ctx, "synthesize", "ok", nil)
	return audio, nil
}

func (c *Controller) persist(ctx context.Context, creds credentials.Credentials) {
	if !c.opts.PersistOnUpdate || c.opts.CredentialsPath == "" {
		return
	}
	if err := credentials.Save(c.opts.CredentialsPath, creds); err != nil {
		c.logger.Warn("persist credentials failed", slog.String("error", err.Error()))
		c.notify(ctx, LevelWarning, "Credentials Not Saved", err.Error())
		return
	}
	c.logger.Info("credentials saved", slog.String("path", c.opts.CredentialsPath))
}

func (c *Controller) notify(ctx context.Context, level Level, title, message string) {
	c.opts.Notifier.Notify(ctx, Notice{Level: level, Title: title, Message: message})
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// requestLog records history for one call; recording failures are logged
// and never fail the call.
type requestLog struct {
	id     string
	rec    Recorder
	logger *slog.Logger
}

func (c *Controller) begin(ctx context.Context, action string, req tts.Request) requestLog {
	id := eventstore.RequestIDFrom(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	l := requestLog{id: id, rec: c.opts.Recorder, logger: c.logger.With(slog.String("request_id", id))}
	if l.rec == nil {
		return l
	}
	row := eventstore.Request{ID: id, Action: action}
	if action == "play" {
		row.Voice = string(req.Voice)
		row.Speed = req.Speed
		row.Mode = req.Mode.String()
		row.Chars = len([]rune(req.Text))
		row.Text = req.Text
	}
	if err := l.rec.AppendRequest(ctx, row); err != nil {
		l.logger.Warn("record request failed", slog.String("error", err.Error()))
	}
	return l
}

func (l requestLog) event(ctx context.Context, kind, outcome string, err error) {
	if l.rec == nil {
		return
	}
	evt := eventstore.Event{RequestID: l.id, Type: kind, Outcome: outcome}
	if err != nil {
		evt.Detail = err.Error()
	}
	if rerr := l.rec.AppendEvent(ctx, evt); rerr != nil {
		l.logger.Warn("record event failed", slog.String("error", rerr.Error()))
	}
}

func (l requestLog) finish(ctx context.Context, err error, success string) {
	if l.rec == nil {
		return
	}
	outcome := success
	switch {
	case err == nil:
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrCredentialsAbsent):
		outcome = "cancelled"
	default:
		outcome = "failed"
	}
	if rerr := l.rec.FinishRequest(ctx, l.id, outcome); rerr != nil {
		l.logger.Warn("record outcome failed", slog.String("error", rerr.Error()))
	}
}

type metrics struct {
	requests  metric.Int64Counter
	failures  metric.Int64Counter
	reprompts metric.Int64Counter
	synthMs   metric.Float64Histogram
}

func newMetrics(log *slog.Logger) metrics {
	meter := otel.Meter(instrumentationName)
	m := metrics{
		requests:  noop.Int64Counter{},
		failures:  noop.Int64Counter{},
		reprompts: noop.Int64Counter{},
		synthMs:   noop.Float64Histogram{},
	}
	if c, err := meter.Int64Counter("loqa_polly.requests", metric.WithDescription("Controller calls by action")); err == nil {
		m.requests = c
	} else {
		log.Warn("failed to create requests counter", slog.String("error", err.Error()))
	}
	if c, err := meter.Int64Counter("loqa_polly.failures", metric.WithDescription("Failures by kind")); err == nil {
		m.failures = c
	} else {
		log.Warn("failed to create failures counter", slog.String("error", err.Error()))
	}
	if c, err := meter.Int64Counter("loqa_polly.reprompts", metric.WithDescription("Credential re-prompts after a rejected synthesis")); err == nil {
		m.reprompts = c
	} else {
		log.Warn("failed to create reprompts counter", slog.String("error", err.Error()))
	}
	if h, err := meter.Float64Histogram("loqa_polly.synthesize.duration_ms", metric.WithUnit("ms")); err == nil {
		m.synthMs = h
	} else {
		log.Warn("failed to create synthesize histogram", slog.String("error", err.Error()))
	}
	return m
}

// ErrorKind names the failure class of an error returned by Play or
// UpdateCredentials, for wire replies and history.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrCredentialsAbsent):
		return "credentials_absent"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, playback.ErrUnavailable):
		return "playback_unavailable"
	case errors.Is(err, playback.ErrBusy):
		return "playback_busy"
	default:
		return tts.KindOf(err).String()
	}
}
