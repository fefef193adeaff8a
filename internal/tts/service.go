package tts

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-polly/internal/bus"
	"github.com/loqalabs/loqa-polly/internal/config"
	"github.com/loqalabs/loqa-polly/internal/eventstore"
	"github.com/loqalabs/loqa-polly/internal/protocol"
)

// Speaker runs one speak request end to end; the controller satisfies it.
type Speaker interface {
	Play(ctx context.Context, req Request) error
	Pause()
	Resume()
	Stop()
}

const (
	statusStreamMaxMsgs = 1000
	statusStreamMaxAge  = 24 * time.Hour
)

// Service exposes a Speaker on the bus. Requests on one subscription are
// handled one at a time.
type Service struct {
	cfg       config.Config
	bus       *bus.Client
	speaker   Speaker
	errorKind func(error) string
	subs      []*nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
}

// NewService wires speaker to the bus. errorKind names reply failures; nil
// uses KindOf.
func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, speaker Speaker, errorKind func(error) string, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if errorKind == nil {
		errorKind = func(err error) string { return KindOf(err).String() }
	}
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		speaker:   speaker,
		errorKind: errorKind,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.With(slog.String("component", "speak-service")),
	}
}

func (s *Service) subject(name string) string {
	return protocol.Subject(s.cfg.Bus.SubjectPrefix, name)
}

func (s *Service) Start() error {
	if stream := s.cfg.Bus.StatusStream; stream != "" {
		if err := s.bus.EnsureStream(stream, []string{s.subject(protocol.SubjectSpeakStatus)}, statusStreamMaxMsgs, statusStreamMaxAge); err != nil {
			s.logger.Warn("status stream unavailable", slogError(err))
		}
	}
	speak, err := s.bus.Conn().Subscribe(s.subject(protocol.SubjectSpeakRequest), s.handleSpeak)
	if err != nil {
		return err
	}
	control, err := s.bus.Conn().Subscribe(s.subject(protocol.SubjectPlaybackControl), s.handleControl)
	if err != nil {
		_ = speak.Unsubscribe()
		return err
	}
	s.subs = []*nats.Subscription{speak, control}
	s.logger.Info("speak service listening", slog.String("subject", speak.Subject))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
}

func (s *Service) Healthy() bool { return len(s.subs) > 0 }

// Request converts a wire request, filling defaults from polly config.
func (s *Service) Request(msg protocol.SpeakRequest) (Request, error) {
	voiceName := msg.Voice
	if voiceName == "" {
		voiceName = s.cfg.Polly.DefaultVoice
	}
	voice, err := ParseVoice(voiceName)
	if err != nil {
		return Request{}, err
	}
	speed := msg.Speed
	if speed == 0 {
		speed = s.cfg.Polly.DefaultSpeed
	}
	ssml := s.cfg.Polly.SSML
	if msg.SSML != nil {
		ssml = *msg.SSML
	}
	req := Request{Text: msg.Text, Voice: voice, Speed: speed, Mode: ModeText}
	if ssml {
		req.Mode = ModeSSML
	}
	return req, req.Validate()
}

func (s *Service) handleSpeak(msg *nats.Msg) {
	var in protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		s.reply(msg, protocol.SpeakReply{OK: false, ErrorKind: "invalid_request", Error: err.Error()})
		return
	}
	if in.RequestID == "" {
		in.RequestID = uuid.NewString()
	}
	log := s.logger.With(slog.String("request_id", in.RequestID))

	req, err := s.Request(in)
	if err != nil {
		log.Warn("rejecting speak request", slogError(err))
		s.reply(msg, protocol.SpeakReply{RequestID: in.RequestID, ErrorKind: "invalid_request", Error: err.Error()})
		return
	}

	ctx := eventstore.WithRequestID(s.ctx, in.RequestID)
	out := protocol.SpeakReply{RequestID: in.RequestID, OK: true}
	if err := s.speaker.Play(ctx, req); err != nil {
		log.Warn("speak request failed", slogError(err))
		out = protocol.SpeakReply{RequestID: in.RequestID, ErrorKind: s.errorKind(err), Error: err.Error()}
	} else {
		log.Info("speak request playing", slog.String("voice", string(req.Voice)), slog.Int("chars", len([]rune(req.Text))))
	}
	s.reply(msg, out)
}

func (s *Service) reply(msg *nats.Msg, out protocol.SpeakReply) {
	out.Timestamp = time.Now().UTC()
	data, err := json.Marshal(out)
	if err != nil {
		s.logger.Warn("failed to marshal speak reply", slogError(err))
		return
	}
	if msg.Reply != "" {
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to respond to speak request", slogError(err))
		}
	}
	if err := s.bus.Conn().Publish(s.subject(protocol.SubjectSpeakStatus), data); err != nil {
		s.logger.Warn("failed to publish speak status", slogError(err))
	}
}

func (s *Service) handleControl(msg *nats.Msg) {
	var ctl protocol.PlaybackControl
	if err := json.Unmarshal(msg.Data, &ctl); err != nil {
		s.logger.Warn("failed to decode playback control", slogError(err))
		return
	}
	switch ctl.Action {
	case protocol.ActionPause:
		s.speaker.Pause()
	case protocol.ActionResume:
		s.speaker.Resume()
	case protocol.ActionStop:
		s.speaker.Stop()
	default:
		s.logger.Warn("unknown playback action", slog.String("action", ctl.Action))
		return
	}
	s.logger.Info("playback control", slog.String("action", ctl.Action))
}
