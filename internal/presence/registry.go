// Package presence tracks the speaker daemons sharing a bus. Each daemon
// announces itself on start, sends heartbeats and answers presence queries
// with the speakers it has seen.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-polly/internal/bus"
	"github.com/loqalabs/loqa-polly/internal/config"
	"github.com/loqalabs/loqa-polly/internal/protocol"
)

var healthyAttr = attribute.Key("healthy")

// Local describes this daemon in its announcement.
type Local struct {
	Version  string
	Voices   []string
	Playback string
}

type Registry struct {
	cfg      config.PresenceConfig
	prefix   string
	local    Local
	log      *slog.Logger
	bus      *bus.Client
	mu       sync.RWMutex
	speakers map[string]*protocol.Speaker
	cancel   context.CancelFunc
	subs     []*nats.Subscription
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewRegistry subscribes to presence traffic under prefix, announces local
// and starts the heartbeat loop.
func NewRegistry(ctx context.Context, cfg config.PresenceConfig, prefix string, local Local, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:      cfg,
		prefix:   prefix,
		local:    local,
		log:      log.With(slog.String("component", "presence"), slog.String("node_id", cfg.NodeID)),
		bus:      busClient,
		speakers: make(map[string]*protocol.Speaker),
		cancel:   cancel,
		now:      func() time.Time { return time.Now().UTC() },
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if err := r.subscribe(); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce speaker", slog.String("error", err.Error()))
	}

	r.wg.Add(1)
	go r.run(ctx)
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.subs = nil
}

func (r *Registry) subject(name string) string {
	return protocol.Subject(r.prefix, name)
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	handlers := []struct {
		subject string
		handle  nats.MsgHandler
	}{
		{r.subject(protocol.SubjectPresenceAnnounce), r.handleAnnounce},
		{r.subject(protocol.SubjectPresenceHeartbeat) + ".*", r.handleHeartbeat},
		{r.subject(protocol.SubjectPresenceQuery), r.handleQuery},
	}
	for _, h := range handlers {
		sub, err := conn.Subscribe(h.subject, h.handle)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	return conn.Flush()
}

func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()
	health := time.NewTicker(time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		case <-health.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := protocol.Announce{
		NodeID:    r.cfg.NodeID,
		Version:   r.local.Version,
		Voices:    r.local.Voices,
		Playback:  r.local.Playback,
		Timestamp: r.now(),
	}
	// Record ourselves first so Healthy holds even before the echo arrives.
	r.observeAnnounce(msg)
	return r.bus.PublishJSON(r.subject(protocol.SubjectPresenceAnnounce), msg)
}

func (r *Registry) publishHeartbeat() error {
	msg := protocol.Heartbeat{NodeID: r.cfg.NodeID, Timestamp: r.now()}
	r.observeHeartbeat(msg)
	return r.bus.PublishJSON(r.subject(protocol.SubjectPresenceHeartbeat)+"."+r.cfg.NodeID, msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var a protocol.Announce
	if err := json.Unmarshal(msg.Data, &a); err != nil || a.NodeID == "" {
		r.log.Warn("invalid announce message", slog.String("subject", msg.Subject))
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = r.now()
	}
	r.observeAnnounce(a)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.Heartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil || hb.NodeID == "" {
		r.log.Warn("invalid heartbeat message", slog.String("subject", msg.Subject))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.now()
	}
	r.observeHeartbeat(hb)
}

func (r *Registry) handleQuery(msg *nats.Msg) {
	payload, err := json.Marshal(r.Speakers())
	if err != nil {
		r.log.Error("failed to encode presence reply", slog.String("error", err.Error()))
		return
	}
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(payload); err != nil {
		r.log.Warn("failed to answer presence query", slog.String("error", err.Error()))
	}
}

func (r *Registry) observeAnnounce(a protocol.Announce) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(a.NodeID)
	s.Version = a.Version
	s.Voices = append([]string(nil), a.Voices...)
	s.Playback = a.Playback
	s.LastSeen = a.Timestamp
	s.Healthy = true
}

// observeHeartbeat refreshes a speaker. A heartbeat from an unknown node
// adds it without voices until its next announce.
func (r *Registry) observeHeartbeat(hb protocol.Heartbeat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(hb.NodeID)
	if hb.Timestamp.After(s.LastSeen) {
		s.LastSeen = hb.Timestamp
	}
	s.Healthy = true
}

// entry must be called with mu held.
func (r *Registry) entry(id string) *protocol.Speaker {
	s, ok := r.speakers[id]
	if !ok {
		s = &protocol.Speaker{NodeID: id}
		r.speakers[id] = s
	}
	return s
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := r.now()
	for id, s := range r.speakers {
		if id == r.cfg.NodeID {
			continue
		}
		if now.Sub(s.LastSeen) > timeout {
			if s.Healthy {
				r.log.Info("speaker went quiet", slog.String("speaker", id))
			}
			s.Healthy = false
		}
	}
}

// Healthy reports whether this daemon is registered.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.speakers[r.cfg.NodeID]
	return ok && s.Healthy
}

// Speakers returns every known speaker sorted by node id.
func (r *Registry) Speakers() []protocol.Speaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Speaker, 0, len(r.speakers))
	for _, s := range r.speakers {
		cp := *s
		cp.Voices = append([]string(nil), s.Voices...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-polly/presence")
	gauge, err := meter.Int64ObservableGauge("loqa_polly.speakers", metric.WithDescription("Known speaker daemons by health"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		healthy, quiet := r.counts()
		obs.ObserveInt64(gauge, healthy, metric.WithAttributes(healthyAttr.Bool(true)))
		obs.ObserveInt64(gauge, quiet, metric.WithAttributes(healthyAttr.Bool(false)))
		return nil
	}, gauge)
	return err
}

func (r *Registry) counts() (healthy, quiet int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.speakers {
		if s.Healthy {
			healthy++
		} else {
			quiet++
		}
	}
	return healthy, quiet
}
