package presence

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-polly/internal/bus"
	"github.com/loqalabs/loqa-polly/internal/config"
	"github.com/loqalabs/loqa-polly/internal/natsserver"
	"github.com/loqalabs/loqa-polly/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T) config.BusConfig {
	t.Helper()
	cfg := config.Default().Bus
	cfg.Port = -1
	cfg.StoreDir = t.TempDir()
	ns, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(ns.Shutdown)
	cfg.Servers = []string{ns.ClientURL()}
	return cfg
}

func connect(t *testing.T, cfg config.BusConfig) *bus.Client {
	t.Helper()
	client, err := bus.Connect(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func presenceConfig(id string) config.PresenceConfig {
	return config.PresenceConfig{Enabled: true, NodeID: id, HeartbeatInterval: 50, HeartbeatTimeout: 200}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func find(speakers []protocol.Speaker, id string) (protocol.Speaker, bool) {
	for _, s := range speakers {
		if s.NodeID == id {
			return s, true
		}
	}
	return protocol.Speaker{}, false
}

func TestRegistrySeesPeers(t *testing.T) {
	busCfg := startBus(t)
	local := Local{Version: "test", Voices: []string{"Daniel", "Ruth"}, Playback: "none"}

	a, err := NewRegistry(context.Background(), presenceConfig("kitchen"), "polly", local, connect(t, busCfg), newLogger())
	if err != nil {
		t.Fatalf("registry a: %v", err)
	}
	t.Cleanup(a.Close)
	if !a.Healthy() {
		t.Fatal("expected registry healthy right after announce")
	}

	b, err := NewRegistry(context.Background(), presenceConfig("office"), "polly", Local{Voices: []string{"Vicki"}, Playback: "exec"}, connect(t, busCfg), newLogger())
	if err != nil {
		t.Fatalf("registry b: %v", err)
	}

	waitFor(t, "kitchen to see office", func() bool {
		s, ok := find(a.Speakers(), "office")
		return ok && s.Healthy && s.Playback == "exec"
	})
	// office joined after kitchen announced, so it learns kitchen from heartbeats.
	waitFor(t, "office to see kitchen", func() bool {
		_, ok := find(b.Speakers(), "kitchen")
		return ok
	})

	b.Close()
	waitFor(t, "office to go quiet", func() bool {
		s, ok := find(a.Speakers(), "office")
		return ok && !s.Healthy
	})
	if !a.Healthy() {
		t.Fatal("local node must stay healthy")
	}
}

func TestRegistryAnswersQuery(t *testing.T) {
	busCfg := startBus(t)
	client := connect(t, busCfg)
	r, err := NewRegistry(context.Background(), presenceConfig("den"), "polly", Local{Voices: []string{"Stephen"}, Playback: "portaudio"}, client, newLogger())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(r.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var speakers []protocol.Speaker
	if err := client.RequestJSON(ctx, protocol.Subject("polly", protocol.SubjectPresenceQuery), nil, &speakers); err != nil {
		t.Fatalf("query: %v", err)
	}
	s, ok := find(speakers, "den")
	if !ok || !s.Healthy || len(s.Voices) != 1 || s.Voices[0] != "Stephen" {
		t.Fatalf("unexpected query reply %+v", speakers)
	}
}

func TestRegistryIgnoresMalformedMessages(t *testing.T) {
	busCfg := startBus(t)
	client := connect(t, busCfg)
	r, err := NewRegistry(context.Background(), presenceConfig("den"), "polly", Local{}, client, newLogger())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(r.Close)

	conn := client.Conn()
	_ = conn.Publish(protocol.Subject("polly", protocol.SubjectPresenceAnnounce), []byte("{not json"))
	_ = conn.Publish(protocol.Subject("polly", protocol.SubjectPresenceHeartbeat)+".ghost", []byte(`{"node_id":""}`))
	if err := conn.Flush(); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Request(protocol.Subject("polly", protocol.SubjectPresenceQuery), nil, 2*time.Second); err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := r.Speakers(); len(got) != 1 || got[0].NodeID != "den" {
		t.Fatalf("expected only the local node, got %+v", got)
	}
}

func TestHeartbeatFromUnknownNodeAddsIt(t *testing.T) {
	r := &Registry{cfg: presenceConfig("local"), speakers: map[string]*protocol.Speaker{}, now: time.Now}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.observeHeartbeat(protocol.Heartbeat{NodeID: "peer", Timestamp: at})
	r.observeHeartbeat(protocol.Heartbeat{NodeID: "peer", Timestamp: at.Add(-time.Minute)})

	s, ok := find(r.Speakers(), "peer")
	if !ok || !s.Healthy || !s.LastSeen.Equal(at) {
		t.Fatalf("unexpected speaker %+v", s)
	}
	if r.Healthy() {
		t.Fatal("local node has not announced")
	}
}
