package status

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/natsserver"
	"github.com/loqalabs/loqa-translate/internal/notify"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixedSource struct {
	state pipeline.State
	runID string
}

func (f fixedSource) Snapshot() (pipeline.State, string) { return f.state, f.runID }
func (f fixedSource) Available() error                   { return nil }

func connect(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.StartEphemeral(newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, "status-test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestAnnouncerTracksNodes(t *testing.T) {
	client := connect(t)
	cfg := config.NodeConfig{ID: "node-a", HeartbeatInterval: 50}

	local, err := NewAnnouncer(context.Background(), cfg, client, fixedSource{state: pipeline.Recording, runID: "run-1"}, []string{"de", "en", "ja"}, newLogger())
	if err != nil {
		t.Fatalf("new announcer: %v", err)
	}
	t.Cleanup(local.Close)

	peer, err := NewAnnouncer(context.Background(), config.NodeConfig{ID: "node-b", HeartbeatInterval: 50}, client, fixedSource{}, nil, newLogger())
	if err != nil {
		t.Fatalf("new peer: %v", err)
	}
	t.Cleanup(peer.Close)

	waitFor(t, func() bool { return local.Healthy() && len(local.Nodes()) == 2 })

	nodes := local.Nodes()
	if nodes[0].Status.NodeID != "node-a" || nodes[0].Status.State != "recording" || nodes[0].Status.RunID != "run-1" {
		t.Fatalf("unexpected local status %+v", nodes[0])
	}
	if !nodes[0].Status.Available || len(nodes[0].Status.Languages) != 3 {
		t.Fatalf("unexpected local status %+v", nodes[0])
	}
	if nodes[1].Status.NodeID != "node-b" || nodes[1].Status.State != "idle" {
		t.Fatalf("unexpected peer status %+v", nodes[1])
	}
}

func TestAnnouncerMarksSilentNodesUnhealthy(t *testing.T) {
	client := connect(t)
	a, err := NewAnnouncer(context.Background(), config.NodeConfig{ID: "node-a", HeartbeatInterval: 1000}, client, fixedSource{}, nil, newLogger())
	if err != nil {
		t.Fatalf("new announcer: %v", err)
	}
	t.Cleanup(a.Close)
	waitFor(t, a.Healthy)

	a.mu.Lock()
	a.clock = func() time.Time { return time.Now().Add(time.Minute) }
	a.mu.Unlock()
	a.evaluateHealth()
	if a.Healthy() {
		t.Fatal("expected node to be unhealthy after missed heartbeats")
	}
}

func TestAnnouncerPublishesOnRunStart(t *testing.T) {
	client := connect(t)
	src := &switchSource{}
	a, err := NewAnnouncer(context.Background(), config.NodeConfig{ID: "node-a", HeartbeatInterval: 60000}, client, src, nil, newLogger())
	if err != nil {
		t.Fatalf("new announcer: %v", err)
	}
	t.Cleanup(a.Close)
	waitFor(t, a.Healthy)

	src.set(pipeline.Recording, "run-7")
	a.Notify(notify.Event{Step: notify.StepRecordingStarted})
	a.Notify(notify.Event{Step: notify.StepPipelineStarted})
	waitFor(t, func() bool {
		nodes := a.Nodes()
		return len(nodes) == 1 && nodes[0].Status.RunID == "run-7"
	})
}

type switchSource struct {
	mu    sync.Mutex
	state pipeline.State
	runID string
}

func (s *switchSource) set(state pipeline.State, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, s.runID = state, runID
}

func (s *switchSource) Snapshot() (pipeline.State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.runID
}

func (s *switchSource) Available() error { return nil }
