package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/notify"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Source reports what the local node is doing.
type Source interface {
	Snapshot() (pipeline.State, string)
	Available() error
}

// Node is the last status seen from a translate node, local or remote.
type Node struct {
	Status  protocol.Status `json:"status"`
	Healthy bool            `json:"healthy"`
}

// Announcer publishes this node's pipeline state on translate.status.<id>
// and tracks the heartbeats of its peers.
type Announcer struct {
	cfg       config.NodeConfig
	source    Source
	languages []string
	log       *slog.Logger
	bus       *bus.Client
	mu        sync.RWMutex
	nodes     map[string]*Node
	cancel    context.CancelFunc
	sub       *nats.Subscription
	wg        sync.WaitGroup
	clock     func() time.Time
}

func NewAnnouncer(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, source Source, languages []string, log *slog.Logger) (*Announcer, error) {
	ctx, cancel := context.WithCancel(ctx)
	a := &Announcer{
		cfg:       cfg,
		source:    source,
		languages: languages,
		log:       log.With(slog.String("component", "status")),
		bus:       busClient,
		nodes:     make(map[string]*Node),
		cancel:    cancel,
		clock:     time.Now,
	}

	if err := a.initMetrics(); err != nil {
		a.log.Warn("failed to initialize metrics", slogError(err))
	}

	sub, err := busClient.Conn().Subscribe(protocol.SubjectStatusPrefix+".*", a.handleStatus)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe status: %w", err)
	}
	a.sub = sub

	if err := a.Announce(); err != nil {
		a.log.Warn("failed to announce node", slogError(err))
	}

	a.wg.Add(1)
	go a.run(ctx)
	return a, nil
}

func (a *Announcer) Close() {
	a.cancel()
	a.wg.Wait()
	if a.sub != nil {
		_ = a.sub.Drain()
	}
}

// Notify publishes right away when a run starts so peers need not wait for
// the next heartbeat.
func (a *Announcer) Notify(e notify.Event) {
	if e.Step != notify.StepPipelineStarted {
		return
	}
	if err := a.Announce(); err != nil {
		a.log.Warn("failed to announce run start", slogError(err))
	}
}

func (a *Announcer) run(ctx context.Context) {
	defer a.wg.Done()
	interval := time.Duration(a.cfg.HeartbeatInterval) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Announce(); err != nil {
				a.log.Warn("failed to publish heartbeat", slogError(err))
			}
			a.evaluateHealth()
		}
	}
}

// Announce publishes the current status once.
func (a *Announcer) Announce() error {
	state, runID := a.source.Snapshot()
	a.mu.RLock()
	now := a.clock()
	a.mu.RUnlock()
	msg := protocol.Status{
		NodeID:    a.cfg.ID,
		State:     state.String(),
		RunID:     runID,
		Languages: a.languages,
		Available: a.source.Available() == nil,
		Timestamp: now.UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return a.bus.Conn().Publish(protocol.SubjectStatusPrefix+"."+a.cfg.ID, payload)
}

func (a *Announcer) handleStatus(msg *nats.Msg) {
	var st protocol.Status
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		a.log.Warn("invalid status message", slogError(err))
		return
	}
	if st.NodeID == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st.Timestamp.IsZero() {
		st.Timestamp = a.clock().UTC()
	}
	a.nodes[st.NodeID] = &Node{Status: st, Healthy: true}
}

// evaluateHealth marks nodes unhealthy after three missed heartbeats.
func (a *Announcer) evaluateHealth() {
	a.mu.Lock()
	defer a.mu.Unlock()

	timeout := 3 * time.Duration(a.cfg.HeartbeatInterval) * time.Millisecond
	now := a.clock()
	for _, node := range a.nodes {
		if now.Sub(node.Status.Timestamp) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether this node has heard its own heartbeat recently.
func (a *Announcer) Healthy() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	node, ok := a.nodes[a.cfg.ID]
	return ok && node.Healthy
}

// Nodes returns the known nodes sorted by ID.
func (a *Announcer) Nodes() []Node {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Node, 0, len(a.nodes))
	for _, node := range a.nodes {
		out = append(out, *node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status.NodeID < out[j].Status.NodeID })
	return out
}

func (a *Announcer) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-translate/internal/status")
	stateGauge, err := meter.Int64ObservableGauge("loqa.translate.state",
		metric.WithDescription("1 while a run is in flight on this node"))
	if err != nil {
		return err
	}
	nodeGauge, err := meter.Int64ObservableGauge("loqa.translate.nodes",
		metric.WithDescription("Healthy translate nodes seen on the bus"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		var recording int64
		if state, _ := a.source.Snapshot(); state == pipeline.Recording {
			recording = 1
		}
		obs.ObserveInt64(stateGauge, recording)
		obs.ObserveInt64(nodeGauge, a.healthyCount())
		return nil
	}, stateGauge, nodeGauge)
	return err
}

func (a *Announcer) healthyCount() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var n int64
	for _, node := range a.nodes {
		if node.Healthy {
			n++
		}
	}
	return n
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
