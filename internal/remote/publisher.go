package remote

import (
	"log/slog"

	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/notify"
	"github.com/loqalabs/loqa-translate/internal/protocol"
)

// Publisher mirrors notification events onto translate.event.<run_id>.
type Publisher struct {
	bus    *bus.Client
	nodeID string
	logger *slog.Logger
}

func NewPublisher(busClient *bus.Client, nodeID string, logger *slog.Logger) *Publisher {
	return &Publisher{bus: busClient, nodeID: nodeID, logger: logger.With(slog.String("component", "publisher"))}
}

func (p *Publisher) Notify(e notify.Event) {
	msg := protocol.PipelineEvent{
		NodeID:    p.nodeID,
		RunID:     e.RunID,
		Seq:       e.Seq,
		Kind:      string(e.Kind),
		Channel:   string(e.Channel),
		Step:      string(e.Step),
		Text:      e.Text,
		Timestamp: e.Timestamp,
	}
	if err := p.bus.PublishJSON(protocol.SubjectEventPrefix+"."+e.RunID, msg); err != nil {
		p.logger.Warn("failed to publish pipeline event", slog.String("run_id", e.RunID), slogError(err))
	}
}
