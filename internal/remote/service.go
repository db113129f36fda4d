package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Controller is the part of the pipeline the control service drives.
type Controller interface {
	Start(lang string) (string, error)
	Stop() error
	Snapshot() (pipeline.State, string)
}

// Service answers start/stop/state requests on translate.control.
type Service struct {
	bus       *bus.Client
	ctrl      Controller
	languages []string
	logger    *slog.Logger
	sub       *nats.Subscription
}

// NewService builds the control service. Start requests must name one of
// languages or leave the language empty for the default.
func NewService(busClient *bus.Client, ctrl Controller, languages []string, logger *slog.Logger) *Service {
	return &Service{
		bus:       busClient,
		ctrl:      ctrl,
		languages: languages,
		logger:    logger.With(slog.String("component", "remote")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectControl, s.handleControl)
	if err != nil {
		return fmt.Errorf("subscribe control: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid()
}

func (s *Service) handleControl(msg *nats.Msg) {
	var req protocol.ControlRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode control request", slogError(err))
		s.respond(msg, protocol.ControlReply{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}

	reply := s.apply(req)
	s.respond(msg, reply)
}

func (s *Service) apply(req protocol.ControlRequest) protocol.ControlReply {
	var reply protocol.ControlReply
	switch req.Action {
	case protocol.ActionStart:
		lang := strings.ToLower(strings.TrimSpace(req.Language))
		if lang != "" && !slices.Contains(s.languages, lang) {
			reply.Error = fmt.Sprintf("unsupported language %q, choose one of %s", lang, strings.Join(s.languages, ", "))
			break
		}
		runID, err := s.ctrl.Start(lang)
		reply.RunID = runID
		reply.OK = err == nil
		if err != nil {
			reply.Error = err.Error()
		}
	case protocol.ActionStop:
		err := s.ctrl.Stop()
		reply.OK = err == nil || errors.Is(err, pipeline.ErrNotRunning)
		if err != nil {
			reply.Error = err.Error()
		}
	case protocol.ActionState:
		reply.OK = true
	default:
		reply.Error = fmt.Sprintf("unknown action %q", req.Action)
	}

	state, runID := s.ctrl.Snapshot()
	reply.State = state.String()
	if reply.RunID == "" {
		reply.RunID = runID
	}
	s.logger.Debug("control request handled",
		slog.String("action", req.Action), slog.Bool("ok", reply.OK), slog.String("state", reply.State))
	return reply
}

func (s *Service) respond(msg *nats.Msg, reply protocol.ControlReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal control reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send control reply", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
