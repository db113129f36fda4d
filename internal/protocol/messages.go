package protocol

import "time"

// AudioFrame represents PCM audio data streamed from edge devices.
type AudioFrame struct {
	Source     string `json:"source"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
}

// PipelineEvent mirrors a notification event on the bus.
type PipelineEvent struct {
	NodeID    string    `json:"node_id"`
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Kind      string    `json:"kind"`
	Channel   string    `json:"channel"`
	Step      string    `json:"step"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ControlRequest asks a node to start or stop a run.
type ControlRequest struct {
	Action   string `json:"action"` // start, stop, state
	Language string `json:"language,omitempty"`
}

// ControlReply answers a ControlRequest.
type ControlReply struct {
	OK    bool   `json:"ok"`
	RunID string `json:"run_id,omitempty"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// Status is the periodic heartbeat of a node.
type Status struct {
	NodeID    string    `json:"node_id"`
	State     string    `json:"state"`
	RunID     string    `json:"run_id,omitempty"`
	Languages []string  `json:"languages"`
	Available bool      `json:"available"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionState = "state"
)

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectEventPrefix      = "translate.event"
	SubjectControl          = "translate.control"
	SubjectStatusPrefix     = "translate.status"
)
