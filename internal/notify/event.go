package notify

import (
	"context"
	"log/slog"
	"time"
)

// ErrorPrefix starts the text of every error event so presentation layers
// can tell failures apart from progress lines.
const ErrorPrefix = "[error] "

// Kind classifies an event.
type Kind string

const (
	KindProgress    Kind = "progress"
	KindTranscript  Kind = "transcript"
	KindTranslation Kind = "translation"
	KindError       Kind = "error"
)

// Channel names the output pane an event belongs to.
type Channel string

const (
	ChannelTranscript  Channel = "transcript"
	ChannelTranslation Channel = "translation"
)

// Step identifies the point in a run that produced the event.
type Step string

const (
	StepRecordingStarted     Step = "recording.started"
	StepRecordingComplete    Step = "recording.complete"
	StepRecordingFailed      Step = "recording.error"
	StepTranscriptionStarted Step = "transcription.started"
	StepTranscriptionResult  Step = "transcription.result"
	StepTranscriptionFailed  Step = "transcription.error"
	StepTranslationStarted   Step = "translation.started"
	StepTranslationResult    Step = "translation.result"
	StepTranslationFailed    Step = "translation.error"
	StepPipelineStarted      Step = "pipeline.started"
	StepPipelineStopped      Step = "pipeline.stopped"
	StepPipelineBusy         Step = "pipeline.busy"
	StepPipelineUnavailable  Step = "pipeline.unavailable"
	StepPipelinePanic        Step = "pipeline.panic"
)

// Event is one entry of the append-only notification stream.
type Event struct {
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Kind      Kind      `json:"kind"`
	Channel   Channel   `json:"channel"`
	Step      Step      `json:"step"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer receives events in emission order. Implementations must not
// block for long; presentation layers marshal through a Dispatcher.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Observer = ObserverFunc(func(Event) {})

// Fanout forwards each event to every observer in order.
type Fanout []Observer

func (f Fanout) Notify(e Event) {
	for _, obs := range f {
		if obs != nil {
			obs.Notify(e)
		}
	}
}

// LogObserver writes events to a slog logger at debug level, errors at warn.
func LogObserver(logger *slog.Logger) Observer {
	return ObserverFunc(func(e Event) {
		level := slog.LevelDebug
		if e.Kind == KindError {
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, "pipeline event",
			slog.String("run_id", e.RunID),
			slog.Int64("seq", e.Seq),
			slog.String("step", string(e.Step)),
			slog.String("text", e.Text),
		)
	})
}
