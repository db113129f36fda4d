package eventstore

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-translate/internal/notify"
)

// Recorder is an observer that persists events off the emitting goroutine.
type Recorder struct {
	store *Store
	queue *notify.Dispatcher
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store, queue: notify.NewDispatcher()}
}

func (r *Recorder) Notify(e notify.Event) {
	if !r.store.Enabled() {
		return
	}
	r.queue.Notify(e)
}

// Run writes queued events until ctx ends or Close has drained the queue.
func (r *Recorder) Run(ctx context.Context) error {
	return r.queue.Run(ctx, func(e notify.Event) {
		if err := r.store.AppendEvent(context.Background(), e); err != nil {
			r.store.log.Warn("persisting event failed",
				slog.String("run_id", e.RunID), slog.Int64("seq", e.Seq), slogError(err))
		}
	})
}

// Close stops accepting events; Run returns once the backlog is written.
func (r *Recorder) Close() {
	r.queue.Close()
}
