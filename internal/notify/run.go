package notify

import (
	"sync"
	"time"
)

// Run emits the events of a single pipeline run. Sequence numbers start at 1
// and increase by one per event. A nil *Run drops everything, which keeps
// components usable without an observer.
type Run struct {
	id    string
	obs   Observer
	mu    sync.Mutex
	seq   int64
	clock func() time.Time
}

func NewRun(id string, obs Observer) *Run {
	if obs == nil {
		obs = Discard
	}
	return &Run{id: id, obs: obs, clock: time.Now}
}

func (r *Run) ID() string {
	if r == nil {
		return ""
	}
	return r.id
}

// Emit delivers one event. The lock is held across Notify so concurrent
// callers cannot reorder events relative to their sequence numbers.
func (r *Run) Emit(kind Kind, channel Channel, step Step, text string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.obs.Notify(Event{
		RunID:     r.id,
		Seq:       r.seq,
		Kind:      kind,
		Channel:   channel,
		Step:      step,
		Text:      text,
		Timestamp: r.clock().UTC(),
	})
}

func (r *Run) Progress(channel Channel, step Step, text string) {
	r.Emit(KindProgress, channel, step, text)
}

func (r *Run) Failure(channel Channel, step Step, err error) {
	if err == nil {
		return
	}
	r.Emit(KindError, channel, step, ErrorPrefix+err.Error())
}
