package notify

import (
	"context"
	"sync"
)

// Dispatcher moves events from the pipeline worker onto the presentation
// layer's own goroutine. Notify never blocks; Run delivers queued events
// one at a time, in arrival order, on the goroutine that calls it.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (d *Dispatcher) Notify(e Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, e)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run delivers events to fn until Close is called and the queue is drained,
// or until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, fn func(Event)) error {
	for {
		batch, closed := d.take()
		for _, e := range batch {
			fn(e)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		case <-d.done:
		}
	}
}

// Pending reports the number of queued, undelivered events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops accepting events. Run returns once the backlog is delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.done)
}

func (d *Dispatcher) take() ([]Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	batch := d.queue
	d.queue = nil
	return batch, d.closed
}
