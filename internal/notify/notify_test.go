package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Notify(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestRunAssignsSequence(t *testing.T) {
	var c collector
	run := NewRun("run-1", &c)
	run.Progress(ChannelTranscript, StepRecordingStarted, "recording")
	run.Emit(KindTranscript, ChannelTranscript, StepTranscriptionResult, "hello")
	run.Failure(ChannelTranslation, StepTranslationFailed, errors.New("boom"))

	if len(c.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(c.events))
	}
	for i, e := range c.events {
		if e.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
		if e.RunID != "run-1" {
			t.Fatalf("unexpected run id %q", e.RunID)
		}
	}
	last := c.events[2]
	if last.Kind != KindError || !strings.HasPrefix(last.Text, ErrorPrefix) {
		t.Fatalf("expected prefixed error event, got %+v", last)
	}
}

func TestNilRunIsSilent(t *testing.T) {
	var run *Run
	run.Progress(ChannelTranscript, StepRecordingStarted, "x")
	run.Failure(ChannelTranscript, StepRecordingFailed, errors.New("x"))
	if run.ID() != "" {
		t.Fatal("nil run should have empty id")
	}
}

func TestDispatcherPreservesOrder(t *testing.T) {
	d := NewDispatcher()
	const total = 1000

	go func() {
		run := NewRun("r", d)
		for i := 0; i < total; i++ {
			run.Progress(ChannelTranscript, StepRecordingStarted, "tick")
		}
		d.Close()
	}()

	var got []int64
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx, func(e Event) { got = append(got, e.Seq) }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(got) != total {
		t.Fatalf("expected %d events, got %d", total, len(got))
	}
	for i, seq := range got {
		if seq != int64(i+1) {
			t.Fatalf("event %d delivered out of order: seq %d", i, seq)
		}
	}
}

func TestDispatcherStopsOnContext(t *testing.T) {
	d := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx, func(Event) {}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	d := NewDispatcher()
	d.Close()
	d.Notify(Event{Text: "late"})
	if d.Pending() != 0 {
		t.Fatal("expected closed dispatcher to drop events")
	}
}

func TestFanoutForwardsToAll(t *testing.T) {
	var a, b collector
	f := Fanout{&a, nil, &b}
	f.Notify(Event{Text: "x"})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both observers to receive the event")
	}
}

func TestBufferSince(t *testing.T) {
	buf := NewBuffer(3)
	buf.Notify(Event{Text: "1"})
	buf.Notify(Event{Text: "2"})
	buf.Notify(Event{Text: "3"})

	records := buf.Since(1)
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].Cursor != 2 || records[1].Cursor != 3 {
		t.Fatalf("unexpected cursors: %+v", records)
	}
}

func TestBufferCapsHistory(t *testing.T) {
	buf := NewBuffer(2)
	buf.Notify(Event{Text: "1"})
	buf.Notify(Event{Text: "2"})
	buf.Notify(Event{Text: "3"})

	records := buf.Since(0)
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].Text != "2" || records[1].Text != "3" {
		t.Fatalf("unexpected records: %+v", records)
	}
}
