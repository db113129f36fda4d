package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/loqalabs/loqa-translate/internal/notify"
)

var (
	// ErrBusy is returned by Start while a run is in flight.
	ErrBusy = errors.New("a run is already in progress")
	// ErrNotRunning is returned by Stop when no run is in flight.
	ErrNotRunning = errors.New("no run in progress")
	// ErrCancelled marks a run that was stopped before it completed.
	ErrCancelled = errors.New("run cancelled")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("controller closed")
)

// State of the single pipeline slot.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// StateMachine tracks the one run allowed at a time. Recording means a run
// is in flight, in any phase.
type StateMachine struct {
	mu     sync.Mutex
	active *activeRun
	idle   chan struct{}
}

type activeRun struct {
	id       string
	emitter  *notify.Run
	cancel   context.CancelFunc
	stopping bool
	done     chan struct{}
}

func NewStateMachine() *StateMachine {
	idle := make(chan struct{})
	close(idle)
	return &StateMachine{idle: idle}
}

// begin moves Idle to Recording. It fails with ErrBusy and returns the
// in-flight run when one exists.
func (m *StateMachine) begin(id string, emitter *notify.Run, cancel context.CancelFunc) (*activeRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return m.active, ErrBusy
	}
	m.active = &activeRun{id: id, emitter: emitter, cancel: cancel, done: make(chan struct{})}
	return m.active, nil
}

// cancel requests the in-flight run to stop. first is false when a stop was
// already requested for it.
func (m *StateMachine) cancel() (run *activeRun, first bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, false, ErrNotRunning
	}
	first = !m.active.stopping
	m.active.stopping = true
	m.active.cancel()
	return m.active, first, nil
}

// finish returns the slot to Idle once the worker for id has exited.
func (m *StateMachine) finish(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.id != id {
		return
	}
	close(m.active.done)
	m.active = nil
}

// State returns the current state.
func (m *StateMachine) State() State {
	s, _ := m.Snapshot()
	return s
}

// Snapshot returns the state and the in-flight run ID, if any.
func (m *StateMachine) Snapshot() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Idle, ""
	}
	return Recording, m.active.id
}

// Done returns a channel closed once the slot is Idle.
func (m *StateMachine) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return m.idle
	}
	return m.active.done
}
