package translate

import (
	"context"
	"sync"
)

// MockCompleter echoes the user message with a tag and records every
// request it sees.
type MockCompleter struct {
	Reply string
	Err   error

	mu       sync.Mutex
	requests [][]Message
}

func NewMockCompleter() *MockCompleter { return &MockCompleter{} }

func (m *MockCompleter) Complete(ctx context.Context, _ string, messages []Message) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, append([]Message(nil), messages...))
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.Reply != "" {
		return m.Reply, nil
	}
	var text string
	for _, msg := range messages {
		if msg.Role == RoleUser {
			text = msg.Content
		}
	}
	return "[translated] " + text, nil
}

// Requests returns the message lists received so far.
func (m *MockCompleter) Requests() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.requests...)
}

// LastRequest returns the most recent message list, or nil.
func (m *MockCompleter) LastRequest() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}
