package stt

import (
	"context"
	"fmt"
	"sync"
)

// MockEngine reports the clip length, or a fixed reply when Text is set.
// Silence transcribes to an empty string, like a real recognizer would.
type MockEngine struct {
	Text     string
	Language string
	Err      error

	mu    sync.Mutex
	calls int
}

func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

func (m *MockEngine) Transcribe(ctx context.Context, in Input) (Transcript, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	if m.Err != nil {
		return Transcript{}, m.Err
	}
	if m.Text != "" {
		return Transcript{Text: m.Text, Language: m.Language}, nil
	}
	if silent(in.Samples) {
		return Transcript{Language: m.Language}, nil
	}
	return Transcript{
		Text:     fmt.Sprintf("[transcript samples=%d]", len(in.Samples)),
		Language: m.Language,
	}, nil
}

// Calls returns how many times Transcribe ran.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockEngine) Close() error { return nil }

func silent(samples []float32) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}
