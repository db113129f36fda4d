package stt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-translate/internal/config"
)

// Input is one decoded clip handed to an engine. Engines that shell out use
// Path; in-process engines use Samples.
type Input struct {
	Path       string
	Samples    []float32
	SampleRate int
}

// Transcript captures engine output.
type Transcript struct {
	Text     string
	Language string
}

// Engine abstracts speech recognition backends.
type Engine interface {
	Transcribe(ctx context.Context, in Input) (Transcript, error)
	Close() error
}

// NewEngineFromConfig builds the engine selected by stt.mode.
func NewEngineFromConfig(cfg config.STTConfig, logger *slog.Logger) (Engine, error) {
	switch cfg.Mode {
	case "whisper":
		return NewWhisperEngine(cfg, logger)
	case "exec":
		return NewExecEngine(cfg)
	case "mock", "":
		return NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
