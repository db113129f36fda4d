//go:build !whisper_cpp

package stt

import (
	"errors"
	"log/slog"

	"github.com/loqalabs/loqa-translate/internal/config"
)

// WhisperSupported reports whether the whisper engine is compiled in.
const WhisperSupported = false

// NewWhisperEngine is unavailable without cgo bindings; set stt.mode to exec
// or mock, or rebuild with -tags whisper_cpp.
func NewWhisperEngine(config.STTConfig, *slog.Logger) (Engine, error) {
	return nil, errors.New("built without whisper.cpp support (rebuild with -tags whisper_cpp)")
}
