//go:build whisper_cpp

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-translate/internal/config"
)

const WhisperSupported = true

// whisperEngine runs whisper.cpp in-process. The model is loaded once and
// inference is serialised; whisper.cpp contexts are not safe to share.
type whisperEngine struct {
	model    whisperpkg.Model
	threads  uint
	language string
	logger   *slog.Logger
	mu       sync.Mutex
}

func NewWhisperEngine(cfg config.STTConfig, logger *slog.Logger) (Engine, error) {
	threads := uint(runtime.NumCPU())
	if cfg.Threads > 0 {
		threads = uint(cfg.Threads)
	}
	language := cfg.Language
	if language == "" {
		language = "auto"
	}

	model, err := whisperpkg.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %s: %w", cfg.ModelPath, err)
	}
	logger.Info("whisper model loaded",
		slog.String("model", cfg.ModelPath),
		slog.Uint64("threads", uint64(threads)),
		slog.String("language", language),
	)
	return &whisperEngine{
		model:    model,
		threads:  threads,
		language: language,
		logger:   logger.With(slog.String("component", "whisper")),
	}, nil
}

// Transcribe checks ctx before inference only; a running whisper.cpp
// process call cannot be interrupted.
func (e *whisperEngine) Transcribe(ctx context.Context, in Input) (Transcript, error) {
	if len(in.Samples) == 0 {
		return Transcript{}, nil
	}
	if in.SampleRate != whisperpkg.SampleRate {
		return Transcript{}, fmt.Errorf("whisper needs %d Hz audio, got %d", whisperpkg.SampleRate, in.SampleRate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return Transcript{}, fmt.Errorf("create context: %w", err)
	}
	wctx.SetThreads(e.threads)
	if err := wctx.SetLanguage(e.language); err != nil {
		return Transcript{}, fmt.Errorf("set language %q: %w", e.language, err)
	}
	wctx.SetSplitOnWord(true)

	if err := wctx.Process(in.Samples, nil, nil, nil); err != nil {
		return Transcript{}, fmt.Errorf("process audio: %w", err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Transcript{}, fmt.Errorf("read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			segments = append(segments, text)
		}
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}
	text := strings.Join(segments, " ")
	e.logger.Debug("whisper transcription complete",
		slog.Int("segments", len(segments)),
		slog.Int("samples", len(in.Samples)),
		slog.String("language", lang),
	)
	return Transcript{Text: text, Language: lang}, nil
}

func (e *whisperEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}
