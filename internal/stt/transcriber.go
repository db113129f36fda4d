package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/notify"
)

// TranscriptionError reports a clip that could not be turned into text.
type TranscriptionError struct {
	Path string
	Err  error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription of %s failed: %v", e.Path, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Result is the text recognised in one clip. Clip is a copy of the input
// and does not own the file.
type Result struct {
	Text     string
	Language string
	Clip     audio.Clip
}

// Transcriber runs an Engine over recorded clips.
type Transcriber struct {
	engine  Engine
	timeout time.Duration
	logger  *slog.Logger
}

func New(engine Engine, cfg config.STTConfig, logger *slog.Logger) *Transcriber {
	return &Transcriber{
		engine:  engine,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:  logger.With(slog.String("component", "stt")),
	}
}

// Transcribe decodes the clip and runs the engine once. An empty transcript
// is a valid result.
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip, run *notify.Run) (Result, error) {
	run.Progress(notify.ChannelTranscript, notify.StepTranscriptionStarted, "Recognizing speech...")

	result, err := t.transcribe(ctx, clip)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		t.logger.Error("transcription failed", slog.String("run_id", run.ID()), slogError(err))
		run.Failure(notify.ChannelTranscript, notify.StepTranscriptionFailed, err)
		return Result{}, err
	}

	t.logger.Debug("transcription complete",
		slog.String("run_id", run.ID()),
		slog.String("language", result.Language),
		slog.String("text", result.Text),
	)
	run.Emit(notify.KindTranscript, notify.ChannelTranscript, notify.StepTranscriptionResult, "Transcript: "+result.Text)
	return result, nil
}

func (t *Transcriber) transcribe(ctx context.Context, clip audio.Clip) (Result, error) {
	if clip.Path == "" {
		return Result{}, &TranscriptionError{Err: errors.New("clip has no backing file")}
	}
	samples, format, err := audio.ReadClip(clip.Path)
	if err != nil {
		return Result{}, &TranscriptionError{Path: clip.Path, Err: err}
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	out, err := t.engine.Transcribe(ctx, Input{Path: clip.Path, Samples: samples, SampleRate: format.SampleRate})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		return Result{}, &TranscriptionError{Path: clip.Path, Err: err}
	}
	return Result{Text: out.Text, Language: out.Language, Clip: clip}, nil
}

// Close releases the engine.
func (t *Transcriber) Close() error {
	if t.engine == nil {
		return nil
	}
	return t.engine.Close()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
