package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/notify"
)

// captureGrace bounds how long past the requested duration the recorder
// keeps waiting for a slow device.
const captureGrace = time.Second

// Recorder captures fixed-duration clips from a Device.
type Recorder struct {
	device          Device
	format          Format
	framesPerBuffer int
	tempDir         string
	grace           time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

func NewRecorder(device Device, cfg config.CaptureConfig, logger *slog.Logger) *Recorder {
	framesPerBuffer := cfg.FramesPerBuffer
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	return &Recorder{
		device:          device,
		format:          ClipFormat,
		framesPerBuffer: framesPerBuffer,
		tempDir:         cfg.TempDir,
		grace:           captureGrace,
		logger:          logger.With(slog.String("component", "recorder")),
		now:             time.Now,
	}
}

// Record blocks for duration while capturing, then writes the clip to a
// temp file. Cancellation of ctx is checked between device buffers.
func (r *Recorder) Record(ctx context.Context, duration time.Duration, run *notify.Run) (Clip, error) {
	if duration <= 0 {
		return Clip{}, fmt.Errorf("capture duration must be positive, got %s", duration)
	}

	run.Progress(notify.ChannelTranscript, notify.StepRecordingStarted, "Recording...")
	r.logger.Info("recording audio", slog.String("run_id", run.ID()), slog.Duration("duration", duration))

	samples, err := r.capture(ctx, duration)
	if err == nil {
		var clip Clip
		clip, err = WriteClip(r.tempDir, samples, r.format)
		if err == nil {
			r.logger.Debug("clip written", slog.String("path", clip.Path), slog.Int("frames", clip.Frames))
			run.Progress(notify.ChannelTranscript, notify.StepRecordingComplete, "Recording complete")
			return clip, nil
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Clip{}, err
	}
	r.logger.Error("recording failed", slog.String("run_id", run.ID()), slogError(err))
	run.Failure(notify.ChannelTranscript, notify.StepRecordingFailed, fmt.Errorf("recording error: %w", err))
	return Clip{}, err
}

func (r *Recorder) capture(ctx context.Context, duration time.Duration) ([]int16, error) {
	target := int(duration.Seconds()*float64(r.format.SampleRate)) * r.format.Channels
	if target <= 0 {
		target = r.format.Channels
	}

	stream, err := r.device.Open(ctx, r.format, r.framesPerBuffer)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}
	defer func() {
		if err := stream.Close(); err != nil {
			r.logger.Warn("closing capture stream failed", slogError(err))
		}
	}()

	samples := make([]int16, 0, target)
	buf := make([]int16, r.framesPerBuffer*r.format.Channels)
	deadline := r.now().Add(duration + r.grace)
	overflows := 0

	for len(samples) < target {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.now().After(deadline) {
			break
		}
		n, err := stream.Read(buf)
		if err != nil {
			if !errors.Is(err, ErrInputOverflow) {
				return nil, &DeviceError{Op: "read", Err: err}
			}
			overflows++
		}
		samples = append(samples, buf[:n]...)
	}

	if overflows > 0 {
		r.logger.Warn("input overflow during capture", slog.Int("count", overflows))
	}
	if len(samples) == 0 {
		return nil, &EmptyCaptureError{Duration: duration}
	}
	if len(samples) < target {
		r.logger.Warn("capture ended short of requested duration",
			slog.Int("samples", len(samples)), slog.Int("target", target))
	}
	if len(samples) > target {
		samples = samples[:target]
	}
	return samples, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
