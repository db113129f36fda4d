package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/notify"
	"github.com/loqalabs/loqa-translate/internal/stt"
	"github.com/loqalabs/loqa-translate/internal/translate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-translate/internal/pipeline"

type Recorder interface {
	Record(ctx context.Context, duration time.Duration, run *notify.Run) (audio.Clip, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, clip audio.Clip, run *notify.Run) (stt.Result, error)
}

type Translator interface {
	Translate(ctx context.Context, text, lang string, run *notify.Run) (translate.Result, error)
}

// Options wires a Controller. Translator may be nil only when
// TranslatorErr explains why; the controller then refuses every Start.
type Options struct {
	Recorder        Recorder
	Transcriber     Transcriber
	Translator      Translator
	TranslatorErr   error
	Observer        notify.Observer
	State           *StateMachine
	Duration        time.Duration
	DefaultLanguage string
	KeepClips       bool
	Logger          *slog.Logger
}

// Controller runs record, transcribe, translate as one run on a worker
// goroutine. At most one run is in flight.
type Controller struct {
	recorder    Recorder
	transcriber Transcriber
	translator  Translator
	unavailable error
	observer    notify.Observer
	state       *StateMachine
	duration    time.Duration
	defaultLang string
	keepClips   bool
	logger      *slog.Logger

	// mu orders Start's worker registration against Close.
	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tracer     trace.Tracer
	runs       metric.Int64Counter
	phaseTimes metric.Float64Histogram
}

func New(opts Options) (*Controller, error) {
	if opts.Recorder == nil {
		return nil, errors.New("pipeline requires a recorder")
	}
	if opts.Transcriber == nil {
		return nil, errors.New("pipeline requires a transcriber")
	}
	if opts.Translator == nil && opts.TranslatorErr == nil {
		return nil, errors.New("pipeline requires a translator")
	}
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("capture duration must be positive, got %s", opts.Duration)
	}
	if opts.Observer == nil {
		opts.Observer = notify.Discard
	}
	if opts.State == nil {
		opts.State = NewStateMachine()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	meter := otel.Meter(instrumentationName)
	runs, err := meter.Int64Counter("loqa.translate.runs",
		metric.WithDescription("Completed pipeline runs by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create runs counter: %w", err)
	}
	phaseTimes, err := meter.Float64Histogram("loqa.translate.phase.duration_ms",
		metric.WithDescription("Duration of each pipeline phase"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create phase histogram: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		recorder:    opts.Recorder,
		transcriber: opts.Transcriber,
		translator:  opts.Translator,
		observer:    opts.Observer,
		state:       opts.State,
		duration:    opts.Duration,
		defaultLang: opts.DefaultLanguage,
		keepClips:   opts.KeepClips,
		logger:      opts.Logger.With(slog.String("component", "pipeline")),
		ctx:         ctx,
		cancel:      cancel,
		tracer:      otel.Tracer(instrumentationName),
		runs:        runs,
		phaseTimes:  phaseTimes,
	}
	if opts.Translator == nil {
		c.unavailable = opts.TranslatorErr
	}
	return c, nil
}

// Start launches a run translating into lang (the default language when
// empty) and returns its ID without waiting for it. A rejected attempt
// reports on its own run ID and never touches the stream of the run in
// flight.
func (c *Controller) Start(lang string) (string, error) {
	if lang == "" {
		lang = c.defaultLang
	}
	runID := uuid.NewString()
	emitter := notify.NewRun(runID, c.observer)

	if c.unavailable != nil {
		c.logger.Warn("start rejected, translator unavailable", slogError(c.unavailable))
		emitter.Failure(notify.ChannelTranslation, notify.StepPipelineUnavailable, c.unavailable)
		return "", c.unavailable
	}

	active, err := c.launch(runID, emitter, lang)
	switch {
	case errors.Is(err, ErrBusy):
		c.logger.Info("start rejected, run in progress", slog.String("active_run_id", active.id))
		emitter.Progress(notify.ChannelTranscript, notify.StepPipelineBusy, "Already recording")
		return "", err
	case err != nil:
		return "", err
	}
	c.logger.Info("run started", slog.String("run_id", runID), slog.String("language", lang))
	return runID, nil
}

// launch claims the run slot and registers the worker under mu, so Close
// never waits on a group that is about to grow.
func (c *Controller) launch(runID string, emitter *notify.Run, lang string) (*activeRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(c.ctx)
	active, err := c.state.begin(runID, emitter, cancel)
	if err != nil {
		cancel()
		return active, err
	}
	c.wg.Add(1)
	go c.work(ctx, active, lang)
	return active, nil
}

// Stop cancels the run in flight. The state returns to Idle when its worker
// exits; a phase that cannot be interrupted finishes first.
func (c *Controller) Stop() error {
	active, first, err := c.state.cancel()
	if err != nil {
		return err
	}
	if first {
		c.logger.Info("run stop requested", slog.String("run_id", active.id))
		active.emitter.Progress(notify.ChannelTranscript, notify.StepPipelineStopped, "Recording stopped")
	}
	return nil
}

func (c *Controller) State() State { return c.state.State() }

// Snapshot returns the state and the in-flight run ID.
func (c *Controller) Snapshot() (State, string) { return c.state.Snapshot() }

// Available reports the configuration error that blocks every run, if any.
func (c *Controller) Available() error { return c.unavailable }

// Wait blocks until no run is in flight.
func (c *Controller) Wait() {
	<-c.state.Done()
}

// Close cancels any run and waits for its worker, or gives up when ctx ends.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.cancel()
	c.mu.Unlock()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) work(ctx context.Context, active *activeRun, lang string) {
	defer c.wg.Done()
	defer active.cancel()

	run := active.emitter
	logger := c.logger.With(slog.String("run_id", active.id))
	ctx, span := c.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", active.id),
		attribute.String("run.language", lang),
	))

	outcome := "failed"
	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			run.Failure(notify.ChannelTranscript, notify.StepPipelinePanic, fmt.Errorf("internal error: %v", r))
			span.SetStatus(codes.Error, "panic")
			outcome = "panic"
		}
		span.SetAttributes(attribute.String("run.outcome", outcome))
		span.End()
		c.runs.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		c.state.finish(active.id)
		logger.Info("run finished", slog.String("outcome", outcome))
	}()

	run.Progress(notify.ChannelTranscript, notify.StepPipelineStarted, "Processing...")

	err := c.execute(ctx, run, lang)
	switch {
	case err == nil:
		outcome = "completed"
	case errors.Is(err, ErrCancelled):
		outcome = "cancelled"
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// execute runs the phases in order. A failing phase has already emitted its
// error event; later phases are skipped.
func (c *Controller) execute(ctx context.Context, run *notify.Run, lang string) error {
	if err := checkpoint(ctx); err != nil {
		return err
	}
	var clip audio.Clip
	err := c.phase(ctx, "record", func(ctx context.Context) error {
		var err error
		clip, err = c.recorder.Record(ctx, c.duration, run)
		return err
	})
	if err != nil {
		return cancelled(ctx, err)
	}
	if clip.Path == "" {
		err := &audio.StorageError{Op: "record", Err: errors.New("recorder returned no clip file")}
		run.Failure(notify.ChannelTranscript, notify.StepRecordingFailed, fmt.Errorf("recording error: %w", err))
		return err
	}
	defer c.releaseClip(clip)

	if err := checkpoint(ctx); err != nil {
		return err
	}
	var transcript stt.Result
	err = c.phase(ctx, "transcribe", func(ctx context.Context) error {
		var err error
		transcript, err = c.transcriber.Transcribe(ctx, clip, run)
		return err
	})
	if err != nil {
		return cancelled(ctx, err)
	}
	c.releaseClip(clip)

	if err := checkpoint(ctx); err != nil {
		return err
	}
	err = c.phase(ctx, "translate", func(ctx context.Context) error {
		_, err := c.translator.Translate(ctx, transcript.Text, lang, run)
		return err
	})
	return cancelled(ctx, err)
}

func (c *Controller) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	c.phaseTimes.Record(context.Background(), float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("phase", name)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// releaseClip deletes the clip file unless clips are kept. It is safe to
// call more than once.
func (c *Controller) releaseClip(clip audio.Clip) {
	if c.keepClips {
		return
	}
	if err := clip.Remove(); err != nil {
		c.logger.Warn("removing clip failed", slog.String("path", clip.Path), slogError(err))
	}
}

func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// cancelled maps a phase error caused by cancellation to ErrCancelled.
func cancelled(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
