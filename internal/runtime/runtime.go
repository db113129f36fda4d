package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/eventstore"
	"github.com/loqalabs/loqa-translate/internal/natsserver"
	"github.com/loqalabs/loqa-translate/internal/notify"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/remote"
	"github.com/loqalabs/loqa-translate/internal/status"
	"github.com/loqalabs/loqa-translate/internal/stt"
	"github.com/loqalabs/loqa-translate/internal/translate"
)

// Runtime wires configuration into a running pipeline with its HTTP and
// bus surfaces.
type Runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	observers []notify.Observer

	httpServer    *http.Server
	metrics       http.Handler
	telemetryStop func(context.Context) error

	nats        *natsserver.EmbeddedServer
	bus         *bus.Client
	store       *eventstore.Store
	storeWriter *eventstore.Recorder
	transcriber *stt.Transcriber
	controller  *pipeline.Controller
	history     *notify.Buffer
	prompts     translate.PromptTable
	remote      *remote.Service
	announcer   atomic.Pointer[status.Announcer]

	readyCh chan struct{}
	ready   atomic.Bool
	wg      sync.WaitGroup
}

// New prepares a runtime. Extra observers receive every pipeline event in
// addition to the built-in log, history, bus and store observers.
func New(cfg config.Config, logger *slog.Logger, observers ...notify.Observer) *Runtime {
	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		observers: observers,
		readyCh:   make(chan struct{}),
	}
}

// Ready is closed once the controller accepts runs.
func (r *Runtime) Ready() <-chan struct{} { return r.readyCh }

// Controller returns the pipeline controller; valid after Ready.
func (r *Runtime) Controller() *pipeline.Controller { return r.controller }

// Languages returns the target languages with a dedicated prompt.
func (r *Runtime) Languages() []string { return r.prompts.Languages() }

// Start runs until ctx is cancelled, then shuts everything down.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryStop = shutdownTelemetry
	r.metrics = metricHandler

	if err := r.setup(ctx); err != nil {
		r.shutdown()
		return err
	}

	if r.cfg.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
		r.httpServer = &http.Server{
			Addr:              addr,
			Handler:           r.handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Error("http server failed", slogError(err))
			}
		}()
		r.logger.Info("http surface listening", slog.String("addr", addr))
	}

	r.ready.Store(true)
	close(r.readyCh)
	r.logger.Info("runtime started", slog.String("node_id", r.cfg.Node.ID))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.shutdown()
	return nil
}

// setup builds every component in dependency order.
func (r *Runtime) setup(ctx context.Context) error {
	cfg := r.cfg
	if err := checkBuildTags(cfg); err != nil {
		return err
	}

	if cfg.Bus.Enabled {
		ns, err := natsserver.Start(cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		r.nats = ns
		busCfg := cfg.Bus
		if ns != nil {
			busCfg.Servers = []string{ns.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, cfg.Node.ID, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		r.bus = client
	}

	store, err := eventstore.Open(ctx, cfg.EventStore, cfg.Node.ID, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store
	if store.Enabled() {
		r.storeWriter = eventstore.NewRecorder(store)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			_ = r.storeWriter.Run(context.Background())
		}()
	}

	device, err := r.captureDevice()
	if err != nil {
		return err
	}
	recorder := audio.NewRecorder(device, cfg.Capture, r.logger)

	engine, err := stt.NewEngineFromConfig(cfg.STT, r.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize speech engine: %w", err)
	}
	r.transcriber = stt.New(engine, cfg.STT, r.logger)

	var translatorErr error
	var translator pipeline.Translator
	tr, err := translate.New(cfg.Translation, r.logger)
	if err != nil {
		var cfgErr *translate.ConfigurationError
		if !errors.As(err, &cfgErr) {
			return fmt.Errorf("failed to initialize translator: %w", err)
		}
		r.logger.Error("translation unavailable, runs will be refused", slogError(err))
		translatorErr = err
		r.prompts = translate.DefaultPrompts()
	} else {
		translator = tr
		r.prompts = tr.Prompts()
	}

	r.history = notify.NewBuffer(cfg.HTTP.History)
	observers := notify.Fanout{notify.LogObserver(r.logger), r.history}
	if r.storeWriter != nil {
		observers = append(observers, r.storeWriter)
	}
	if r.bus != nil {
		observers = append(observers, remote.NewPublisher(r.bus, cfg.Node.ID, r.logger))
		observers = append(observers, notify.ObserverFunc(func(e notify.Event) {
			if a := r.announcer.Load(); a != nil {
				a.Notify(e)
			}
		}))
	}
	observers = append(observers, r.observers...)

	controller, err := pipeline.New(pipeline.Options{
		Recorder:        recorder,
		Transcriber:     r.transcriber,
		Translator:      translator,
		TranslatorErr:   translatorErr,
		Observer:        observers,
		Duration:        time.Duration(cfg.Capture.DurationSeconds * float64(time.Second)),
		DefaultLanguage: cfg.Translation.DefaultLanguage,
		KeepClips:       cfg.Capture.KeepClips,
		Logger:          r.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	r.controller = controller

	if r.bus != nil {
		r.remote = remote.NewService(r.bus, controller, r.prompts.Languages(), r.logger)
		if err := r.remote.Start(); err != nil {
			return fmt.Errorf("failed to start remote control: %w", err)
		}
		announcer, err := status.NewAnnouncer(ctx, cfg.Node, r.bus, controller, r.prompts.Languages(), r.logger)
		if err != nil {
			return fmt.Errorf("failed to start status announcer: %w", err)
		}
		r.announcer.Store(announcer)
	}
	return nil
}

// checkBuildTags rejects modes whose cgo backends were not compiled in, naming
// every missing tag at once.
func checkBuildTags(cfg config.Config) error {
	var missing, settings []string
	if cfg.Capture.Mode == "portaudio" && !audio.PortAudioSupported {
		missing = append(missing, "portaudio")
		settings = append(settings, "capture.mode=portaudio")
	}
	if cfg.STT.Mode == "whisper" && !stt.WhisperSupported {
		missing = append(missing, "whisper_cpp")
		settings = append(settings, "stt.mode=whisper")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%s requires a binary built with -tags %s; rebuild or pick capture.mode=silence|bus and stt.mode=exec|mock",
		strings.Join(settings, " and "), strings.Join(missing, ","))
}

func (r *Runtime) captureDevice() (audio.Device, error) {
	switch r.cfg.Capture.Mode {
	case "portaudio":
		return audio.NewPortAudioDevice(), nil
	case "bus":
		if r.bus == nil {
			return nil, errors.New("capture.mode=bus requires a bus connection")
		}
		return audio.NewBusDevice(r.bus.Conn(), r.cfg.Capture.BusSource), nil
	case "silence":
		return audio.SilenceDevice{Realtime: true}, nil
	default:
		return nil, fmt.Errorf("unsupported capture mode %q", r.cfg.Capture.Mode)
	}
}

// shutdown releases components in reverse order. It tolerates a partial setup.
func (r *Runtime) shutdown() {
	r.ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	}
	if r.controller != nil {
		if err := r.controller.Close(shutdownCtx); err != nil {
			r.logger.Warn("pipeline did not stop in time", slogError(err))
		}
	}
	if r.remote != nil {
		r.remote.Close()
	}
	if a := r.announcer.Load(); a != nil {
		a.Close()
	}
	if r.storeWriter != nil {
		r.storeWriter.Close()
	}
	r.wg.Wait()

	var errs []error
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	if r.transcriber != nil {
		errs = append(errs, r.transcriber.Close())
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Error("component shutdown error", slogError(err))
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()

	if r.telemetryStop != nil {
		if err := r.telemetryStop(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}
}

func (r *Runtime) healthy() bool {
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	if r.remote != nil && !r.remote.Healthy() {
		return false
	}
	return true
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
