package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Traces       bool   `yaml:"traces"`
}

// Level maps log_level onto a slog level, defaulting to info.
func (t TelemetryConfig) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(t.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
	// History is the number of notification events kept for GET /v1/events.
	History int `yaml:"history"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Node        NodeConfig        `yaml:"node"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	Capture     CaptureConfig     `yaml:"capture"`
	STT         STTConfig         `yaml:"stt"`
	Translation TranslationConfig `yaml:"translation"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type CaptureConfig struct {
	Mode            string  `yaml:"mode"` // portaudio, bus, silence
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	DurationSeconds float64 `yaml:"duration_seconds"`
	FramesPerBuffer int     `yaml:"frames_per_buffer"`
	BusSource       string  `yaml:"bus_source"`
	TempDir         string  `yaml:"temp_dir"`
	KeepClips       bool    `yaml:"keep_clips"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // whisper, exec, mock
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	Threads   int    `yaml:"threads"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TranslationConfig struct {
	Mode            string `yaml:"mode"` // openai, exec, mock
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	APIKeyEnv       string `yaml:"api_key_env"`
	Command         string `yaml:"command"`
	DefaultLanguage string `yaml:"default_language"`
	TimeoutMS       int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-translate",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8085,
			History: 500,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-translate-1",
			HeartbeatInterval: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-translate.db",
			RetentionMode: "ephemeral",
			RetentionDays: 7,
			MaxRuns:       1000,
		},
		Capture: CaptureConfig{
			Mode:            "portaudio",
			SampleRate:      16000,
			Channels:        1,
			DurationSeconds: 5,
			FramesPerBuffer: 1024,
			BusSource:       "mic",
		},
		STT: STTConfig{
			Mode:      "whisper",
			ModelPath: "./models/ggml-base.bin",
			Language:  "auto",
			TimeoutMS: 120000,
		},
		Translation: TranslationConfig{
			Mode:            "openai",
			BaseURL:         "https://openrouter.ai/api/v1",
			Model:           "gpt-3.5-turbo",
			APIKeyEnv:       "OPENROUTER_API_KEY",
			DefaultLanguage: "ja",
			TimeoutMS:       30000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideInt(&cfg.HTTP.History, "LOQA_HTTP_HISTORY")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Traces, "LOQA_TELEMETRY_TRACES")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "LOQA_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Capture.Mode, "LOQA_CAPTURE_MODE")
	overrideInt(&cfg.Capture.SampleRate, "LOQA_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "LOQA_CAPTURE_CHANNELS")
	overrideFloat(&cfg.Capture.DurationSeconds, "LOQA_CAPTURE_DURATION_SECONDS")
	overrideInt(&cfg.Capture.FramesPerBuffer, "LOQA_CAPTURE_FRAMES_PER_BUFFER")
	overrideString(&cfg.Capture.BusSource, "LOQA_CAPTURE_BUS_SOURCE")
	overrideString(&cfg.Capture.TempDir, "LOQA_CAPTURE_TEMP_DIR")
	overrideBool(&cfg.Capture.KeepClips, "LOQA_CAPTURE_KEEP_CLIPS")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideInt(&cfg.STT.Threads, "LOQA_STT_THREADS")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_STT_TIMEOUT_MS")
	overrideString(&cfg.Translation.Mode, "LOQA_TRANSLATION_MODE")
	overrideString(&cfg.Translation.BaseURL, "LOQA_TRANSLATION_BASE_URL")
	overrideString(&cfg.Translation.Model, "LOQA_TRANSLATION_MODEL")
	overrideString(&cfg.Translation.APIKeyEnv, "LOQA_TRANSLATION_API_KEY_ENV")
	overrideString(&cfg.Translation.Command, "LOQA_TRANSLATION_COMMAND")
	overrideString(&cfg.Translation.DefaultLanguage, "LOQA_TRANSLATION_DEFAULT_LANGUAGE")
	overrideInt(&cfg.Translation.TimeoutMS, "LOQA_TRANSLATION_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}

	switch cfg.Capture.Mode {
	case "portaudio", "silence":
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("capture.mode=bus requires bus.enabled")
		}
		if cfg.Capture.BusSource == "" {
			return errors.New("capture.bus_source must be set when mode=bus")
		}
	default:
		return errors.New("capture.mode must be one of portaudio|bus|silence")
	}
	// The clip format is fixed; the fields exist so a mismatch is caught early.
	if cfg.Capture.SampleRate != 16000 {
		return errors.New("capture.sample_rate must be 16000")
	}
	if cfg.Capture.Channels != 1 {
		return errors.New("capture.channels must be 1")
	}
	if cfg.Capture.DurationSeconds <= 0 {
		return errors.New("capture.duration_seconds must be positive")
	}
	if cfg.Capture.FramesPerBuffer <= 0 {
		return errors.New("capture.frames_per_buffer must be positive")
	}

	switch cfg.STT.Mode {
	case "whisper":
		if cfg.STT.ModelPath == "" {
			return errors.New("stt.model_path must be set when mode=whisper")
		}
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("stt.mode must be one of whisper|exec|mock")
	}
	if cfg.STT.Threads < 0 {
		return errors.New("stt.threads must be >= 0")
	}

	switch cfg.Translation.Mode {
	case "openai":
		if cfg.Translation.BaseURL == "" {
			return errors.New("translation.base_url must be set when mode=openai")
		}
		if cfg.Translation.APIKeyEnv == "" {
			return errors.New("translation.api_key_env must be set when mode=openai")
		}
	case "exec":
		if cfg.Translation.Command == "" {
			return errors.New("translation.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("translation.mode must be one of openai|exec|mock")
	}
	if cfg.Translation.Model == "" {
		return errors.New("translation.model must not be empty")
	}
	if cfg.Translation.DefaultLanguage == "" {
		return errors.New("translation.default_language must not be empty")
	}
	return nil
}
