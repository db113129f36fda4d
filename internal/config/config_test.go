package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.SampleRate != 16000 || cfg.Capture.Channels != 1 {
		t.Fatalf("unexpected capture format: %+v", cfg.Capture)
	}
	if cfg.Translation.APIKeyEnv != "OPENROUTER_API_KEY" {
		t.Fatalf("expected default api key env, got %q", cfg.Translation.APIKeyEnv)
	}
	if cfg.Translation.DefaultLanguage != "ja" {
		t.Fatalf("expected default language ja, got %q", cfg.Translation.DefaultLanguage)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-translate.yaml")
	yaml := `capture:
  mode: silence
  duration_seconds: 1.5
stt:
  mode: mock
translation:
  mode: mock
  default_language: de
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Capture.Mode != "silence" || cfg.Capture.DurationSeconds != 1.5 {
		t.Fatalf("capture not loaded: %+v", cfg.Capture)
	}
	if cfg.Capture.FramesPerBuffer != 1024 {
		t.Fatalf("expected default frames per buffer to survive, got %d", cfg.Capture.FramesPerBuffer)
	}
	if cfg.Translation.DefaultLanguage != "de" {
		t.Fatalf("expected de, got %q", cfg.Translation.DefaultLanguage)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_EMBEDDED", "false")
	t.Setenv("LOQA_NODE_ID", "desk-1")
	t.Setenv("LOQA_CAPTURE_MODE", "bus")
	t.Setenv("LOQA_CAPTURE_DURATION_SECONDS", "2.5")
	t.Setenv("LOQA_STT_MODE", "exec")
	t.Setenv("LOQA_STT_COMMAND", "whisper-cli --json")
	t.Setenv("LOQA_TRANSLATION_MODEL", "openai/gpt-4o-mini")
	t.Setenv("LOQA_TRANSLATION_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_MAX_RUNS", "12")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Node.ID != "desk-1" {
		t.Fatalf("expected node id override")
	}
	if cfg.Capture.Mode != "bus" || cfg.Capture.DurationSeconds != 2.5 {
		t.Fatalf("expected capture overrides, got %+v", cfg.Capture)
	}
	if cfg.STT.Command != "whisper-cli --json" {
		t.Fatalf("expected stt command override")
	}
	if cfg.Translation.Model != "openai/gpt-4o-mini" || cfg.Translation.TimeoutMS != 5000 {
		t.Fatalf("expected translation overrides, got %+v", cfg.Translation)
	}
	if cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.MaxRuns != 12 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
}

func TestValidateRejectsFormatChange(t *testing.T) {
	t.Setenv("LOQA_CAPTURE_SAMPLE_RATE", "44100")
	if _, err := Load(""); err == nil {
		t.Fatal("expected sample rate validation error")
	}
}

func TestValidateBusCaptureNeedsBus(t *testing.T) {
	t.Setenv("LOQA_CAPTURE_MODE", "bus")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when bus capture is used without bus")
	}
}

func TestValidateExecModesNeedCommand(t *testing.T) {
	t.Setenv("LOQA_TRANSLATION_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec translation without command")
	}
}

func TestTelemetryLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"":      slog.LevelInfo,
		"noisy": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (TelemetryConfig{LogLevel: in}).Level(); got != want {
			t.Fatalf("level %q: expected %v, got %v", in, want, got)
		}
	}
}
