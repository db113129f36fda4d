package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/notify"
	"github.com/loqalabs/loqa-translate/internal/protocol"
	"github.com/loqalabs/loqa-translate/internal/stt"
	"github.com/nats-io/nats-server/v2/server"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Capture.Mode = "silence"
	cfg.Capture.DurationSeconds = 0.2
	cfg.Capture.TempDir = t.TempDir()
	cfg.Bus.Enabled = false
	cfg.STT.Mode = "mock"
	cfg.Translation.Mode = "mock"
	cfg.EventStore.RetentionMode = "session"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	return cfg
}

func startRuntime(t *testing.T, cfg config.Config, observers ...notify.Observer) (*Runtime, *httptest.Server) {
	t.Helper()
	r := New(cfg, newLogger(), observers...)
	if err := r.setup(context.Background()); err != nil {
		r.shutdown()
		t.Fatalf("setup: %v", err)
	}
	srv := httptest.NewServer(r.handler())
	t.Cleanup(func() {
		srv.Close()
		r.shutdown()
	})
	return r, srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

func post(t *testing.T, url string) (int, stateResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode, body
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHTTPRunLifecycle(t *testing.T) {
	_, srv := startRuntime(t, testConfig(t))

	code, body := post(t, srv.URL+"/v1/start?lang=fr")
	if code != http.StatusBadRequest || !strings.Contains(body.Error, `unsupported language "fr"`) || body.State != "idle" {
		t.Fatalf("unknown language must be rejected before a run, got %d %+v", code, body)
	}

	code, body = post(t, srv.URL+"/v1/start?lang=de")
	if code != http.StatusAccepted || body.RunID == "" {
		t.Fatalf("unexpected start response %d %+v", code, body)
	}
	runID := body.RunID

	if code, _ := post(t, srv.URL+"/v1/start"); code != http.StatusConflict {
		t.Fatalf("expected conflict for second start, got %d", code)
	}

	waitFor(t, func() bool {
		var st stateResponse
		getJSON(t, srv.URL+"/v1/state", &st)
		return st.State == "idle"
	})

	var events eventsResponse
	getJSON(t, srv.URL+"/v1/events?since=0", &events)
	var steps []string
	for _, rec := range events.Events {
		if rec.RunID == runID {
			steps = append(steps, string(rec.Step))
		}
	}
	joined := strings.Join(steps, ",")
	if !strings.HasSuffix(joined, "translation.started,translation.result") {
		t.Fatalf("unexpected steps %s", joined)
	}
	if events.Cursor != events.Events[len(events.Events)-1].Cursor {
		t.Fatalf("cursor should point at the last record")
	}

	var later eventsResponse
	getJSON(t, srv.URL+"/v1/events?since="+strconv.FormatInt(events.Cursor, 10), &later)
	if len(later.Events) != 0 {
		t.Fatalf("expected no events past the cursor, got %d", len(later.Events))
	}

	waitFor(t, func() bool {
		var persisted struct {
			Events []notify.Event `json:"events"`
		}
		getJSON(t, srv.URL+"/v1/runs/"+runID+"/events", &persisted)
		return len(persisted.Events) == len(steps)
	})

	if code, _ := post(t, srv.URL+"/v1/stop"); code != http.StatusConflict {
		t.Fatalf("expected conflict when stopping an idle pipeline, got %d", code)
	}
}

func TestHTTPStopCancelsRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.DurationSeconds = 30
	r, srv := startRuntime(t, cfg)

	if code, _ := post(t, srv.URL+"/v1/start"); code != http.StatusAccepted {
		t.Fatalf("start failed with %d", code)
	}
	if code, _ := post(t, srv.URL+"/v1/stop"); code != http.StatusAccepted {
		t.Fatalf("stop failed with %d", code)
	}
	done := make(chan struct{})
	go func() {
		r.Controller().Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestMissingCredentialRefusesRuns(t *testing.T) {
	t.Setenv("LOQA_TEST_MISSING_KEY", "")
	cfg := testConfig(t)
	cfg.Translation.Mode = "openai"
	cfg.Translation.APIKeyEnv = "LOQA_TEST_MISSING_KEY"
	_, srv := startRuntime(t, cfg)

	code, body := post(t, srv.URL+"/v1/start?lang=ja")
	if code != http.StatusServiceUnavailable || body.Available {
		t.Fatalf("unexpected response %d %+v", code, body)
	}
	if !strings.Contains(body.Error, "LOQA_TEST_MISSING_KEY") {
		t.Fatalf("error should name the missing variable, got %q", body.Error)
	}
	if strings.Join(body.Languages, ",") != "de,en,ja" {
		t.Fatalf("unexpected languages %v", body.Languages)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	_, srv := startRuntime(t, testConfig(t))

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("runtime not started through Start should not be ready, got %d", resp.StatusCode)
	}
}

func TestBusSurface(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = server.RANDOM_PORT
	cfg.Node.HeartbeatInterval = 50
	r, srv := startRuntime(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var reply protocol.ControlReply
	if err := r.bus.RequestJSON(ctx, protocol.SubjectControl, protocol.ControlRequest{Action: protocol.ActionState}, &reply); err != nil {
		t.Fatalf("control request: %v", err)
	}
	if !reply.OK || reply.State != "idle" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	waitFor(t, func() bool {
		var nodes struct {
			Nodes []struct {
				Status  protocol.Status `json:"status"`
				Healthy bool            `json:"healthy"`
			} `json:"nodes"`
		}
		getJSON(t, srv.URL+"/v1/nodes", &nodes)
		return len(nodes.Nodes) == 1 && nodes.Nodes[0].Status.NodeID == cfg.Node.ID
	})
}

func TestSetupNamesMissingBuildTags(t *testing.T) {
	if audio.PortAudioSupported && stt.WhisperSupported {
		t.Skip("binary built with both cgo backends")
	}
	cfg := testConfig(t)
	cfg.Capture.Mode = "portaudio"
	cfg.STT.Mode = "whisper"

	r := New(cfg, newLogger())
	err := r.setup(context.Background())
	r.shutdown()
	if err == nil {
		t.Fatal("expected setup to refuse modes that were not compiled in")
	}
	for _, tag := range []string{"portaudio", "whisper_cpp"} {
		supported := (tag == "portaudio" && audio.PortAudioSupported) || (tag == "whisper_cpp" && stt.WhisperSupported)
		if !supported && !strings.Contains(err.Error(), tag) {
			t.Fatalf("error should name tag %s: %v", tag, err)
		}
	}
	if !strings.Contains(err.Error(), "-tags") {
		t.Fatalf("error should explain how to rebuild: %v", err)
	}
	if r.store != nil || r.controller != nil {
		t.Fatal("no component should be built before the tag check")
	}
}

func TestCheckBuildTagsAcceptsPortableModes(t *testing.T) {
	if err := checkBuildTags(testConfig(t)); err != nil {
		t.Fatalf("silence capture and mock stt need no tags: %v", err)
	}
}
