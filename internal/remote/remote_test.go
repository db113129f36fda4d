package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/natsserver"
	"github.com/loqalabs/loqa-translate/internal/notify"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/protocol"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func connect(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.StartEphemeral(newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, "remote-test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

type fakeController struct {
	mu      sync.Mutex
	running string
	lang    string
}

func (f *fakeController) Start(lang string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running != "" {
		return "", pipeline.ErrBusy
	}
	f.running = "run-1"
	f.lang = lang
	return f.running, nil
}

func (f *fakeController) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running == "" {
		return pipeline.ErrNotRunning
	}
	f.running = ""
	return nil
}

func (f *fakeController) Snapshot() (pipeline.State, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running == "" {
		return pipeline.Idle, ""
	}
	return pipeline.Recording, f.running
}

func request(t *testing.T, client *bus.Client, req protocol.ControlRequest) protocol.ControlReply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var reply protocol.ControlReply
	if err := client.RequestJSON(ctx, protocol.SubjectControl, req, &reply); err != nil {
		t.Fatalf("request %s: %v", req.Action, err)
	}
	return reply
}

func TestControlService(t *testing.T) {
	client := connect(t)
	ctrl := &fakeController{}
	svc := NewService(client, ctrl, []string{"de", "en", "ja"}, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected healthy service")
	}

	reply := request(t, client, protocol.ControlRequest{Action: protocol.ActionStart, Language: "de"})
	if !reply.OK || reply.RunID != "run-1" || reply.State != "recording" {
		t.Fatalf("unexpected start reply %+v", reply)
	}
	ctrl.mu.Lock()
	lang := ctrl.lang
	ctrl.mu.Unlock()
	if lang != "de" {
		t.Fatalf("language not forwarded, got %q", lang)
	}

	reply = request(t, client, protocol.ControlRequest{Action: protocol.ActionStart, Language: "fr"})
	if reply.OK || !strings.Contains(reply.Error, `unsupported language "fr"`) || reply.RunID != "run-1" {
		t.Fatalf("unexpected reply for unsupported language %+v", reply)
	}

	reply = request(t, client, protocol.ControlRequest{Action: protocol.ActionStart})
	if reply.OK || reply.Error != pipeline.ErrBusy.Error() || reply.RunID != "run-1" {
		t.Fatalf("unexpected busy reply %+v", reply)
	}

	reply = request(t, client, protocol.ControlRequest{Action: protocol.ActionStop})
	if !reply.OK || reply.State != "idle" {
		t.Fatalf("unexpected stop reply %+v", reply)
	}

	reply = request(t, client, protocol.ControlRequest{Action: "rewind"})
	if reply.OK || reply.Error == "" {
		t.Fatalf("expected error for unknown action, got %+v", reply)
	}
}

func TestPublisherMirrorsEvents(t *testing.T) {
	client := connect(t)
	received := make(chan protocol.PipelineEvent, 4)
	sub, err := client.Conn().Subscribe(protocol.SubjectEventPrefix+".>", func(msg *nats.Msg) {
		var evt protocol.PipelineEvent
		if err := json.Unmarshal(msg.Data, &evt); err == nil {
			received <- evt
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	run := notify.NewRun("run-9", NewPublisher(client, "node-a", newLogger()))
	run.Progress(notify.ChannelTranscript, notify.StepRecordingStarted, "Recording...")
	run.Failure(notify.ChannelTranscript, notify.StepRecordingFailed, errors.New("no device"))

	for i, want := range []string{"recording.started", "recording.error"} {
		select {
		case evt := <-received:
			if evt.Step != want || evt.RunID != "run-9" || evt.NodeID != "node-a" || evt.Seq != int64(i+1) {
				t.Fatalf("unexpected event %+v", evt)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
