package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/natsserver"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func connectTestClient(t *testing.T) *Client {
	t.Helper()
	srv, err := natsserver.StartEphemeral(newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg := config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}
	client, err := Connect(context.Background(), cfg, "bus-test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, "", newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestRequestJSONRoundTrip(t *testing.T) {
	client := connectTestClient(t)
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}

	_, err := client.Conn().Subscribe("echo", func(msg *nats.Msg) {
		var in map[string]string
		_ = json.Unmarshal(msg.Data, &in)
		out, _ := json.Marshal(map[string]string{"echo": in["value"]})
		_ = msg.Respond(out)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var reply map[string]string
	if err := client.RequestJSON(ctx, "echo", map[string]string{"value": "hi"}, &reply); err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply["echo"] != "hi" {
		t.Fatalf("unexpected reply %v", reply)
	}
}
