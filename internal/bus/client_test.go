package bus_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/podcraft/internal/bus"
	"github.com/loqalabs/podcraft/internal/config"
	"github.com/loqalabs/podcraft/internal/natsserver"
	"github.com/loqalabs/podcraft/internal/protocol"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Bus
	cfg.Enabled = true
	cfg.Embedded = true
	cfg.Port = -1
	cfg.StoreDir = t.TempDir()

	srv, err := natsserver.Start(cfg, log)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestStartDisabledReturnsNil(t *testing.T) {
	srv, err := natsserver.Start(config.Default().Bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil || srv != nil {
		t.Fatalf("expected no server when the bus is disabled, got %v %v", srv, err)
	}
	srv.Shutdown()
	if srv.ClientURL() != "" {
		t.Fatal("nil server has no url")
	}
}

func TestPublishJSON(t *testing.T) {
	client := startBus(t)
	if !client.Healthy() {
		t.Fatal("client should be connected")
	}

	msgs := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectFlags, msgs)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	update := protocol.FlagUpdate{Flags: protocol.Flags{ScriptAvailable: true}, Timestamp: time.Now().UTC()}
	if err := client.PublishJSON(protocol.SubjectFlags, update); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-msgs:
		if string(msg.Data) == "" {
			t.Fatal("empty payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRequestJSON(t *testing.T) {
	client := startBus(t)
	sub, err := client.Conn().Subscribe(protocol.SubjectControl, func(msg *nats.Msg) {
		_ = msg.Respond([]byte(`{"action":"interrupt","ok":false,"code":"no_running_job"}`))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var reply protocol.ControlReply
	if err := client.RequestJSON(ctx, protocol.SubjectControl, protocol.ControlRequest{Action: protocol.ActionInterrupt}, &reply); err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.OK || reply.Code != "no_running_job" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestEnsureStreamIsIdempotent(t *testing.T) {
	client := startBus(t)
	subjects := []string{protocol.SubjectJobEventPrefix + ".>"}
	for i := 0; i < 2; i++ {
		if err := client.EnsureStream("PODCRAFT_JOBS", subjects, time.Hour); err != nil {
			t.Fatalf("ensure stream (pass %d): %v", i, err)
		}
	}
	info, err := client.JetStream().StreamInfo("PODCRAFT_JOBS")
	if err != nil {
		t.Fatal(err)
	}
	if info.Config.Subjects[0] != subjects[0] {
		t.Fatalf("unexpected subjects: %v", info.Config.Subjects)
	}
}
