package turnstileproxy

import (
	"context"
	"github.com/gorilla/websocket"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestPingLocal(t *testing.T) {
	if err := Ping(context.Background(), DefaultConfig()); err != nil {
		t.Errorf("local mode should always be ready: %v", err)
	}
}

func TestPingRemote(t *testing.T) {
	tokens := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		tokens <- request.URL.Query().Get("token")
		upgrader := websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		}
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Mode = ModeCDP
	cfg.Endpoint = srv.URL // http scheme is rewritten to ws
	cfg.Token = "secret"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Ping(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	if got := <-tokens; got != "secret" {
		t.Errorf("expected token to be sent, got %q", got)
	}
}

func TestPingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	cfg := DefaultConfig()
	cfg.Mode = ModePlaywright
	cfg.Endpoint = strings.Replace(srv.URL, "http://", "ws://", 1)
	cfg.RequireToken = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Ping(ctx, cfg); err == nil {
		t.Error("expected closed endpoint to be unreachable")
	}
}

func TestReadinessReusesOutcome(t *testing.T) {
	var handshakes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		handshakes.Add(1)
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Mode = ModeCDP
	cfg.Endpoint = srv.URL
	cfg.RequireToken = false

	ready := newReadiness(cfg, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := ready.Check(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if got := handshakes.Load(); got != 1 {
		t.Errorf("expected a single handshake, got %d", got)
	}
}

func TestReadinessExpires(t *testing.T) {
	calls := 0
	ready := newReadiness(DefaultConfig(), time.Millisecond)
	ready.ping = func(context.Context, Config) error {
		calls++
		return nil
	}

	_ = ready.Check(context.Background())
	time.Sleep(5 * time.Millisecond)
	_ = ready.Check(context.Background())
	if calls != 2 {
		t.Errorf("expected an expired outcome to be refreshed, got %d dials", calls)
	}
}

func TestReadinessSkipsCancelledCheck(t *testing.T) {
	calls := 0
	ready := newReadiness(DefaultConfig(), time.Minute)
	ready.ping = func(ctx context.Context, _ Config) error {
		calls++
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ready.Check(ctx); err == nil {
		t.Error("expected the cancelled check to fail")
	}
	if err := ready.Check(context.Background()); err != nil {
		t.Errorf("a cancelled check must not be reused: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 dials, got %d", calls)
	}
}
