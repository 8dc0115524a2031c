package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"roomchat/internal/storage"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.DBPath = filepath.Join(dir, "data", "roomchat.db")
	cfg.Server.UploadDir = filepath.Join(dir, "uploads")
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Logging.Level = "disabled"
	cfg.Auth.TokenSecret = "0123456789abcdef0123456789abcdef"
	return cfg
}

func TestRunServerServesAndStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.Relay.UnifiedSend = true
	handle, err := RunServer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("RunServer: %v", err)
	}

	resp, err := http.Get("http://" + handle.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	var health struct {
		Status      string `json:"status"`
		UnifiedSend bool   `json:"unifiedSend"`
	}
	err = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK || health.Status != "ok" || !health.UnifiedSend {
		t.Fatalf("healthz = %d %+v %v", resp.StatusCode, health, err)
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+handle.Addr()+cfg.Relay.Path, nil)
	if err != nil {
		t.Fatalf("dial live: %v", err)
	}
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := handle.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := handle.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// The hub closes live connections on shutdown.
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("expected the live connection to be closed")
	}
	if _, err := http.Get("http://" + handle.Addr() + "/healthz"); err == nil {
		t.Fatal("expected the listener to be closed")
	}
}

func TestRunServerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handle, err := RunServer(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("RunServer: %v", err)
	}
	cancel()
	done := make(chan error, 1)
	go func() { done <- handle.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after context cancel")
	}
}

func TestRunServerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chat.LogBound = 0
	if _, err := RunServer(context.Background(), cfg); err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestSessionSweeperPurgesExpiredSessions(t *testing.T) {
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "sweep.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	userID, err := store.CreateUser(ctx, "alice", "", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.CreateSession(ctx, userID, "stale", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.CreateSession(ctx, userID, "fresh", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	sweeper := &sessionSweeper{store: store, interval: 10 * time.Millisecond}
	if err := sweeper.Serve(runCtx); err != context.DeadlineExceeded {
		t.Fatalf("Serve returned %v", err)
	}

	if n, err := store.PurgeExpiredSessions(ctx, time.Now()); err != nil || n != 0 {
		t.Fatalf("sweeper left %d expired sessions (%v)", n, err)
	}
	if sess, err := store.GetSession(ctx, "fresh"); err != nil || sess == nil {
		t.Fatalf("fresh session = %+v, %v", sess, err)
	}
}

func TestClientOptionsFromConfig(t *testing.T) {
	t.Setenv("ROOMCHAT_DATA_DIR", t.TempDir())
	cfg := DefaultConfig()
	cfg.Client = ClientConfig{ServerURL: "http://chat.test", Username: "alice", Room: "lobby"}
	cfg.Relay.Path = "stream"
	opts := clientOptions(cfg)
	if opts.ServerURL != "http://chat.test" || opts.LivePath != "/stream" || opts.Room != "lobby" || opts.Username != "alice" {
		t.Fatalf("options = %+v", opts)
	}
	if filepath.Base(opts.SessionPath) != "session.json" {
		t.Fatalf("session path = %q", opts.SessionPath)
	}
}
