package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/barterhub/barterd/internal/bus"
	"github.com/barterhub/barterd/internal/config"
	"github.com/barterhub/barterd/internal/conversation"
	"github.com/barterhub/barterd/internal/httpapi"
	"github.com/barterhub/barterd/internal/lock"
	"github.com/barterhub/barterd/internal/market"
	"github.com/barterhub/barterd/internal/store"
)

// TestDaemonLifecycle wires the daemon's pieces by hand (no fx) and checks
// the HTTP surface comes up and shuts down cleanly.
func TestDaemonLifecycle(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "barterd-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	lk, err := lock.Acquire(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(tmpDir, "barterd.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	cfg := config.Default()
	cfg.Daemon.UserID = "me"
	cfg.Chat.EnableRealTime = false

	b := bus.NewBus()
	backend := market.NewClient("http://127.0.0.1:0", "", nil)
	manager := conversation.NewManager(db, backend, b, zap.NewNop(), cfg)
	defer manager.CloseAll()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	srv := httpapi.NewServer(addr, manager, db, b, zap.NewNop())
	go func() { _ = srv.Start() }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}()

	url := fmt.Sprintf("http://%s/healthz", addr)
	deadline := time.Now().Add(3 * time.Second)
	var resp *http.Response
	for time.Now().Before(deadline) {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("healthz body = %v", body)
	}
}
