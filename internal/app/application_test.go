package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"campuswire/internal/config"
	"campuswire/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "nested", "app.db")
	cfg.Auth.JWTSecret = "app-test-secret"
	return cfg
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = -1

	if _, err := NewApplication(context.Background(), cfg, nil); err == nil {
		t.Error("Expected invalid configuration to be rejected")
	}
}

func TestNewApplication_BrokerUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Broker.Driver = config.BrokerRedis
	cfg.Broker.RedisAddr = "127.0.0.1:1"

	cfg.Broker.PublishTimeout = 200 * time.Millisecond
	ctx := context.Background()

	application, err := NewApplication(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Expected an unreachable broker to be tolerated, got %v", err)
	}
	if err := application.StartServices(ctx); err != nil {
		t.Fatalf("StartServices failed: %v", err)
	}
	defer func() { _ = application.Stop(ctx) }()

	conn := &recordingConnection{id: "c5"}
	if err := application.hub.Attach(conn); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := application.hub.Join("c5", "course:101"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	event, err := types.NewEvent(types.EventForumUpdate, "course:101", "", types.ForumUpdateFrame{
		Type: types.EventForumUpdate, Message: "update",
	})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if n := application.hub.Broadcast(ctx, event); n != 1 {
		t.Errorf("Expected local delivery while Redis is down, got %d", n)
	}
	if conn.count() != 1 {
		t.Errorf("Expected 1 frame on the local member, got %d", conn.count())
	}
	if stats := application.hub.GetStats(); stats["publish_failures"] != 1 {
		t.Errorf("Expected the relay failure to be counted, got %d", stats["publish_failures"])
	}
}

type recordingConnection struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func (c *recordingConnection) ID() string                    { return c.id }
func (c *recordingConnection) Identity() types.Identity      { return types.Identity{ID: c.id} }
func (c *recordingConnection) WriteJSON(v interface{}) error { return nil }
func (c *recordingConnection) Close() error                  { return nil }

func (c *recordingConnection) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *recordingConnection) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestApplication_Lifecycle(t *testing.T) {
	application, err := NewApplication(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := application.StartServices(context.Background()); err != nil {
		t.Fatalf("StartServices failed: %v", err)
	}

	server := httptest.NewServer(application.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /health, got %d", resp.StatusCode)
	}

	if err := application.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := application.Stop(context.Background()); err != nil {
		t.Errorf("Second Stop should be a no-op, got %v", err)
	}
}

func TestEnsureDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.DatabaseConfig{Driver: "sqlite3", DSN: filepath.Join(dir, "a", "b", "c.db")}
	if err := ensureDataDir(cfg); err != nil {
		t.Fatalf("ensureDataDir failed: %v", err)
	}

	for _, dsn := range []string{":memory:", "file:test.db?mode=memory"} {
		if err := ensureDataDir(&config.DatabaseConfig{Driver: "sqlite3", DSN: dsn}); err != nil {
			t.Errorf("Expected %q to be skipped, got %v", dsn, err)
		}
	}
	if err := ensureDataDir(&config.DatabaseConfig{Driver: "postgres", DSN: "postgres://x"}); err != nil {
		t.Errorf("Expected postgres to be skipped, got %v", err)
	}
}
