package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"campuswire/internal/hub"
	"campuswire/internal/presence"
	"campuswire/internal/room"
	"campuswire/internal/router"
	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

// socketPair returns both ends of a live websocket
func socketPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	accepted := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		accepted <- ws
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
	}
	return server, client
}

// tokenAuth treats the token as the user id; "mod-" tokens get the
// moderator role
type tokenAuth struct{}

func (tokenAuth) Authenticate(r *http.Request) (types.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return types.Identity{}, interfaces.ErrUnauthorized
	}
	role := types.RoleStudent
	if id, ok := strings.CutPrefix(token, "mod-"); ok {
		token, role = id, types.RoleModerator
	}
	return types.Identity{ID: token, Role: role, Authenticated: true}, nil
}

type testDirectory struct{}

func (testDirectory) GetCourse(ctx context.Context, courseID string) (*types.Course, error) {
	if courseID != "101" {
		return nil, interfaces.ErrNotFound
	}
	return &types.Course{ID: "101", InstructorID: "1"}, nil
}

func (testDirectory) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	return userID == "5" || userID == "9", nil
}

type testServer struct {
	hub     *hub.Hub
	handler *Handler
	url     string
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	h := hub.NewHub(nil, hub.Config{}, nil)
	resolver := room.NewResolver(testDirectory{}, testDirectory{}, nil)
	tracker := presence.NewTracker(h, nil)
	r := router.NewRouter(h, resolver, tracker, nil, nil, router.DefaultConfig(), nil)

	handler := NewHandler(r, tokenAuth{}, HandlerConfig{Connection: opts}, nil)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{
		hub:     h,
		handler: handler,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.url+path, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s failed (status %d): %v", path, status, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readType reads frames until one of the given type arrives
func readType(t *testing.T, conn *websocket.Conn, eventType types.EventType) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		var frame map[string]interface{}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %s: %v", eventType, err)
		}
		if frame["type"] == string(eventType) {
			return frame
		}
	}
}

// closeCode reads until the server closes and returns its close code
func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if ce, ok := err.(*websocket.CloseError); ok {
			return ce.Code
		}
		t.Fatalf("expected a close frame, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
