package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"campuswire/internal/app"
	"campuswire/internal/config"
	"campuswire/pkg/types"
)

// campus is one running application with a seeded course 101: instructor
// 1, students 5 (ada) and 9 (grace). User 77 exists but is not enrolled.
type campus struct {
	t      *testing.T
	app    *app.Application
	server *httptest.Server
}

func newCampus(t *testing.T) *campus {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "campus.db")
	cfg.Auth.JWTSecret = "integration-secret"
	cfg.Chat.HistoryLimit = 10

	ctx := context.Background()
	application, err := app.NewApplication(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := application.StartServices(ctx); err != nil {
		t.Fatalf("StartServices failed: %v", err)
	}
	server := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		server.Close()
		_ = application.Stop(context.Background())
	})

	dir := application.Directory()
	if err := dir.PutCourse(ctx, &types.Course{ID: "101", Title: "Algorithms", InstructorID: "1"}); err != nil {
		t.Fatalf("PutCourse failed: %v", err)
	}
	users := []types.Identity{
		{ID: "1", Username: "prof", Role: types.RoleTeacher},
		{ID: "5", Username: "ada", Role: types.RoleStudent},
		{ID: "9", Username: "grace", Role: types.RoleStudent},
		{ID: "77", Username: "outsider", Role: types.RoleStudent},
	}
	for _, u := range users {
		if err := dir.PutUser(ctx, u); err != nil {
			t.Fatalf("PutUser failed: %v", err)
		}
	}
	for _, id := range []string{"5", "9"} {
		if err := dir.Enroll(ctx, id, "101"); err != nil {
			t.Fatalf("Enroll failed: %v", err)
		}
	}

	return &campus{t: t, app: application, server: server}
}

func (c *campus) token(id, role string) string {
	c.t.Helper()
	token, err := c.app.Authenticator().Issue(types.Identity{ID: id, Role: role})
	if err != nil {
		c.t.Fatalf("Issue failed: %v", err)
	}
	return token
}

// dial connects to path as the given user; an empty id connects anonymously
func (c *campus) dial(path, id, role string) *websocket.Conn {
	c.t.Helper()
	url := "ws" + strings.TrimPrefix(c.server.URL, "http") + path
	if id != "" {
		url += "?token=" + c.token(id, role)
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		c.t.Fatalf("dial %s failed: %v", path, err)
	}
	c.t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// request sends an authenticated JSON request to the API
func (c *campus) request(method, path, id, role string, body interface{}) (*http.Response, map[string]interface{}) {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal failed: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.server.URL+path, reader)
	if err != nil {
		c.t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id != "" {
		req.Header.Set("Authorization", "Bearer "+c.token(id, role))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// readFrame returns the next frame of the wanted type, skipping others
func readFrame(t *testing.T, ws *websocket.Conn, want types.EventType) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = ws.SetReadDeadline(deadline)
		var frame map[string]interface{}
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if frame["type"] == string(want) {
			return frame
		}
	}
}

// expectNoFrame asserts no frame of type arrives within wait
func expectNoFrame(t *testing.T, ws *websocket.Conn, unwanted types.EventType, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		_ = ws.SetReadDeadline(deadline)
		var frame map[string]interface{}
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		if frame["type"] == string(unwanted) {
			t.Fatalf("Unexpected %s frame: %v", unwanted, frame)
		}
	}
}

// closeCode reads until the server closes and returns the close code
func closeCode(t *testing.T, ws *websocket.Conn) int {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				return ce.Code
			}
			t.Fatalf("Expected close frame, got %v", err)
		}
	}
}

func send(t *testing.T, ws *websocket.Conn, frame interface{}) {
	t.Helper()
	if err := ws.WriteJSON(frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
