package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"campuswire/pkg/types"
)

func (c *campus) joined(userID, room string) {
	c.t.Helper()
	waitFor(c.t, func() bool { return c.app.Presence().IsOnline(userID, room) })
}

func TestCourseChat_DeliveryAndHistory(t *testing.T) {
	c := newCampus(t)

	ada := c.dial("/ws/chat/course/101", "5", types.RoleStudent)
	grace := c.dial("/ws/chat/course/101", "9", types.RoleStudent)
	c.joined("5", "course:101")
	c.joined("9", "course:101")

	send(t, ada, types.InboundFrame{Action: types.ActionMessage, Message: "hello class"})

	frame := readFrame(t, grace, types.EventChatMessage)
	if frame["message"] != "hello class" || frame["user"] != "ada" {
		t.Errorf("Unexpected chat frame %v", frame)
	}

	// a late joiner gets the message replayed
	prof := c.dial("/ws/chat/course/101", "1", types.RoleTeacher)
	history := readFrame(t, prof, types.EventChatMessage)
	if history["message"] != "hello class" {
		t.Errorf("Expected history replay, got %v", history)
	}

	resp, body := c.request(http.MethodGet, "/api/rooms/course/101/messages", "9", types.RoleStudent, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for room history, got %d: %v", resp.StatusCode, body)
	}
	if body["room"] != "course:101" {
		t.Errorf("Expected room course:101, got %v", body["room"])
	}
	messages, _ := body["messages"].([]interface{})
	if len(messages) != 1 {
		t.Errorf("Expected 1 stored message, got %d", len(messages))
	}

	resp, _ = c.request(http.MethodGet, "/api/rooms/course/101/messages", "77", types.RoleStudent, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 for a non-member, got %d", resp.StatusCode)
	}
}

func TestPrivateChat_OnlyParticipants(t *testing.T) {
	c := newCampus(t)

	ada := c.dial("/ws/chat/private/9", "5", types.RoleStudent)
	grace := c.dial("/ws/chat/private/5", "9", types.RoleStudent)
	bystander := c.dial("/ws/chat/course/101", "1", types.RoleTeacher)
	c.joined("5", "private:5:9")
	c.joined("9", "private:5:9")
	c.joined("1", "course:101")

	send(t, grace, types.InboundFrame{Action: types.ActionMessage, Message: "psst"})

	frame := readFrame(t, ada, types.EventChatMessage)
	if frame["message"] != "psst" {
		t.Errorf("Unexpected private frame %v", frame)
	}
	expectNoFrame(t, bystander, types.EventChatMessage, 200*time.Millisecond)
}

func TestConnectionRefusals(t *testing.T) {
	c := newCampus(t)

	tests := []struct {
		name string
		path string
		user string
		role string
		code int
	}{
		{"anonymous", "/ws/chat/course/101", "", "", 4001},
		{"not enrolled", "/ws/chat/course/101", "77", types.RoleStudent, 4003},
		{"unknown course", "/ws/chat/course/999", "5", types.RoleStudent, 4004},
		{"unknown thread", "/ws/forum/12345", "5", types.RoleStudent, 4004},
		{"unknown room type", "/ws/chat/lobby/1", "5", types.RoleStudent, 4003},
		{"student in moderation", "/ws/moderation", "5", types.RoleStudent, 4003},
		{"private with self", "/ws/chat/private/5", "5", types.RoleStudent, 4003},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := c.dial(tt.path, tt.user, tt.role)
			if got := closeCode(t, ws); got != tt.code {
				t.Errorf("Expected close code %d, got %d", tt.code, got)
			}
		})
	}
}

func TestForumNotifications(t *testing.T) {
	c := newCampus(t)

	grace := c.dial("/ws/chat/course/101", "9", types.RoleStudent)
	c.joined("9", "course:101")

	resp, thread := c.request(http.MethodPost, "/api/courses/101/threads", "5", types.RoleStudent,
		map[string]string{"title": "Dijkstra", "body": "Why a heap?"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", resp.StatusCode, thread)
	}
	threadID, _ := thread["id"].(string)

	update := readFrame(t, grace, types.EventForumUpdate)
	if update["message"] != "New thread: Dijkstra" {
		t.Errorf("Unexpected forum update %v", update)
	}

	watcher := c.dial("/ws/forum/"+threadID, "9", types.RoleStudent)
	c.joined("9", "thread:"+threadID)

	resp, post := c.request(http.MethodPost, "/api/threads/"+threadID+"/posts", "5", types.RoleStudent,
		map[string]string{"content": "Because of decrease-key"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", resp.StatusCode, post)
	}

	frame := readFrame(t, watcher, types.EventNewPost)
	body, _ := frame["post"].(map[string]interface{})
	if body["content"] != "Because of decrease-key" || body["id"] != post["id"] {
		t.Errorf("Unexpected new_post frame %v", frame)
	}

	resp, _ = c.request(http.MethodPost, "/api/threads/"+threadID+"/close", "1", types.RoleTeacher, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 closing thread, got %d", resp.StatusCode)
	}
	state := readFrame(t, watcher, types.EventForumUpdate)
	if thread, _ := state["thread"].(map[string]interface{}); thread["is_closed"] != true {
		t.Errorf("Expected closed thread in update, got %v", state)
	}

	resp, _ = c.request(http.MethodPost, "/api/threads/"+threadID+"/posts", "5", types.RoleStudent,
		map[string]string{"content": "too late"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 posting to a closed thread, got %d", resp.StatusCode)
	}
}

func TestModerationFlow(t *testing.T) {
	c := newCampus(t)

	_, thread := c.request(http.MethodPost, "/api/courses/101/threads", "5", types.RoleStudent,
		map[string]string{"title": "Spam", "body": "buy now"})
	threadID, _ := thread["id"].(string)
	_, post := c.request(http.MethodPost, "/api/threads/"+threadID+"/posts", "5", types.RoleStudent,
		map[string]string{"content": "buy now"})
	postID, _ := post["id"].(string)

	mod := c.dial("/ws/moderation", "3", types.RoleModerator)
	watcher := c.dial("/ws/forum/"+threadID, "9", types.RoleStudent)
	c.joined("3", "moderation")
	c.joined("9", "thread:"+threadID)

	resp, _ := c.request(http.MethodPost, "/api/moderation/actions", "5", types.RoleStudent,
		map[string]string{"target_type": "post", "target_id": postID, "action": "hide"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 for a student moderating, got %d", resp.StatusCode)
	}

	resp, body := c.request(http.MethodPost, "/api/moderation/actions", "3", types.RoleModerator,
		map[string]string{"target_type": "post", "target_id": postID, "action": "hide", "reason": "spam"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", resp.StatusCode, body)
	}

	frame := readFrame(t, mod, types.EventModeration)
	action, _ := frame["moderation"].(map[string]interface{})
	if action["target_id"] != postID || action["action"] != "hide" {
		t.Errorf("Unexpected moderation frame %v", frame)
	}
	readFrame(t, watcher, types.EventForumUpdate)
}

func TestPresence_OnlineAndOffline(t *testing.T) {
	c := newCampus(t)

	grace := c.dial("/ws/chat/course/101", "9", types.RoleStudent)
	c.joined("9", "course:101")

	ada := c.dial("/ws/chat/course/101", "5", types.RoleStudent)
	online := presenceOf(t, grace, "ada")
	if online["is_online"] != true {
		t.Errorf("Expected ada online, got %v", online)
	}

	_ = ada.Close()
	offline := presenceOf(t, grace, "ada")
	if offline["is_online"] != false {
		t.Errorf("Expected ada offline, got %v", offline)
	}
	waitFor(t, func() bool { return !c.app.Presence().IsOnline("5", "course:101") })
}

// presenceOf skips presence frames about other users
func presenceOf(t *testing.T, ws *websocket.Conn, user string) map[string]interface{} {
	t.Helper()
	for {
		frame := readFrame(t, ws, types.EventUserPresence)
		if frame["user"] == user {
			return frame
		}
	}
}

func TestHealthAndStats(t *testing.T) {
	c := newCampus(t)

	resp, body := c.request(http.MethodGet, "/health", "", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("Unexpected health response %d %v", resp.StatusCode, body)
	}

	resp, _ = c.request(http.MethodGet, "/api/stats", "", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for anonymous stats, got %d", resp.StatusCode)
	}

	resp, body = c.request(http.MethodGet, "/api/stats", "1", types.RoleTeacher, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for stats, got %d", resp.StatusCode)
	}
	for _, key := range []string{"hub", "bridge", "websocket"} {
		if _, ok := body[key]; !ok {
			t.Errorf("Expected %s stats, got %v", key, body)
		}
	}
}
