package types

import (
	"time"
)

// Roles carried by an authenticated identity
const (
	RoleStudent    = "student"
	RoleTeacher    = "teacher"
	RoleSupervisor = "supervisor"
	RoleModerator  = "moderator"
)

// Identity is the authenticated user behind a connection or request.
// A zero Identity is an anonymous caller.
type Identity struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Role          string `json:"role"`
	Authenticated bool   `json:"is_authenticated"`
}

// DisplayName returns the username, falling back to the user ID
func (i Identity) DisplayName() string {
	if i.Username != "" {
		return i.Username
	}
	return i.ID
}

// IsStaff reports whether the identity may moderate and manage threads
func (i Identity) IsStaff() bool {
	switch i.Role {
	case RoleTeacher, RoleSupervisor, RoleModerator:
		return true
	default:
		return false
	}
}

// ChatMessage is one persisted chat line in a room
type ChatMessage struct {
	ID         string    `json:"id" db:"id"`
	Room       string    `json:"room" db:"room"`
	SenderID   string    `json:"sender_id" db:"sender_id"`
	SenderName string    `json:"sender_name" db:"sender_name"`
	Body       string    `json:"body" db:"body"`
	Timestamp  time.Time `json:"timestamp" db:"created_at"`
}

// Course is the subset of a course document the realtime layer needs
// to authorize course-wide rooms.
type Course struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	InstructorID string   `json:"instructor_id"`
	StaffIDs     []string `json:"staff_ids"`
}

// HasStaff reports whether userID teaches or assists the course
func (c *Course) HasStaff(userID string) bool {
	if c.InstructorID == userID {
		return true
	}
	for _, id := range c.StaffIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Document is a schemaless record in a document store collection.
// Version increases by one on every write and backs compare-and-swap updates.
type Document struct {
	Collection string                 `json:"collection"`
	ID         string                 `json:"id"`
	Data       map[string]interface{} `json:"data"`
	Version    int64                  `json:"version"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// String returns the string value of field, or "" when absent or not a string
func (d *Document) String(field string) string {
	if v, ok := d.Data[field].(string); ok {
		return v
	}
	return ""
}

// Bool returns the boolean value of field, false when absent
func (d *Document) Bool(field string) bool {
	v, _ := d.Data[field].(bool)
	return v
}

// Strings returns a string slice field, tolerating []interface{} from JSON decoding
func (d *Document) Strings(field string) []string {
	switch v := d.Data[field].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Map returns a copy of the document data with the id included
func (d *Document) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(d.Data)+1)
	for k, v := range d.Data {
		out[k] = v
	}
	out["id"] = d.ID
	return out
}
