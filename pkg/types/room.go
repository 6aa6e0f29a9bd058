package types

import (
	"fmt"
	"strconv"
	"strings"
)

// RoomType discriminates the broadcast group variants
type RoomType string

const (
	RoomPrivate    RoomType = "private"
	RoomCourse     RoomType = "course"
	RoomThread     RoomType = "thread"
	RoomModeration RoomType = "moderation"
)

// roomDelimiter never appears inside a room key because keys are
// restricted to [a-zA-Z0-9_-]
const roomDelimiter = ":"

// Room is a resolved broadcast group. It has no storage of its own;
// Name() is the grouping key used by the hub and the broker.
type Room struct {
	Type RoomType
	Keys []string
}

// PrivateRoom builds the symmetric 1:1 room for two users.
// ARCHITECTURAL DISCOVERY: Both participants must compute the same name
// regardless of who opened the conversation, so the keys are ordered.
func PrivateRoom(userA, userB string) Room {
	if lessUserID(userB, userA) {
		userA, userB = userB, userA
	}
	return Room{Type: RoomPrivate, Keys: []string{userA, userB}}
}

// CourseRoom is the course-wide broadcast group
func CourseRoom(courseID string) Room {
	return Room{Type: RoomCourse, Keys: []string{courseID}}
}

// ThreadRoom is the forum thread subscriber group
func ThreadRoom(threadID string) Room {
	return Room{Type: RoomThread, Keys: []string{threadID}}
}

// ModerationRoom is the singleton moderation feed
func ModerationRoom() Room {
	return Room{Type: RoomModeration}
}

// Name returns the deterministic group key, e.g. "private:5:9" or "thread:42"
func (r Room) Name() string {
	if len(r.Keys) == 0 {
		return string(r.Type)
	}
	return string(r.Type) + roomDelimiter + strings.Join(r.Keys, roomDelimiter)
}

func (r Room) String() string {
	return r.Name()
}

// Validate checks the key arity and key format for the room type
func (r Room) Validate() error {
	want := 0
	switch r.Type {
	case RoomPrivate:
		want = 2
	case RoomCourse, RoomThread:
		want = 1
	case RoomModeration:
		want = 0
	default:
		return ErrInvalidRoomType
	}
	if len(r.Keys) != want {
		return ErrInvalidRoomName
	}
	for _, k := range r.Keys {
		if !IsValidRoomKey(k) {
			return ErrInvalidRoomKey
		}
	}
	if r.Type == RoomPrivate {
		if r.Keys[0] == r.Keys[1] {
			return ErrSelfPrivateRoom
		}
		if lessUserID(r.Keys[1], r.Keys[0]) {
			return ErrInvalidRoomName
		}
	}
	return nil
}

// ParseRoom parses and validates a room name produced by Room.Name
func ParseRoom(name string) (Room, error) {
	if name == "" {
		return Room{}, ErrInvalidRoomName
	}
	parts := strings.Split(name, roomDelimiter)
	r := Room{Type: RoomType(parts[0])}
	if len(parts) > 1 {
		r.Keys = parts[1:]
	}
	if err := r.Validate(); err != nil {
		return Room{}, fmt.Errorf("%w: %q", err, name)
	}
	return r, nil
}

// ParseRoomType maps a URL path segment to a room type. "forum" is
// accepted as an alias for thread rooms.
func ParseRoomType(s string) (RoomType, error) {
	switch strings.ToLower(s) {
	case "private":
		return RoomPrivate, nil
	case "course":
		return RoomCourse, nil
	case "thread", "forum":
		return RoomThread, nil
	case "moderation":
		return RoomModeration, nil
	default:
		return "", ErrInvalidRoomType
	}
}

// lessUserID orders numerically when both ids are integers, otherwise
// lexicographically, so "9" sorts before "10".
func lessUserID(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		if ai != bi {
			return ai < bi
		}
	}
	return a < b
}
