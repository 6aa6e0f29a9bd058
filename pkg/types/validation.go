package types

import (
	"regexp"
	"unicode/utf8"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var (
	userIDRegex     = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomKeyRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	fieldNameRegex  = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	collectionRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomKey checks a single room key component. Keys never contain
// the room delimiter, which keeps room names collision-free.
func IsValidRoomKey(key string) bool {
	if len(key) < 1 || len(key) > 64 {
		return false
	}
	return roomKeyRegex.MatchString(key)
}

func IsValidFieldName(field string) bool {
	if len(field) < 1 || len(field) > 64 {
		return false
	}
	return fieldNameRegex.MatchString(field)
}

func IsValidCollection(collection string) bool {
	if len(collection) < 1 || len(collection) > 64 {
		return false
	}
	return collectionRegex.MatchString(collection)
}

// IsValidRole checks the role is one the platform issues
func IsValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RoleSupervisor, RoleModerator:
		return true
	default:
		return false
	}
}

// Validate ensures a chat message is ready to persist
func (m *ChatMessage) Validate(maxLength int) error {
	if _, err := ParseRoom(m.Room); err != nil {
		return err
	}
	if !IsValidUserID(m.SenderID) {
		return ErrInvalidUserID
	}
	if m.Body == "" {
		return ErrEmptyMessage
	}
	if maxLength > 0 && utf8.RuneCountInString(m.Body) > maxLength {
		return ErrMessageTooLong
	}
	return nil
}
