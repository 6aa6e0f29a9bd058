package room

import (
	"errors"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrInvalidRoom            = errors.New("invalid room")
	ErrForbidden              = errors.New("not allowed to join room")
	ErrRoomNotFound           = errors.New("room not found")
	ErrLookupFailed           = errors.New("room lookup failed")
)

// WebSocket close codes sent when a connection is refused
const (
	CloseUnauthenticated = 4001
	CloseForbidden       = 4003
	CloseNotFound        = 4004
	CloseInternalError   = 1011
)

// CloseCode maps a resolver error to the close code the client receives
func CloseCode(err error) int {
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return CloseUnauthenticated
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrInvalidRoom):
		return CloseForbidden
	case errors.Is(err, ErrRoomNotFound):
		return CloseNotFound
	default:
		return CloseInternalError
	}
}
