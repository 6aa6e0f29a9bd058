package router

import "errors"

var (
	ErrSessionClosed     = errors.New("session is closed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNotJoined         = errors.New("not joined to room")
	ErrPrimaryRoom       = errors.New("cannot unsubscribe from the connection's own room")
	ErrMalformedFrame    = errors.New("malformed frame")
)
