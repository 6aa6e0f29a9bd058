package router

import (
	"context"
	"sync"

	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

// State is the per-connection protocol state
type State int

const (
	StateConnecting State = iota
	StateAuthorizing
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the protocol state of one connection. Frames must be fed
// from a single goroutine; Close may be called from any goroutine.
type Session struct {
	router   *Router
	conn     interfaces.Connection
	identity types.Identity
	username string
	room     types.Room

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes frame handling with Close so membership and presence
	// counts stay consistent
	mu        sync.Mutex
	state     State
	closeOnce sync.Once
	left      []string
}

// State returns the current protocol state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns the room the connection was opened for
func (s *Session) Room() types.Room {
	return s.room
}

func (s *Session) Identity() types.Identity {
	return s.identity
}

// Context is cancelled when the session closes
func (s *Session) Context() context.Context {
	return s.ctx
}

// Close leaves every room exactly once and marks the user offline in
// each. Returns the rooms left.
func (s *Session) Close() []string {
	s.closeOnce.Do(func() {
		// Cancel first so an in-flight persist returns promptly
		s.cancel()

		s.mu.Lock()
		defer s.mu.Unlock()
		s.left = s.router.leave(s)
		s.state = StateClosed
	})
	return s.left
}
