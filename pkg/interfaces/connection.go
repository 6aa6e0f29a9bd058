package interfaces

import "campuswire/pkg/types"

// Connection is one live client transport as seen by the hub.
// ARCHITECTURAL DISCOVERY: The hub references connections by ID only and
// never owns them; the transport layer creates and destroys them.
type Connection interface {
	// ID returns the process-unique connection identifier
	ID() string

	// Identity returns the authenticated user, zero until authorized
	Identity() types.Identity

	// Send enqueues an already-encoded frame without blocking.
	// Returns ErrSendBufferFull when the client is not keeping up.
	Send(frame []byte) error

	// WriteJSON encodes a frame for this connection only, waiting for
	// buffer space up to the write timeout
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error
}
