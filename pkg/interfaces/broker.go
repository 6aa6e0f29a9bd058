package interfaces

import (
	"context"
	"net/http"

	"campuswire/pkg/types"
)

// MessageHandler receives one payload from a broker channel
type MessageHandler func(channel string, payload []byte)

// Broker is the shared pub/sub medium used for cross-process room fan-out.
// Channel names are relative; implementations may namespace them.
type Broker interface {
	// Publish sends payload on channel to every subscribed process
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe blocks delivering every message published on any channel
	// until ctx is cancelled or the broker closes
	Subscribe(ctx context.Context, handler MessageHandler) error

	Close() error
}

// Authenticator turns a request into an identity
type Authenticator interface {
	// Authenticate returns ErrUnauthorized when no valid credential is present
	Authenticate(r *http.Request) (types.Identity, error)
}
