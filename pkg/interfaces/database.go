package interfaces

import (
	"context"

	"campuswire/pkg/types"
)

// RoomStore is the append-only chat history behind each room
type RoomStore interface {
	// AppendMessage persists a chat message keyed by its room name
	AppendMessage(ctx context.Context, msg *types.ChatMessage) error

	// RecentMessages returns up to limit messages, newest first
	RecentMessages(ctx context.Context, room string, limit int) ([]*types.ChatMessage, error)
}

// DocumentStore is a schemaless collection store for forum, course and
// moderation documents.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (*types.Document, error)
	Add(ctx context.Context, collection string, data map[string]interface{}) (string, error)
	Set(ctx context.Context, collection, id string, data map[string]interface{}) error
	Update(ctx context.Context, collection, id string, partial map[string]interface{}) error

	// UpdateIf applies partial only when the stored version equals
	// expectedVersion, otherwise it returns ErrVersionConflict
	UpdateIf(ctx context.Context, collection, id string, expectedVersion int64, partial map[string]interface{}) error

	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q *types.Query) ([]*types.Document, error)
}

// Store is the full persistence surface owned by the database manager
type Store interface {
	RoomStore
	DocumentStore

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	Close() error
}
