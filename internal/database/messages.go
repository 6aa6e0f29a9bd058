package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"campuswire/pkg/types"
)

// AppendMessage persists a chat message. ID and timestamp are assigned
// when empty.
func (m *Manager) AppendMessage(ctx context.Context, msg *types.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Timestamp = msg.Timestamp.UTC()

	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO chat_messages (id, room, sender_id, sender_name, body, created_at)
			VALUES (:id, :room, :sender_id, :sender_name, :body, :created_at)`, msg)
		if err != nil {
			return errors.Wrap(err, "failed to insert chat message")
		}
		return nil
	})
}

// RecentMessages returns the newest limit messages of a room, newest first
func (m *Manager) RecentMessages(ctx context.Context, room string, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	var messages []*types.ChatMessage
	err := m.db.SelectContext(ctx, &messages, m.db.Rebind(`
		SELECT id, room, sender_id, sender_name, body, created_at
		FROM chat_messages
		WHERE room = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), room, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query room history")
	}
	return messages, nil
}
