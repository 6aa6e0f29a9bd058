package database

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"campuswire/pkg/interfaces"
	"campuswire/pkg/types"
)

type documentRow struct {
	Collection string    `db:"collection"`
	ID         string    `db:"id"`
	Data       string    `db:"data"`
	Version    int64     `db:"version"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *documentRow) toDocument() (*types.Document, error) {
	doc := &types.Document{
		Collection: r.Collection,
		ID:         r.ID,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Data), &doc.Data); err != nil {
		return nil, errors.Wrapf(err, "failed to decode document %s/%s", r.Collection, r.ID)
	}
	if doc.Data == nil {
		doc.Data = map[string]interface{}{}
	}
	return doc, nil
}

const selectDocument = `SELECT collection, id, data, version, created_at, updated_at FROM documents`

func encodeData(data map[string]interface{}) (string, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", errors.Wrap(ErrInvalidDocument, err.Error())
	}
	return string(encoded), nil
}

func checkKey(collection, id string) error {
	if !types.IsValidCollection(collection) {
		return types.ErrInvalidCollection
	}
	if id == "" || len(id) > 128 {
		return ErrInvalidDocumentID
	}
	return nil
}

// Get reads one document. Reads bypass the writer goroutine.
func (m *Manager) Get(ctx context.Context, collection, id string) (*types.Document, error) {
	if err := checkKey(collection, id); err != nil {
		return nil, err
	}
	return m.getDocument(ctx, m.db, collection, id)
}

func (m *Manager) getDocument(ctx context.Context, q sqlx.QueryerContext, collection, id string) (*types.Document, error) {
	var row documentRow
	err := sqlx.GetContext(ctx, q, &row, m.db.Rebind(selectDocument+` WHERE collection = ? AND id = ?`), collection, id)
	if err != nil {
		if isNoRows(err) {
			return nil, interfaces.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to query document")
	}
	return row.toDocument()
}

// Add inserts a document under a generated id
func (m *Manager) Add(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	id := uuid.New().String()
	if err := checkKey(collection, id); err != nil {
		return "", err
	}
	encoded, err := encodeData(data)
	if err != nil {
		return "", err
	}

	err = m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		now := time.Now().UTC()
		_, err := db.ExecContext(ctx, db.Rebind(
			`INSERT INTO documents (collection, id, data, version, created_at, updated_at) VALUES (?, ?, ?, 1, ?, ?)`),
			collection, id, encoded, now, now)
		return errors.Wrap(err, "failed to insert document")
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Set creates or replaces a document. Replacing bumps the version.
func (m *Manager) Set(ctx context.Context, collection, id string, data map[string]interface{}) error {
	if err := checkKey(collection, id); err != nil {
		return err
	}
	encoded, err := encodeData(data)
	if err != nil {
		return err
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		now := time.Now().UTC()
		_, err := db.ExecContext(ctx, db.Rebind(`
			INSERT INTO documents (collection, id, data, version, created_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT (collection, id) DO UPDATE
			SET data = excluded.data, version = documents.version + 1, updated_at = excluded.updated_at`),
			collection, id, encoded, now, now)
		return errors.Wrap(err, "failed to upsert document")
	})
}

// Update shallow-merges partial into the stored document. A nil value
// removes the field.
func (m *Manager) Update(ctx context.Context, collection, id string, partial map[string]interface{}) error {
	if err := checkKey(collection, id); err != nil {
		return err
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return m.merge(ctx, db, collection, id, -1, partial)
	})
}

// UpdateIf shallow-merges partial only when the stored version matches
func (m *Manager) UpdateIf(ctx context.Context, collection, id string, expectedVersion int64, partial map[string]interface{}) error {
	if err := checkKey(collection, id); err != nil {
		return err
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return m.merge(ctx, db, collection, id, expectedVersion, partial)
	})
}

// merge runs inside the writer goroutine. The version predicate on the
// UPDATE also guards against writers in other processes on Postgres.
func (m *Manager) merge(ctx context.Context, db *sqlx.DB, collection, id string, expectedVersion int64, partial map[string]interface{}) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	current, err := m.getDocument(ctx, tx, collection, id)
	if err != nil {
		if err == interfaces.ErrNotFound {
			return permanent(err)
		}
		return err
	}
	if expectedVersion >= 0 && current.Version != expectedVersion {
		return permanent(interfaces.ErrVersionConflict)
	}

	for k, v := range partial {
		if v == nil {
			delete(current.Data, k)
			continue
		}
		current.Data[k] = v
	}
	encoded, err := encodeData(current.Data)
	if err != nil {
		return permanent(err)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE documents SET data = ?, version = version + 1, updated_at = ?
		WHERE collection = ? AND id = ? AND version = ?`),
		encoded, time.Now().UTC(), collection, id, current.Version)
	if err != nil {
		return errors.Wrap(err, "failed to update document")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return interfaces.ErrVersionConflict
	}

	return errors.Wrap(tx.Commit(), "failed to commit document update")
}

// Delete removes a document; deleting a missing document is not an error
func (m *Manager) Delete(ctx context.Context, collection, id string) error {
	if err := checkKey(collection, id); err != nil {
		return err
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM documents WHERE collection = ? AND id = ?`), collection, id)
		return errors.Wrap(err, "failed to delete document")
	})
}

// Query runs a filtered, ordered, limited scan of one collection
func (m *Manager) Query(ctx context.Context, q *types.Query) ([]*types.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(selectDocument)
	sb.WriteString(` WHERE collection = ?`)
	args := []interface{}{q.Collection}

	for _, f := range q.Filters {
		predicate, arg, err := m.dialect.comparison(f.Field, f.Op, f.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value for field %s", f.Field)
		}
		sb.WriteString(" AND ")
		sb.WriteString(predicate)
		args = append(args, arg)
	}

	if q.Order != nil {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(m.dialect.field(q.Order.Field))
		if q.Order.Descending {
			sb.WriteString(" DESC")
		}
		sb.WriteString(", id")
	} else {
		sb.WriteString(" ORDER BY created_at, id")
	}

	if q.Max > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Max)
	}

	var rows []documentRow
	if err := m.db.SelectContext(ctx, &rows, m.db.Rebind(sb.String()), args...); err != nil {
		return nil, errors.Wrap(err, "failed to query documents")
	}

	docs := make([]*types.Document, 0, len(rows))
	for i := range rows {
		doc, err := rows[i].toDocument()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
