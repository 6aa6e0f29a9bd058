package database

import (
	"context"
	"strings"
	"testing"
)

func migratedDB(t *testing.T) *SchemaValidator {
	t.Helper()
	db := openTestDB(t)
	mgr, err := NewMigrationManager(db)
	if err != nil {
		t.Fatalf("NewMigrationManager failed: %v", err)
	}
	if _, err := mgr.ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	return NewSchemaValidator(db)
}

func TestSchemaValidator_ValidateTablesExist(t *testing.T) {
	v := migratedDB(t)
	if err := v.ValidateTablesExist(); err != nil {
		t.Errorf("ValidateTablesExist failed: %v", err)
	}

	if _, err := v.db.Exec("DROP TABLE chat_messages"); err != nil {
		t.Fatalf("Failed to drop table: %v", err)
	}
	err := v.ValidateTablesExist()
	if err == nil || !strings.Contains(err.Error(), "chat_messages") {
		t.Errorf("Expected missing chat_messages error, got %v", err)
	}
}

func TestSchemaValidator_ValidateTableStructure(t *testing.T) {
	v := migratedDB(t)
	if err := v.ValidateTableStructure(); err != nil {
		t.Errorf("ValidateTableStructure failed: %v", err)
	}
}

func TestSchemaValidator_ValidateIndexes(t *testing.T) {
	v := migratedDB(t)
	if err := v.ValidateIndexes(); err != nil {
		t.Errorf("ValidateIndexes failed: %v", err)
	}

	if _, err := v.db.Exec("DROP INDEX idx_chat_messages_room_time"); err != nil {
		t.Fatalf("Failed to drop index: %v", err)
	}
	if err := v.ValidateIndexes(); err == nil {
		t.Error("Expected missing index error")
	}
}

func TestSchema_BodyConstraint(t *testing.T) {
	v := migratedDB(t)
	_, err := v.db.Exec(`INSERT INTO chat_messages (id, room, sender_id, sender_name, body, created_at)
		VALUES ('m1', 'thread:1', '5', 'alice', '', CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Error("Empty message body should violate check constraint")
	}
}
