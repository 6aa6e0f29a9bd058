package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables startup
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sqlx.DB
}

func NewSchemaValidator(db *sqlx.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"documents":         "Document collections",
		"chat_messages":     "Room chat history",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies the columns the store reads and writes.
// Types are only compared on SQLite where declared types are preserved.
func (v *SchemaValidator) ValidateTableStructure() error {
	documentColumns := map[string]string{
		"collection": "TEXT",
		"id":         "TEXT",
		"data":       "TEXT",
		"version":    "INTEGER",
		"created_at": "DATETIME",
		"updated_at": "DATETIME",
	}
	if err := v.validateColumns("documents", documentColumns); err != nil {
		return fmt.Errorf("documents table structure invalid: %w", err)
	}

	messageColumns := map[string]string{
		"id":          "TEXT",
		"room":        "TEXT",
		"sender_id":   "TEXT",
		"sender_name": "TEXT",
		"body":        "TEXT",
		"created_at":  "DATETIME",
	}
	if err := v.validateColumns("chat_messages", messageColumns); err != nil {
		return fmt.Errorf("chat_messages table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_documents_collection_created": "Collection scans",
		"idx_chat_messages_room_time":      "Room history retrieval",
		"idx_chat_messages_sender":         "Sender lookups",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

func (v *SchemaValidator) isPostgres() bool {
	return v.db.DriverName() == DriverPostgres
}

func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if v.isPostgres() {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	}
	var count int
	if err := v.db.Get(&count, v.db.Rebind(query), tableName); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?"
	if v.isPostgres() {
		query = "SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = ?"
	}
	var count int
	if err := v.db.Get(&count, v.db.Rebind(query), indexName); err != nil {
		return false, err
	}
	return count > 0, nil
}

type columnInfo struct {
	Name     string `db:"name"`
	DataType string `db:"data_type"`
}

// validateColumns checks that a table has the expected columns
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	var cols []columnInfo
	var err error
	if v.isPostgres() {
		err = v.db.Select(&cols, v.db.Rebind(
			"SELECT column_name AS name, data_type FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?"),
			tableName)
	} else {
		err = v.db.Select(&cols, "SELECT name, type AS data_type FROM pragma_table_info(?)", tableName)
	}
	if err != nil {
		return err
	}

	found := make(map[string]string, len(cols))
	for _, c := range cols {
		found[c.Name] = strings.ToUpper(c.DataType)
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := found[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if !v.isPostgres() && foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}
	return nil
}
