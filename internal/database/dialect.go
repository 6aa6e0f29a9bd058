package database

import (
	"encoding/json"
	"fmt"

	dbconfig "campuswire/pkg/database"
)

// dialect renders JSON field access for the document table
type dialect struct {
	postgres bool
}

func dialectFor(driver string) dialect {
	return dialect{postgres: driver == dbconfig.DriverPostgres}
}

// reserved names address table columns rather than JSON data
var columnFields = map[string]string{
	"id":         "id",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"version":    "version",
}

// field returns the SQL expression for a validated field name
func (d dialect) field(name string) string {
	if col, ok := columnFields[name]; ok {
		return col
	}
	if d.postgres {
		return fmt.Sprintf("(data->'%s')", name)
	}
	return fmt.Sprintf("json_extract(data, '$.%s')", name)
}

// comparison returns the predicate and bound argument for field op value.
// Postgres compares jsonb to jsonb so numbers and strings keep their ordering.
func (d dialect) comparison(name, op string, value interface{}) (string, interface{}, error) {
	sqlOp := op
	if op == "==" {
		sqlOp = "="
	} else if op == "!=" {
		sqlOp = "<>"
	}

	if _, isColumn := columnFields[name]; isColumn || !d.postgres {
		return fmt.Sprintf("%s %s ?", d.field(name), sqlOp), value, nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s %s CAST(? AS jsonb)", d.field(name), sqlOp), string(encoded), nil
}
