// Package storage keeps records for registered models in a SQL database.
// Tables are derived from model field definitions; every table carries an
// id primary key and created_at/updated_at timestamps.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/artpar/convey/core/registry"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownTable is returned for tables that were never created.
	ErrUnknownTable = errors.New("table not registered")

	// ErrInvalidIdentifier is returned for table or field names that are not
	// plain SQL identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Store provides generic CRUD operations for model tables.
type Store interface {
	// CreateTable creates the table for a model.
	CreateTable(ctx context.Context, model *registry.Model) error

	// Create inserts a new record and returns its id.
	Create(ctx context.Context, table string, data map[string]any) (string, error)

	// Get retrieves a record by lookup field.
	Get(ctx context.Context, table, lookup, value string) (map[string]any, error)

	// List retrieves records and the total count matching the filters.
	List(ctx context.Context, table string, opts ListOptions) ([]map[string]any, int64, error)

	// Update modifies an existing record.
	Update(ctx context.Context, table, id string, data map[string]any) error

	// Delete removes a record.
	Delete(ctx context.Context, table, id string) error

	Close() error
}

// Page sizes for List.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ListOptions configures list queries. Limit is capped at MaxListLimit.
type ListOptions struct {
	Limit  int
	Offset int

	// Filters are field-value equality conditions.
	Filters map[string]any

	OrderBy   string
	OrderDesc bool
}

// Field types understood by the column mapping.
const (
	TypeString = "string"
	TypeText   = "text"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeBytes  = "bytes"
	TypeTime   = "time"
)

// Column is a table column derived from a model field.
type Column struct {
	Name     string
	Type     string
	SQLType  string
	Required bool
	Unique   bool
	Lookup   bool
	Default  any
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%q: %w", name, ErrInvalidIdentifier)
	}
	return nil
}

// builtinColumns are present on every table.
var builtinColumns = []Column{
	{Name: "id", Type: TypeString, SQLType: "TEXT", Required: true},
	{Name: "created_at", Type: TypeTime, SQLType: "DATETIME"},
	{Name: "updated_at", Type: TypeTime, SQLType: "DATETIME"},
}

// Columns derives the table columns for model. A field is either a type
// name or a mapping with "type", "required", "unique", "lookup" and
// "default" keys. Unknown types are stored as text.
func Columns(model *registry.Model) ([]Column, error) {
	columns := append([]Column(nil), builtinColumns...)

	for _, name := range model.FieldNames() {
		if name == "id" || name == "created_at" || name == "updated_at" {
			continue
		}
		if err := validIdent(name); err != nil {
			return nil, fmt.Errorf("field: %w", err)
		}

		col := Column{Name: name, Type: TypeString}
		switch def := model.Fields[name].(type) {
		case string:
			col.Type = strings.ToLower(def)
		case map[string]any:
			if t, ok := def["type"].(string); ok {
				col.Type = strings.ToLower(t)
			}
			col.Required, _ = def["required"].(bool)
			col.Unique, _ = def["unique"].(bool)
			col.Lookup, _ = def["lookup"].(bool)
			col.Default = def["default"]
		}
		col.SQLType = sqlType(col.Type)
		columns = append(columns, col)
	}
	return columns, nil
}

func sqlType(t string) string {
	switch t {
	case TypeInt, "integer":
		return "INTEGER"
	case TypeFloat, "number", "decimal":
		return "REAL"
	case TypeBool, "boolean":
		return "INTEGER"
	case TypeBytes, "blob":
		return "BLOB"
	case TypeTime, "datetime", "timestamp":
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// BuildCreateTableSQL generates CREATE TABLE SQL for a table.
func BuildCreateTableSQL(table string, columns []Column) string {
	defs := make([]string, 0, len(columns))
	var constraints []string

	for _, c := range columns {
		defs = append(defs, buildColumnDef(c))
		if c.Unique && c.Name != "id" {
			constraints = append(constraints, fmt.Sprintf("UNIQUE(%s)", c.Name))
		}
	}

	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s", table, strings.Join(defs, ",\n  "))
	if len(constraints) > 0 {
		sql += ",\n  " + strings.Join(constraints, ",\n  ")
	}
	return sql + "\n)"
}

func buildColumnDef(c Column) string {
	parts := []string{c.Name, c.SQLType}

	if c.Name == "id" {
		parts = append(parts, "PRIMARY KEY")
	}
	if c.Required {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != nil {
		if def := formatDefault(c.Default); def != "" {
			parts = append(parts, "DEFAULT "+def)
		}
	}
	if c.Name == "created_at" || c.Name == "updated_at" {
		parts = append(parts, "DEFAULT CURRENT_TIMESTAMP")
	}

	return strings.Join(parts, " ")
}

func formatDefault(val any) string {
	switch v := val.(type) {
	case string:
		return fmt.Sprintf("'%s'", strings.ReplaceAll(v, "'", "''"))
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	case float32, float64:
		return fmt.Sprintf("%v", v)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

// BuildIndexSQL generates CREATE INDEX statements for lookup columns.
func BuildIndexSQL(table string, columns []Column) []string {
	var indexes []string
	for _, c := range columns {
		if c.Lookup && c.Name != "id" {
			indexes = append(indexes, fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)",
				table, c.Name, table, c.Name,
			))
		}
	}
	return indexes
}
