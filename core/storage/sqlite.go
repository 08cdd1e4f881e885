package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/artpar/convey/core/registry"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store with SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex

	// tables maps table names to their columns.
	tables map[string][]Column
}

// NewSQLiteStore opens a SQLite database at path (":memory:" for an
// in-memory database).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	return NewSQLiteStoreFromDB(db), nil
}

// NewSQLiteStoreFromDB creates a store from an existing connection.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		tables: make(map[string][]Column),
	}
}

// CreateTable creates the table for model.
func (s *SQLiteStore) CreateTable(ctx context.Context, model *registry.Model) error {
	if err := validIdent(model.TableName); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	columns, err := Columns(model)
	if err != nil {
		return fmt.Errorf("table %s: %w", model.TableName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, BuildCreateTableSQL(model.TableName, columns)); err != nil {
		return fmt.Errorf("create table %s: %w", model.TableName, err)
	}
	for _, indexSQL := range BuildIndexSQL(model.TableName, columns) {
		if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	s.tables[model.TableName] = columns
	return nil
}

func (s *SQLiteStore) columns(table string) ([]Column, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cols, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%q: %w", table, ErrUnknownTable)
	}
	return cols, nil
}

// Create inserts a new record. Unknown keys in data are ignored.
func (s *SQLiteStore) Create(ctx context.Context, table string, data map[string]any) (string, error) {
	cols, err := s.columns(table)
	if err != nil {
		return "", err
	}

	id, ok := data["id"].(string)
	if !ok || id == "" {
		id = uuid.New().String()
	}

	names := []string{"id"}
	placeholders := []string{"?"}
	values := []any{id}

	for _, c := range cols {
		if c.Name == "id" || c.Name == "created_at" || c.Name == "updated_at" {
			continue
		}
		val, exists := data[c.Name]
		if !exists {
			if c.Required && c.Default == nil {
				return "", fmt.Errorf("required field %q not provided", c.Name)
			}
			continue
		}
		names = append(names, c.Name)
		placeholders = append(placeholders, "?")
		values = append(values, convertValue(val, c))
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
	)
	if _, err := s.db.ExecContext(ctx, insertSQL, values...); err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}
	return id, nil
}

// Get retrieves a record where lookup equals value.
func (s *SQLiteStore) Get(ctx context.Context, table, lookup, value string) (map[string]any, error) {
	cols, err := s.columns(table)
	if err != nil {
		return nil, err
	}
	if !hasColumn(cols, lookup) {
		return nil, fmt.Errorf("lookup %q: %w", lookup, ErrInvalidIdentifier)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", columnList(cols), table, lookup)
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, value), cols)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s=%s: %w", table, lookup, value, ErrNotFound)
	}
	return record, err
}

// List retrieves records ordered by opts.OrderBy (created_at by default).
func (s *SQLiteStore) List(ctx context.Context, table string, opts ListOptions) ([]map[string]any, int64, error) {
	cols, err := s.columns(table)
	if err != nil {
		return nil, 0, err
	}

	var whereClause string
	var args []any
	if len(opts.Filters) > 0 {
		var conditions []string
		for _, c := range cols {
			if v, ok := opts.Filters[c.Name]; ok {
				conditions = append(conditions, c.Name+" = ?")
				args = append(args, convertValue(v, c))
			}
		}
		if len(conditions) > 0 {
			whereClause = " WHERE " + strings.Join(conditions, " AND ")
		}
	}

	var count int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, whereClause)
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	// Only known column names reach the ORDER BY clause.
	orderBy := "created_at"
	if hasColumn(cols, opts.OrderBy) {
		orderBy = opts.OrderBy
	}
	direction := "ASC"
	if opts.OrderDesc {
		direction = "DESC"
	}

	limit := listLimit(opts.Limit)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s %s, id %s LIMIT %d OFFSET %d",
		columnList(cols), table, whereClause, orderBy, direction, direction, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results := []map[string]any{}
	for rows.Next() {
		record, err := scanRecord(rows, cols)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, record)
	}
	return results, count, rows.Err()
}

// Update modifies the record with id. Unknown keys are ignored.
func (s *SQLiteStore) Update(ctx context.Context, table, id string, data map[string]any) error {
	cols, err := s.columns(table)
	if err != nil {
		return err
	}

	var sets []string
	var values []any
	for _, c := range cols {
		if c.Name == "id" || c.Name == "created_at" || c.Name == "updated_at" {
			continue
		}
		if v, ok := data[c.Name]; ok {
			sets = append(sets, c.Name+" = ?")
			values = append(values, convertValue(v, c))
		}
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	values = append(values, id)

	updateSQL := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", "))
	result, err := s.db.ExecContext(ctx, updateSQL, values...)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

// Delete removes the record with id.
func (s *SQLiteStore) Delete(ctx context.Context, table, id string) error {
	if _, err := s.columns(table); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func hasColumn(cols []Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

func columnList(cols []Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, cols []Column) (map[string]any, error) {
	values := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	record := make(map[string]any, len(cols))
	for i, c := range cols {
		record[c.Name] = convertFromDB(values[i], c)
	}
	return record, nil
}

// convertValue converts a Go value to a database value.
func convertValue(val any, c Column) any {
	if val == nil {
		return nil
	}

	switch c.Type {
	case TypeBool, "boolean":
		switch v := val.(type) {
		case bool:
			if v {
				return 1
			}
			return 0
		case string:
			if v == "true" || v == "1" {
				return 1
			}
			return 0
		default:
			return 0
		}
	case TypeBytes, "blob":
		if s, ok := val.(string); ok {
			return []byte(s)
		}
		return val
	default:
		switch val.(type) {
		case map[string]any, []any:
			// Structured values are stored as their text form.
			return fmt.Sprintf("%v", val)
		}
		return val
	}
}

// convertFromDB converts a database value to a Go value.
func convertFromDB(val any, c Column) any {
	if val == nil {
		return nil
	}

	switch c.Type {
	case TypeBool, "boolean":
		switch v := val.(type) {
		case int64:
			return v != 0
		case int:
			return v != 0
		default:
			return false
		}
	case TypeBytes, "blob":
		if s, ok := val.(string); ok {
			return []byte(s)
		}
		return val
	default:
		if b, ok := val.([]byte); ok {
			return string(b)
		}
		return val
	}
}

// listLimit applies DefaultListLimit to an unset limit and caps it at
// MaxListLimit.
func listLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	}
	return n
}
