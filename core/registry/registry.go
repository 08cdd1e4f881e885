// Package registry indexes model definitions by table name and path.
// A registry is filled once during assembly, frozen, and then only read.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/artpar/convey/core/convention"
)

var (
	// ErrTableCollision is returned when two models resolve to the same table.
	ErrTableCollision = errors.New("table already registered")

	// ErrFrozen is returned by Register after Freeze.
	ErrFrozen = errors.New("registry is frozen")

	// ErrInvalidModel is returned when a module export is not a model definition.
	ErrInvalidModel = errors.New("invalid model definition")
)

// Model is a registered model definition.
type Model struct {
	// TableName defaults to the path segments joined by "_".
	TableName string `json:"table" yaml:"table"`

	// Fields is the user-supplied field mapping. It is not validated.
	Fields map[string]any `json:"fields" yaml:"fields"`

	// PathSegments is the model's location relative to the models folder.
	PathSegments []string `json:"path" yaml:"path"`
}

// Path returns the joined path segments used for admin linkage.
func (m *Model) Path() string {
	return convention.JoinPath(m.PathSegments)
}

// FieldNames returns the model's field names in sorted order.
func (m *Model) FieldNames() []string {
	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CollisionError reports two models claiming the same table.
type CollisionError struct {
	Table    string
	Existing string
	Incoming string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("table %q claimed by %q and %q", e.Table, e.Existing, e.Incoming)
}

// Is reports whether target is ErrTableCollision.
func (e *CollisionError) Is(target error) bool {
	return target == ErrTableCollision
}

// Registry holds models keyed by table name, in registration order.
type Registry struct {
	tables map[string]*Model
	order  []*Model
	frozen bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tables: make(map[string]*Model),
	}
}

// Register stores model under its table name, defaulting the name from
// segments. A second model with the same table is rejected.
func (r *Registry) Register(model *Model, segments []string) error {
	if r.frozen {
		return ErrFrozen
	}
	if model == nil {
		return fmt.Errorf("nil model: %w", ErrInvalidModel)
	}

	if model.TableName == "" {
		model.TableName = convention.TableName(segments)
	}
	if model.TableName == "" {
		return fmt.Errorf("empty table name: %w", ErrInvalidModel)
	}
	model.PathSegments = append([]string(nil), segments...)

	if existing, exists := r.tables[model.TableName]; exists {
		return &CollisionError{
			Table:    model.TableName,
			Existing: existing.Path(),
			Incoming: model.Path(),
		}
	}

	r.tables[model.TableName] = model
	r.order = append(r.order, model)
	return nil
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// Get returns the model registered under table.
func (r *Registry) Get(table string) (*Model, bool) {
	m, ok := r.tables[table]
	return m, ok
}

// FindByPath returns the first model whose joined path segments equal key.
// The comparison is exact and case-sensitive.
func (r *Registry) FindByPath(key string) (*Model, bool) {
	for _, m := range r.order {
		if m.Path() == key {
			return m, true
		}
	}
	return nil, false
}

// All returns the models in registration order.
func (r *Registry) All() []*Model {
	out := make([]*Model, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	return len(r.order)
}

// Decode builds a model from a module export. Accepted forms are *Model,
// Model, and a mapping with optional "table" and "fields" keys.
func Decode(v any) (*Model, error) {
	switch m := v.(type) {
	case *Model:
		if m == nil {
			return nil, fmt.Errorf("nil model: %w", ErrInvalidModel)
		}
		return m, nil
	case Model:
		return &m, nil
	case map[string]any:
		return decodeMap(m)
	case nil:
		return &Model{Fields: map[string]any{}}, nil
	}
	return nil, fmt.Errorf("%T: %w", v, ErrInvalidModel)
}

func decodeMap(raw map[string]any) (*Model, error) {
	model := &Model{Fields: map[string]any{}}

	if t, ok := raw["table"]; ok {
		name, ok := t.(string)
		if !ok {
			return nil, fmt.Errorf("table must be a string, got %T: %w", t, ErrInvalidModel)
		}
		model.TableName = name
	}

	if f, ok := raw["fields"]; ok && f != nil {
		fields, ok := f.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("fields must be a mapping, got %T: %w", f, ErrInvalidModel)
		}
		model.Fields = fields
	}

	return model, nil
}
