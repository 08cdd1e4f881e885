package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/artpar/convey/core/route"
	"gopkg.in/yaml.v3"
)

// HandlerTag marks a YAML scalar that names a handler symbol.
//
//	controller: !handler posts.show
//	list: !handler records.list posts
const HandlerTag = "!handler"

var (
	// ErrMissingSymbol is returned when a module references an unknown handler.
	ErrMissingSymbol = errors.New("missing symbol")

	// ErrModuleNotFound is returned when a loader has no module for an id.
	ErrModuleNotFound = errors.New("module not found")
)

// Loader resolves a module identifier (slash-separated path without
// extension) to the value the module exports.
type Loader interface {
	Load(id string) (any, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(id string) (any, error)

// Load implements Loader.
func (f LoaderFunc) Load(id string) (any, error) {
	return f(id)
}

// MapLoader serves module values from memory, keyed by identifier.
type MapLoader map[string]any

// Load implements Loader.
func (m MapLoader) Load(id string) (any, error) {
	v, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrModuleNotFound)
	}
	return v, nil
}

// Factory builds a handler from the arguments following the symbol name.
type Factory func(args []string) (route.Handler, error)

// Func wraps a plain handler as a Factory that accepts no arguments.
func Func(h route.Handler) Factory {
	return func(args []string) (route.Handler, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("handler takes no arguments, got %d", len(args))
		}
		return h, nil
	}
}

// Symbols is the table of handlers module files may reference.
type Symbols map[string]Factory

// Merge returns a new table containing s overlaid with other.
func (s Symbols) Merge(other Symbols) Symbols {
	out := make(Symbols, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Names returns the sorted symbol names.
func (s Symbols) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns a reference such as "records.get posts" into a handler.
func (s Symbols) Resolve(ref string) (route.Handler, error) {
	fields := strings.Fields(ref)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty handler reference: %w", ErrMissingSymbol)
	}

	factory, ok := s[fields[0]]
	if !ok {
		return nil, fmt.Errorf("%q: %w", fields[0], ErrMissingSymbol)
	}

	h, err := factory(fields[1:])
	if err != nil {
		return nil, fmt.Errorf("handler %q: %w", fields[0], err)
	}
	return h, nil
}

// YAMLLoader loads modules from YAML files in a file system.
type YAMLLoader struct {
	FS      fs.FS
	Suffix  string
	Symbols Symbols
}

// NewYAMLLoader creates a loader reading id+suffix files from fsys.
func NewYAMLLoader(fsys fs.FS, suffix string, symbols Symbols) *YAMLLoader {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return &YAMLLoader{FS: fsys, Suffix: suffix, Symbols: symbols}
}

// Load implements Loader.
func (l *YAMLLoader) Load(id string) (any, error) {
	data, err := fs.ReadFile(l.FS, id+l.Suffix)
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}
	return Decode(data, l.Symbols)
}

// Decode parses a YAML document into untyped values, resolving handler tags.
// Mappings become map[string]any and sequences []any.
func Decode(data []byte, symbols Symbols) (any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc.Kind == 0 {
		return nil, nil
	}

	d := decoder{symbols: symbols}
	return d.value(&doc)
}

type decoder struct {
	symbols Symbols
}

func (d decoder) value(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return d.value(n.Content[0])

	case yaml.AliasNode:
		return d.value(n.Alias)

	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := d.value(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		if err := d.mapping(n, out); err != nil {
			return nil, err
		}
		return out, nil

	case yaml.ScalarNode:
		if n.Tag == HandlerTag {
			h, err := d.symbols.Resolve(n.Value)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n.Line, err)
			}
			return h, nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}

	return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
}

func (d decoder) mapping(n *yaml.Node, out map[string]any) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]

		// Merge keys copy the referenced mapping(s) into this one.
		if key.Tag == "!!merge" {
			target := val
			if target.Kind == yaml.AliasNode {
				target = target.Alias
			}
			if target.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: merge value must be a mapping", key.Line)
			}
			if err := d.mapping(target, out); err != nil {
				return err
			}
			continue
		}

		v, err := d.value(val)
		if err != nil {
			return err
		}
		out[key.Value] = v
	}
	return nil
}
