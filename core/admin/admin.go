// Package admin builds the admin navigation tree from admin descriptors.
package admin

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/artpar/convey/core/convention"
	"github.com/artpar/convey/core/registry"
	"github.com/artpar/convey/core/route"
)

// RootName is the name of the tree's root folder.
const RootName = "admin"

// Descriptor is a user-supplied admin configuration for one model.
type Descriptor struct {
	// Attributes holds everything the module exported.
	Attributes map[string]any

	// Model is the linked model, or nil when none matched.
	Model *registry.Model

	// Path is the descriptor's location relative to the admin folder.
	Path []string
}

// Key returns the joined path used to link the descriptor to a model.
func (d *Descriptor) Key() string {
	return convention.JoinPath(d.Path)
}

// NewDescriptor wraps an admin module export. Mappings are used as the
// attribute set; a nil export yields an empty one.
func NewDescriptor(v any, segments []string) (*Descriptor, error) {
	var attrs map[string]any
	switch a := v.(type) {
	case map[string]any:
		attrs = a
	case nil:
		attrs = map[string]any{}
	default:
		return nil, fmt.Errorf("admin descriptor must be a mapping, got %T", v)
	}

	return &Descriptor{
		Attributes: attrs,
		Path:       append([]string(nil), segments...),
	}, nil
}

// Folder is a navigation folder.
type Folder struct {
	Name    string    `json:"name" yaml:"name"`
	Folders []*Folder `json:"folders" yaml:"folders"`
	Files   []File    `json:"files" yaml:"files"`
}

// File is a navigation leaf carrying a snapshot of its descriptor.
type File struct {
	Name string         `json:"name" yaml:"name"`
	Data map[string]any `json:"data" yaml:"data"`
}

// NewTree creates the root folder.
func NewTree() *Folder {
	return newFolder(RootName)
}

func newFolder(name string) *Folder {
	return &Folder{Name: name, Folders: []*Folder{}, Files: []File{}}
}

// Folder returns the child folder with name, or nil.
func (f *Folder) Folder(name string) *Folder {
	for _, child := range f.Folders {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// Insert places a leaf for descriptor at segments, creating intermediate
// folders as needed. Leaves are never deduplicated.
func Insert(root *Folder, segments []string, descriptor *Descriptor) {
	if len(segments) == 0 {
		return
	}

	current := root
	for _, name := range segments[:len(segments)-1] {
		child := current.Folder(name)
		if child == nil {
			child = newFolder(name)
			current.Folders = append(current.Folders, child)
		}
		current = child
	}

	current.Files = append(current.Files, File{
		Name: segments[len(segments)-1],
		Data: Snapshot(descriptor),
	})
}

// Walk calls fn for every file in the tree, depth first, with the path of
// folder names leading to it (root excluded).
func (f *Folder) Walk(fn func(path []string, file File)) {
	f.walk(nil, fn)
}

func (f *Folder) walk(prefix []string, fn func([]string, File)) {
	for _, file := range f.Files {
		fn(prefix, file)
	}
	for _, child := range f.Folders {
		next := append(append([]string(nil), prefix...), child.Name)
		child.walk(next, fn)
	}
}

// Snapshot returns a deep copy of the descriptor's attributes containing
// only values the JSON encoder can represent. Handlers, functions, model
// references and other live values are dropped.
func Snapshot(d *Descriptor) map[string]any {
	if d == nil {
		return map[string]any{}
	}
	out, _ := snapshotValue(d.Attributes)
	m, ok := out.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

func snapshotValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val, true
	case float64:
		return val, !math.IsNaN(val) && !math.IsInf(val, 0)
	case float32:
		f := float64(val)
		return val, !math.IsNaN(f) && !math.IsInf(f, 0)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if copied, ok := snapshotValue(item); ok {
				out[k] = copied
			}
		}
		return out, true
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if copied, ok := snapshotValue(item); ok {
				out = append(out, copied)
			}
		}
		return out, true
	case route.Handler, route.MethodHandlers, route.Deferred:
		return nil, false
	case *registry.Model, registry.Model:
		return nil, false
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, false
	}

	// Anything else survives only if it round-trips through JSON.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var copied any
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, false
	}
	return copied, true
}
