package admin

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/artpar/convey/core/registry"
	"github.com/artpar/convey/core/route"
)

func TestInsert_DuplicatePaths(t *testing.T) {
	root := NewTree()
	d := &Descriptor{Attributes: map[string]any{"title": "C"}}

	Insert(root, []string{"a", "b", "c"}, d)
	Insert(root, []string{"a", "b", "c"}, d)

	if root.Name != RootName {
		t.Errorf("root name = %s, want %s", root.Name, RootName)
	}
	if len(root.Folders) != 1 || root.Folders[0].Name != "a" {
		t.Fatalf("root folders = %+v, want one a folder", root.Folders)
	}
	a := root.Folders[0]
	if len(a.Folders) != 1 || a.Folders[0].Name != "b" {
		t.Fatalf("a folders = %+v, want one b folder", a.Folders)
	}
	b := a.Folders[0]
	if len(b.Files) != 2 {
		t.Fatalf("b files = %d, want 2", len(b.Files))
	}
	for _, f := range b.Files {
		if f.Name != "c" {
			t.Errorf("file name = %s, want c", f.Name)
		}
		if f.Data["title"] != "C" {
			t.Errorf("file data = %v", f.Data)
		}
	}
	if len(a.Files) != 0 || len(root.Files) != 0 {
		t.Error("intermediate folders should have no files")
	}
}

func TestInsert_Shapes(t *testing.T) {
	root := NewTree()
	Insert(root, []string{"users"}, nil)
	Insert(root, []string{"blog", "posts"}, nil)
	Insert(root, []string{"blog", "comments"}, nil)
	Insert(root, []string{"blog", "meta", "tags"}, nil)
	Insert(root, nil, nil)

	if len(root.Files) != 1 || root.Files[0].Name != "users" {
		t.Errorf("root files = %+v", root.Files)
	}
	blog := root.Folder("blog")
	if blog == nil {
		t.Fatal("blog folder missing")
	}
	if len(blog.Files) != 2 || blog.Files[0].Name != "posts" || blog.Files[1].Name != "comments" {
		t.Errorf("blog files = %+v, want posts, comments in order", blog.Files)
	}
	if blog.Folder("meta") == nil || len(blog.Folder("meta").Files) != 1 {
		t.Error("meta/tags missing")
	}
	if root.Folder("missing") != nil {
		t.Error("Folder(missing) should be nil")
	}

	var paths []string
	root.Walk(func(path []string, f File) {
		p := ""
		for _, seg := range path {
			p += seg + "/"
		}
		paths = append(paths, p+f.Name)
	})
	want := []string{"users", "blog/posts", "blog/comments", "blog/meta/tags"}
	if len(paths) != len(want) {
		t.Fatalf("Walk() = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("Walk()[%d] = %s, want %s", i, paths[i], want[i])
		}
	}
}

func TestInsert_FolderPrefixesMatchDescriptorPaths(t *testing.T) {
	root := NewTree()
	descriptorPaths := [][]string{{"x", "y", "z"}, {"x", "w"}, {"v"}}
	for _, p := range descriptorPaths {
		Insert(root, p, nil)
	}

	var check func(f *Folder, prefix []string)
	check = func(f *Folder, prefix []string) {
		for _, child := range f.Folders {
			path := append(append([]string(nil), prefix...), child.Name)
			if !isPrefixOfAny(path, descriptorPaths) {
				t.Errorf("folder path %v is not a prefix of any descriptor path", path)
			}
			check(child, path)
		}
	}
	check(root, nil)
}

func isPrefixOfAny(prefix []string, paths [][]string) bool {
	for _, p := range paths {
		if len(prefix) > len(p) {
			continue
		}
		match := true
		for i := range prefix {
			if prefix[i] != p[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestSnapshot_StripsLiveValues(t *testing.T) {
	model := &registry.Model{TableName: "posts"}
	h := route.Handler(func(*route.Request) (any, int, error) { return nil, 0, nil })

	d := &Descriptor{
		Model: model,
		Attributes: map[string]any{
			"title":   "Posts",
			"perPage": 20,
			"ratio":   0.5,
			"hidden":  false,
			"none":    nil,
			"model":   model,
			"onSave":  h,
			"raw":     func() {},
			"ch":      make(chan int),
			"nan":     math.NaN(),
			"columns": []any{"title", h, map[string]any{"name": "body", "render": h}},
			"nested":  map[string]any{"deep": map[string]any{"ok": "yes", "fn": h}},
			"struct":  struct{ Label string }{"L"},
		},
	}

	snap := Snapshot(d)

	for _, dropped := range []string{"model", "onSave", "raw", "ch", "nan"} {
		if _, ok := snap[dropped]; ok {
			t.Errorf("snapshot kept %q", dropped)
		}
	}
	if _, ok := snap["none"]; !ok {
		t.Error("snapshot should keep explicit nulls")
	}

	columns := snap["columns"].([]any)
	if len(columns) != 2 {
		t.Fatalf("columns = %v, want 2 entries", columns)
	}
	if _, ok := columns[1].(map[string]any)["render"]; ok {
		t.Error("nested handler kept")
	}

	deep := snap["nested"].(map[string]any)["deep"].(map[string]any)
	if deep["ok"] != "yes" || deep["fn"] != nil {
		t.Errorf("deep = %v", deep)
	}
	if snap["struct"].(map[string]any)["Label"] != "L" {
		t.Errorf("struct = %v", snap["struct"])
	}

	if _, err := json.Marshal(snap); err != nil {
		t.Fatalf("snapshot is not JSON-safe: %v", err)
	}

	// The snapshot is a copy.
	snap["title"] = "changed"
	snap["nested"].(map[string]any)["deep"].(map[string]any)["ok"] = "no"
	if d.Attributes["title"] != "Posts" {
		t.Error("snapshot shares top-level map with descriptor")
	}
	if d.Attributes["nested"].(map[string]any)["deep"].(map[string]any)["ok"] != "yes" {
		t.Error("snapshot shares nested map with descriptor")
	}
}

func TestSnapshot_Nil(t *testing.T) {
	if got := Snapshot(nil); got == nil || len(got) != 0 {
		t.Errorf("Snapshot(nil) = %v, want empty map", got)
	}
}

func TestNewDescriptor(t *testing.T) {
	d, err := NewDescriptor(map[string]any{"title": "T"}, []string{"blog", "posts"})
	if err != nil {
		t.Fatalf("NewDescriptor() error = %v", err)
	}
	if d.Key() != "blog/posts" {
		t.Errorf("Key() = %s, want blog/posts", d.Key())
	}

	empty, err := NewDescriptor(nil, []string{"x"})
	if err != nil || empty.Attributes == nil {
		t.Errorf("NewDescriptor(nil) = %+v, %v", empty, err)
	}

	if _, err := NewDescriptor("nope", nil); err == nil {
		t.Error("NewDescriptor(string) should fail")
	}
}

func TestGeneratorFunc(t *testing.T) {
	var got GeneratorInput
	g := GeneratorFunc(func(in GeneratorInput) ([]route.Route, error) {
		got = in
		return []route.Route{{Path: "/admin"}}, nil
	})

	tree := NewTree()
	routes, err := g.Generate(GeneratorInput{Tree: tree})
	if err != nil || len(routes) != 1 {
		t.Fatalf("Generate() = %v, %v", routes, err)
	}
	if got.Tree != tree {
		t.Error("generator did not receive tree")
	}
}
