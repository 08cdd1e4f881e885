package assembly

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"testing/fstest"

	"github.com/artpar/convey/core/admin"
	"github.com/artpar/convey/core/discovery"
	"github.com/artpar/convey/core/registry"
	"github.com/artpar/convey/core/route"
	"github.com/rs/zerolog"
)

func named(name string) discovery.Factory {
	return discovery.Func(func(*route.Request) (any, int, error) {
		return name, 0, nil
	})
}

func testSymbols() discovery.Symbols {
	return discovery.Symbols{
		"ok":    named("ok"),
		"one":   named("one"),
		"two":   named("two"),
		"three": named("three"),
	}
}

func file(s string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(s)}
}

// fooGroup is a controller group with empty, relative and absolute members.
const fooGroup = `- path: ""
  controller: !handler one
- path: sub
  controller: !handler two
- path: /abs
  controller: !handler three
`

func blogFS() fstest.MapFS {
	return fstest.MapFS{
		"blog/models/posts.yaml":        file("fields:\n  title: string\n  body: text\n"),
		"blog/models/users.yaml":        file("table: people\n"),
		"blog/models/bad.yaml":          file("- not\n- a model\n"),
		"blog/controllers/foo/bar.yaml": file("!handler ok\n"),
		"blog/controllers/custom.yaml":  file("path: /custom\ncontroller: !handler ok\nmethods: [GET]\n"),
		"blog/controllers/foo.yaml":     file(fooGroup),
		"blog/controllers/items.yaml":   file("GET: !handler one\nPOST: !handler two\n"),
		"blog/controllers/broken.yaml":  file("- path: /x\n  controller: !handler ok\n- path: /y\n"),
		"blog/controllers/weird.yaml":   file("42\n"),
		"blog/controllers/!draft.yaml":  file("!handler ok\n"),
		"blog/controllers/!wip/a.yaml":  file("!handler ok\n"),
		"blog/controllers/notes.txt":    file("hello"),
		"blog/controllers/missing.yaml": file("!handler nope\n"),
		"blog/admin/posts.yaml":         file("title: Posts\nperPage: 20\n"),
		"blog/admin/ghost.yaml":         file("title: Ghost\n"),
	}
}

func assemble(t *testing.T, opts Options) *Application {
	t.Helper()
	if opts.FS == nil {
		opts.FS = blogFS()
	}
	if opts.App == "" {
		opts.App = "blog"
	}
	if opts.Symbols == nil {
		opts.Symbols = testSymbols()
	}
	opts.Logger = zerolog.Nop()

	app, err := Assemble(context.Background(), opts)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	return app
}

func warningKinds(app *Application) map[discovery.WarningKind]int {
	kinds := map[discovery.WarningKind]int{}
	for _, w := range app.Warnings {
		kinds[w.Kind]++
	}
	return kinds
}

func callMatch(t *testing.T, app *Application, method, path string) string {
	t.Helper()
	h, params, err := app.Matcher.Match(method, path)
	if err != nil {
		t.Fatalf("Match(%s %s) error = %v", method, path, err)
	}
	resp, _, err := h(route.NewRequest(context.Background(), method, path, params))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	return resp.(string)
}

func TestAssemble_Routes(t *testing.T) {
	app := assemble(t, Options{})

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"DELETE", "/foo/bar", "ok"},
		{"GET", "/custom", "ok"},
		{"GET", "/foo", "one"},
		{"GET", "/foo/sub", "two"},
		{"PATCH", "/abs", "three"},
		{"GET", "/items", "one"},
		{"POST", "/items", "two"},
	}
	for _, tt := range tests {
		if got := callMatch(t, app, tt.method, tt.path); got != tt.want {
			t.Errorf("%s %s = %s, want %s", tt.method, tt.path, got, tt.want)
		}
	}

	// The explicit route ignores its inferred URL.
	if _, _, err := app.Matcher.Match("GET", "/custom/"); err != nil {
		t.Errorf("GET /custom/ error = %v", err)
	}
	if _, _, err := app.Matcher.Match("POST", "/custom"); err == nil {
		t.Error("POST /custom should not match a GET-only route")
	}

	// Multi-method controllers answer 405 themselves.
	h, _, err := app.Matcher.Match("PUT", "/items")
	if err != nil {
		t.Fatalf("PUT /items error = %v", err)
	}
	if _, status, _ := h(route.NewRequest(context.Background(), "PUT", "/items", nil)); status != http.StatusMethodNotAllowed {
		t.Errorf("PUT /items status = %d, want 405", status)
	}

	for _, p := range []string{"/x", "/y", "/draft", "/wip/a", "/missing", "/weird"} {
		if _, _, err := app.Matcher.Match("GET", p); err == nil {
			t.Errorf("GET %s should not match", p)
		}
	}

	var sources []string
	app.Routes.Each(func(r route.Route) {
		if r.Source == "" {
			t.Errorf("route %s has no source", r.Path)
		}
		sources = append(sources, r.Source)
	})
	if app.Routes.Len() != 6 {
		t.Errorf("Routes.Len() = %d, want 6 (%v)", app.Routes.Len(), sources)
	}
}

func TestAssemble_Warnings(t *testing.T) {
	app := assemble(t, Options{})
	kinds := warningKinds(app)

	want := map[discovery.WarningKind]int{
		KindInvalidModel:             1,
		KindInvalidShape:             1,
		KindUnknownShape:             1,
		discovery.KindFileExcluded:   1,
		discovery.KindFolderExcluded: 1,
		discovery.KindBadExtension:   1,
		discovery.KindLoadFailed:     1,
		KindUnlinkedAdmin:            1,
	}
	for kind, n := range want {
		if kinds[kind] != n {
			t.Errorf("warnings[%s] = %d, want %d (all: %v)", kind, kinds[kind], n, kinds)
		}
	}

	var loadErr error
	for _, w := range app.Warnings {
		if w.Kind == discovery.KindLoadFailed {
			loadErr = w
		}
	}
	if !errors.Is(loadErr, discovery.ErrMissingSymbol) {
		t.Errorf("load warning = %v, want ErrMissingSymbol", loadErr)
	}
}

func TestAssemble_Models(t *testing.T) {
	app := assemble(t, Options{})

	if !app.Models.Frozen() {
		t.Error("registry should be frozen after assembly")
	}
	if app.Models.Len() != 2 {
		t.Errorf("Models.Len() = %d, want 2", app.Models.Len())
	}
	posts, ok := app.Models.Get("posts")
	if !ok || len(posts.Fields) != 2 {
		t.Errorf("posts = %+v, %v", posts, ok)
	}
	if _, ok := app.Models.Get("people"); !ok {
		t.Error("explicit table name not registered")
	}
	if err := app.Models.Register(&registry.Model{}, []string{"late"}); !errors.Is(err, registry.ErrFrozen) {
		t.Errorf("Register() after assembly error = %v, want ErrFrozen", err)
	}
}

func TestAssemble_Admin(t *testing.T) {
	app := assemble(t, Options{})

	if len(app.Descriptors) != 2 {
		t.Fatalf("Descriptors = %d, want 2", len(app.Descriptors))
	}
	byKey := map[string]*admin.Descriptor{}
	for _, d := range app.Descriptors {
		byKey[d.Key()] = d
	}
	if byKey["posts"] == nil || byKey["posts"].Model == nil || byKey["posts"].Model.TableName != "posts" {
		t.Errorf("posts descriptor = %+v", byKey["posts"])
	}
	if byKey["ghost"] == nil || byKey["ghost"].Model != nil {
		t.Errorf("ghost descriptor = %+v, want unlinked", byKey["ghost"])
	}

	if app.Admin.Name != admin.RootName || len(app.Admin.Files) != 2 {
		t.Fatalf("admin tree = %+v", app.Admin)
	}
	for _, f := range app.Admin.Files {
		if f.Name == "posts" && f.Data["perPage"] != 20 {
			t.Errorf("posts leaf data = %v", f.Data)
		}
	}
}

func TestAssemble_Generator(t *testing.T) {
	var got admin.GeneratorInput
	gen := admin.GeneratorFunc(func(in admin.GeneratorInput) ([]route.Route, error) {
		got = in
		h := func(*route.Request) (any, int, error) { return "admin", 0, nil }
		return []route.Route{
			{Path: "/admin", Handler: h, Methods: []string{"GET"}},
			{Path: "/custom", Handler: h, Methods: []string{"GET"}},
		}, nil
	})

	app := assemble(t, Options{Generator: gen})

	if got.Tree != app.Admin || len(got.Descriptors) != 2 {
		t.Errorf("generator input = %+v", got)
	}
	if callMatch(t, app, "GET", "/admin") != "admin" {
		t.Error("generated route not matched")
	}
	if callMatch(t, app, "GET", "/custom") != "ok" {
		t.Error("controller route should win over generated duplicate")
	}
	if warningKinds(app)[KindRouteConflict] != 1 || len(app.Conflicts) != 1 {
		t.Errorf("conflicts = %+v", app.Conflicts)
	}
	if app.Conflicts[0].Incoming != "admin-generator" {
		t.Errorf("conflict = %+v", app.Conflicts[0])
	}
}

func TestAssemble_GeneratorError(t *testing.T) {
	gen := admin.GeneratorFunc(func(admin.GeneratorInput) ([]route.Route, error) {
		return nil, errors.New("template missing")
	})
	_, err := Assemble(context.Background(), Options{
		FS:        blogFS(),
		App:       "blog",
		Symbols:   testSymbols(),
		Generator: gen,
		Logger:    zerolog.Nop(),
	})
	if err == nil {
		t.Fatal("Assemble() should fail when the generator fails")
	}
}

func TestAssemble_TableCollision(t *testing.T) {
	fsys := fstest.MapFS{
		"app/models/a/b.yaml": file("fields: {}\n"),
		"app/models/a_b.yaml": file("fields: {}\n"),
	}
	_, err := Assemble(context.Background(), Options{FS: fsys, App: "app", Logger: zerolog.Nop()})
	if !errors.Is(err, registry.ErrTableCollision) {
		t.Fatalf("Assemble() error = %v, want ErrTableCollision", err)
	}
}

func TestAssemble_EmptyApp(t *testing.T) {
	app := assemble(t, Options{FS: fstest.MapFS{}, App: "nothing"})
	if app.Routes.Len() != 0 || app.Models.Len() != 0 || len(app.Descriptors) != 0 {
		t.Errorf("empty app = %+v", app)
	}
	if len(app.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", app.Warnings)
	}
}

func TestAssemble_RootedAtApp(t *testing.T) {
	fsys := fstest.MapFS{
		"models/posts.yaml":        file("fields:\n  title: string\n"),
		"controllers/foo/bar.yaml": file("!handler ok\n"),
		"admin/posts.yaml":         file("title: Posts\n"),
	}
	app, err := Assemble(context.Background(), Options{FS: fsys, Symbols: testSymbols(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	model, ok := app.Models.Get("posts")
	if !ok {
		t.Fatalf("model posts not registered, tables = %v", app.Models.All())
	}
	if model.Path() != "posts" {
		t.Errorf("model path = %s, want posts", model.Path())
	}
	if h, _, err := app.Matcher.Match(http.MethodGet, "/foo/bar"); err != nil || h == nil {
		t.Errorf("Match(/foo/bar) error = %v", err)
	}
	if len(app.Descriptors) != 1 || app.Descriptors[0].Model != model {
		t.Errorf("admin descriptor not linked: %+v", app.Descriptors)
	}
	if len(app.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", app.Warnings)
	}
}

func TestAssemble_EmptyTableName(t *testing.T) {
	fsys := fstest.MapFS{
		"app/models/posts.yaml": file("fields: {}\n"),
	}
	// Stripping every segment leaves nothing to name the table after.
	app, err := Assemble(context.Background(), Options{FS: fsys, App: "app", Strip: 3, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if app.Models.Len() != 0 {
		t.Errorf("Models.Len() = %d, want 0", app.Models.Len())
	}
	if kinds := warningKinds(app); kinds[KindInvalidModel] != 1 {
		t.Errorf("warnings = %v, want one invalid_model", kinds)
	}
}

func TestAssemble_MapLoader(t *testing.T) {
	fsys := fstest.MapFS{
		"shop/controllers/cart.yaml":   file(""),
		"shop/controllers/orders.yaml": file(""),
	}
	h := route.Handler(func(*route.Request) (any, int, error) { return "cart", 0, nil })
	loader := discovery.MapLoader{
		"shop/controllers/cart": h,
		"shop/controllers/orders": []any{
			map[string]any{"path": ":id", "controller": h, "methods": "GET"},
		},
	}

	app := assemble(t, Options{FS: fsys, App: "shop", Loader: loader})
	if callMatch(t, app, "GET", "/cart") != "cart" {
		t.Error("GET /cart not matched")
	}
	h2, params, err := app.Matcher.Match("GET", "/orders/9")
	if err != nil || h2 == nil || params["id"] != "9" {
		t.Errorf("GET /orders/9 = %v, %v", params, err)
	}
}

func TestAssemble_CustomSuffixAndMarker(t *testing.T) {
	fsys := fstest.MapFS{
		"app/controllers/a.yml":  file("!handler ok\n"),
		"app/controllers/_b.yml": file("!handler ok\n"),
		"app/controllers/c.yaml": file("!handler ok\n"),
	}
	app := assemble(t, Options{FS: fsys, App: "app", Suffix: ".yml", Marker: "_"})
	if app.Routes.Len() != 1 {
		t.Errorf("Routes.Len() = %d, want 1", app.Routes.Len())
	}
}

func TestAssemble_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Assemble(ctx, Options{FS: blogFS(), App: "blog", Symbols: testSymbols(), Logger: zerolog.Nop()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Assemble() error = %v, want context.Canceled", err)
	}
}

func TestAssemble_NoFS(t *testing.T) {
	if _, err := Assemble(context.Background(), Options{}); !errors.Is(err, ErrNoFS) {
		t.Errorf("Assemble() error = %v, want ErrNoFS", err)
	}
}

type statsObserver struct{ stats []Stats }

func (o *statsObserver) ObserveAssembly(s Stats) { o.stats = append(o.stats, s) }

func TestAssemble_Observer(t *testing.T) {
	obs := &statsObserver{}
	app := assemble(t, Options{Observer: obs})
	if len(obs.stats) != 1 {
		t.Fatalf("observer calls = %d, want 1", len(obs.stats))
	}
	s := obs.stats[0]
	if s.Routes != app.Routes.Len() || s.Models != 2 || s.Descriptors != 2 {
		t.Errorf("stats = %+v", s)
	}
	if s.Warnings[KindUnlinkedAdmin] != 1 {
		t.Errorf("stats warnings = %v", s.Warnings)
	}
}

func TestAssemble_IndexSegments(t *testing.T) {
	fsys := fstest.MapFS{
		"blog/controllers/index.yaml":       file("!handler one\n"),
		"blog/controllers/posts/index.yaml": file("!handler two\n"),
		"blog/controllers/posts/show.yaml":  file("!handler three\n"),
	}

	app := assemble(t, Options{FS: fsys, Index: []string{"index"}})

	tests := []struct {
		path string
		want string
	}{
		{"/", "one"},
		{"/posts", "two"},
		{"/posts/show", "three"},
	}
	for _, tt := range tests {
		if got := callMatch(t, app, http.MethodGet, tt.path); got != tt.want {
			t.Errorf("GET %s = %q, want %q", tt.path, got, tt.want)
		}
	}

	// Without Index the segment is part of the URL.
	app = assemble(t, Options{FS: fsys})
	if got := callMatch(t, app, http.MethodGet, "/posts/index"); got != "two" {
		t.Errorf("GET /posts/index = %q, want two", got)
	}
}
