package admin_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/artpar/convey/adapters/hasher"
	"github.com/artpar/convey/adapters/http/admin"
	coreadmin "github.com/artpar/convey/core/admin"
	"github.com/artpar/convey/core/dispatch"
	"github.com/artpar/convey/core/match"
	"github.com/artpar/convey/core/registry"
	"github.com/artpar/convey/core/route"
	"github.com/artpar/convey/core/storage"
	"github.com/rs/zerolog"
)

func postsModel() *registry.Model {
	return &registry.Model{
		TableName:    "posts",
		Fields:       map[string]any{"title": "string", "views": "int"},
		PathSegments: []string{"posts"},
	}
}

func descriptors() []*coreadmin.Descriptor {
	return []*coreadmin.Descriptor{
		{Attributes: map[string]any{"title": "Posts", "perPage": 20}, Model: postsModel(), Path: []string{"posts"}},
		{Attributes: map[string]any{"title": "Ghost"}, Path: []string{"ghost"}},
	}
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.CreateTable(context.Background(), postsModel()); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	return store
}

func serve(t *testing.T, g *admin.Generator, ds []*coreadmin.Descriptor) http.Handler {
	t.Helper()
	tree := coreadmin.NewTree()
	for _, d := range ds {
		coreadmin.Insert(tree, d.Path, d)
	}
	routes, err := g.Generate(coreadmin.GeneratorInput{Descriptors: ds, Tree: tree})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	for _, r := range routes {
		if r.Source != admin.Source {
			t.Errorf("route %s source = %q", r.Path, r.Source)
		}
	}
	m, conflicts := match.Build(route.NewTable(routes))
	if len(conflicts) > 0 {
		t.Fatalf("Build() conflicts = %v", conflicts)
	}
	return dispatch.New(m, zerolog.Nop())
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestGenerator_Tree(t *testing.T) {
	h := serve(t, admin.New(admin.Options{}), descriptors())

	rec := do(t, h, "GET", "/admin", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	tree := decode(t, rec)
	if tree["name"] != coreadmin.RootName {
		t.Errorf("name = %v", tree["name"])
	}
	files, _ := tree["files"].([]any)
	if len(files) != 2 {
		t.Errorf("files = %v, want 2", files)
	}
}

func TestGenerator_Descriptor(t *testing.T) {
	h := serve(t, admin.New(admin.Options{}), descriptors())

	rec := do(t, h, "GET", "/admin/posts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	view := decode(t, rec)
	attrs := view["attributes"].(map[string]any)
	if attrs["title"] != "Posts" {
		t.Errorf("attributes = %v", attrs)
	}
	model, ok := view["model"].(map[string]any)
	if !ok || model["table"] != "posts" {
		t.Errorf("model = %v", view["model"])
	}

	view = decode(t, do(t, h, "GET", "/admin/ghost", ""))
	if view["model"] != nil {
		t.Errorf("unlinked model = %v, want null", view["model"])
	}
}

func TestGenerator_NoStoreNoRecords(t *testing.T) {
	h := serve(t, admin.New(admin.Options{}), descriptors())

	if rec := do(t, h, "GET", "/admin/posts/records", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGenerator_Records(t *testing.T) {
	h := serve(t, admin.New(admin.Options{Store: newStore(t)}), descriptors())

	rec := do(t, h, "POST", "/admin/posts/records", `{"title":"Hello","views":3}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	created := decode(t, rec)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("created = %v", created)
	}

	list := decode(t, do(t, h, "GET", "/admin/posts/records", ""))
	if list["total"] != float64(1) {
		t.Errorf("total = %v, want 1", list["total"])
	}

	rec = do(t, h, "PUT", "/admin/posts/records/"+id, `{"title":"Updated"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decode(t, do(t, h, "GET", "/admin/posts/records/"+id, "")); got["title"] != "Updated" {
		t.Errorf("title = %v", got["title"])
	}

	if rec := do(t, h, "PATCH", "/admin/posts/records/"+id, `{}`); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PATCH status = %d, want 405", rec.Code)
	}

	if rec := do(t, h, "DELETE", "/admin/posts/records/"+id, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/admin/posts/records/"+id, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}

	// Unlinked descriptors get no record routes.
	if rec := do(t, h, "GET", "/admin/ghost/records", ""); rec.Code != http.StatusNotFound {
		t.Errorf("ghost records = %d, want 404", rec.Code)
	}
}

func TestGenerator_BasicAuth(t *testing.T) {
	g := admin.New(admin.Options{
		Credentials: &admin.Credentials{
			Username:     "admin",
			PasswordHash: []byte("pw"),
			Hasher:       hasher.Fake{},
		},
	})
	h := serve(t, g, descriptors())

	rec := do(t, h, "GET", "/admin", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}

	tests := []struct {
		user, pass string
		want       int
	}{
		{"admin", "pw", http.StatusOK},
		{"admin", "wrong", http.StatusUnauthorized},
		{"root", "pw", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/admin/posts", nil)
		req.SetBasicAuth(tt.user, tt.pass)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s:%s status = %d, want %d", tt.user, tt.pass, rec.Code, tt.want)
		}
	}
}

func TestGenerator_MissingPasswordHash(t *testing.T) {
	g := admin.New(admin.Options{Credentials: &admin.Credentials{Username: "admin"}})
	if _, err := g.Generate(coreadmin.GeneratorInput{}); !errors.Is(err, admin.ErrNoPasswordHash) {
		t.Errorf("Generate() error = %v, want ErrNoPasswordHash", err)
	}
}

func TestGenerator_BasePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/admin"},
		{"/", "/admin"},
		{"manage/", "/manage"},
		{"/x//y/", "/x/y"},
	}
	for _, tt := range tests {
		if got := admin.New(admin.Options{BasePath: tt.in}).BasePath(); got != tt.want {
			t.Errorf("BasePath(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	h := serve(t, admin.New(admin.Options{BasePath: "/manage"}), descriptors())
	if rec := do(t, h, "GET", "/manage/posts", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
