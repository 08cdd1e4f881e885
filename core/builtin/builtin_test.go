package builtin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/artpar/convey/core/discovery"
	"github.com/artpar/convey/core/registry"
	"github.com/artpar/convey/core/route"
	"github.com/artpar/convey/core/storage"
)

func request(method, target, body string, params map[string]string) *route.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	req := route.NewRequest(context.Background(), method, target, params)
	req.HTTP = r
	return req
}

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	model := &registry.Model{TableName: "posts", Fields: map[string]any{"title": "string"}}
	if err := store.CreateTable(context.Background(), model); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	return store
}

func TestSymbols_WithoutStore(t *testing.T) {
	s := Symbols(nil)
	if _, ok := s["echo"]; !ok {
		t.Error("echo missing")
	}
	if _, ok := s["records.list"]; ok {
		t.Error("records.* should require a store")
	}
}

func TestEcho(t *testing.T) {
	req := request("GET", "/e/5?x=1", "", map[string]string{"id": "5"})
	resp, status, err := Echo(req)
	if err != nil || status != http.StatusOK {
		t.Fatalf("Echo() = %d, %v", status, err)
	}
	m := resp.(map[string]any)
	if m["method"] != "GET" || m["uri"] != "/e/5?x=1" {
		t.Errorf("Echo() = %v", m)
	}
	if m["params"].(map[string]string)["id"] != "5" {
		t.Errorf("params = %v", m["params"])
	}
}

func TestText(t *testing.T) {
	h, err := Symbols(nil).Resolve("text hello   world")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	resp, _, _ := h(request("GET", "/", "", nil))
	if resp != "hello world" {
		t.Errorf("text = %q", resp)
	}
}

func TestEchoRejectsArgs(t *testing.T) {
	if _, err := Symbols(nil).Resolve("echo extra"); err == nil {
		t.Error("echo with args should fail")
	}
}

func TestRecords(t *testing.T) {
	store := newStore(t)
	symbols := Symbols(store)

	resolve := func(ref string) route.Handler {
		h, err := symbols.Resolve(ref)
		if err != nil {
			t.Fatalf("Resolve(%s) error = %v", ref, err)
		}
		return h
	}

	create := resolve("records.create posts")
	resp, status, err := create(request("POST", "/posts", `{"title":"Hello"}`, nil))
	if err != nil || status != http.StatusCreated {
		t.Fatalf("create = %d, %v", status, err)
	}
	id := resp.(map[string]any)["id"].(string)

	get := resolve("records.get posts")
	resp, status, err = get(request("GET", "/posts/"+id, "", map[string]string{"id": id}))
	if err != nil || status != http.StatusOK || resp.(map[string]any)["title"] != "Hello" {
		t.Fatalf("get = %v, %d, %v", resp, status, err)
	}

	update := resolve("records.update posts")
	resp, _, err = update(request("PUT", "/posts/"+id, `{"title":"Changed"}`, map[string]string{"id": id}))
	if err != nil || resp.(map[string]any)["title"] != "Changed" {
		t.Fatalf("update = %v, %v", resp, err)
	}

	list := resolve("records.list posts")
	resp, _, err = list(request("GET", "/posts?limit=10", "", nil))
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if resp.(map[string]any)["total"] != int64(1) {
		t.Errorf("list = %v", resp)
	}

	del := resolve("records.delete posts")
	if _, _, err := del(request("DELETE", "/posts/"+id, "", map[string]string{"id": id})); err != nil {
		t.Fatalf("delete error = %v", err)
	}

	resp, status, err = get(request("GET", "/posts/"+id, "", map[string]string{"id": id}))
	if resp != nil || status != http.StatusNotFound || !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("get after delete = %v, %d, %v", resp, status, err)
	}
}

func TestRecords_BadBody(t *testing.T) {
	store := newStore(t)
	h, _ := Records(store).Resolve("records.create posts")

	for _, body := range []string{"not json", "[1,2]", "null"} {
		resp, status, err := h(request("POST", "/posts", body, nil))
		if resp != nil || status != http.StatusBadRequest || err == nil {
			t.Errorf("body %q = %v, %d, %v", body, resp, status, err)
		}
	}
}

func TestRecords_FactoryArgs(t *testing.T) {
	symbols := Records(newStore(t))
	for _, ref := range []string{"records.list", "records.get a b"} {
		if _, err := symbols.Resolve(ref); err == nil {
			t.Errorf("Resolve(%q) should fail", ref)
		}
	}
	if _, err := symbols.Resolve("records.nope posts"); !errors.Is(err, discovery.ErrMissingSymbol) {
		t.Errorf("unknown symbol error = %v", err)
	}
}
