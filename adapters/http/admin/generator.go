// Package admin is the default admin controller generator. It turns the
// assembled admin descriptors into routes served by the dispatch pipeline:
//
//	GET  <base>                         navigation tree
//	GET  <base>/<path>                  descriptor snapshot and linked model
//	GET  <base>/<path>/records          list records of the linked model
//	POST <base>/<path>/records          create a record
//	GET  <base>/<path>/records/:id      fetch a record
//	PUT  <base>/<path>/records/:id      update a record
//	DELETE <base>/<path>/records/:id    delete a record
//
// Record routes exist only when a store is configured and the descriptor is
// linked to a model.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/artpar/convey/adapters/hasher"
	coreadmin "github.com/artpar/convey/core/admin"
	"github.com/artpar/convey/core/builtin"
	"github.com/artpar/convey/core/discovery"
	"github.com/artpar/convey/core/dispatch"
	"github.com/artpar/convey/core/registry"
	"github.com/artpar/convey/core/route"
	"github.com/artpar/convey/core/storage"
	"github.com/rs/zerolog"
)

// DefaultBasePath is where admin routes are mounted when none is configured.
const DefaultBasePath = "/admin"

// Source is recorded on every generated route.
const Source = "admin-generator"

// ErrNoPasswordHash is returned when credentials lack a password hash.
var ErrNoPasswordHash = errors.New("admin credentials require a password hash")

// Credentials protect the admin routes with HTTP basic auth.
type Credentials struct {
	Username     string
	PasswordHash []byte

	// Hasher compares passwords against PasswordHash. Defaults to bcrypt.
	Hasher hasher.Hasher
}

// Options configure the generator.
type Options struct {
	BasePath    string
	Store       storage.Store
	Credentials *Credentials
	Logger      zerolog.Logger
}

// Generator implements core/admin.Generator.
type Generator struct {
	base    string
	store   storage.Store
	creds   *Credentials
	records discovery.Symbols
	logger  zerolog.Logger
}

// New creates a generator.
func New(opts Options) *Generator {
	g := &Generator{
		base:   normalizeBase(opts.BasePath),
		store:  opts.Store,
		creds:  opts.Credentials,
		logger: opts.Logger,
	}
	if g.store != nil {
		g.records = builtin.Records(g.store)
	}
	if g.creds != nil && g.creds.Hasher == nil {
		g.creds.Hasher = hasher.NewBcrypt(0)
	}
	return g
}

// BasePath returns the normalized mount path.
func (g *Generator) BasePath() string {
	return g.base
}

// Generate implements core/admin.Generator.
func (g *Generator) Generate(in coreadmin.GeneratorInput) ([]route.Route, error) {
	if g.creds != nil && len(g.creds.PasswordHash) == 0 {
		return nil, ErrNoPasswordHash
	}

	tree := in.Tree
	if tree == nil {
		tree = coreadmin.NewTree()
	}

	routes := []route.Route{{
		Path:    g.base,
		Handler: g.guard(treeHandler(tree)),
		Methods: []string{http.MethodGet},
		Source:  Source,
	}}

	for _, d := range in.Descriptors {
		if d == nil || len(d.Path) == 0 {
			continue
		}
		p := path.Join(g.base, strings.Join(d.Path, "/"))

		routes = append(routes, route.Route{
			Path:    p,
			Handler: g.guard(descriptorHandler(d)),
			Methods: []string{http.MethodGet},
			Source:  Source,
		})

		if d.Model == nil || g.records == nil {
			continue
		}
		recordRoutes, err := g.recordRoutes(p, d.Model)
		if err != nil {
			return nil, fmt.Errorf("admin %s: %w", d.Key(), err)
		}
		routes = append(routes, recordRoutes...)
	}

	g.logger.Debug().
		Str("base_path", g.base).
		Int("routes", len(routes)).
		Msg("generated admin routes")

	return routes, nil
}

func (g *Generator) recordRoutes(p string, model *registry.Model) ([]route.Route, error) {
	resolve := func(name string) (route.Handler, error) {
		return g.records.Resolve(name + " " + model.TableName)
	}

	collection := route.MethodHandlers{}
	member := route.MethodHandlers{}
	for _, b := range []struct {
		handlers route.MethodHandlers
		method   string
		symbol   string
	}{
		{collection, http.MethodGet, "records.list"},
		{collection, http.MethodPost, "records.create"},
		{member, http.MethodGet, "records.get"},
		{member, http.MethodPut, "records.update"},
		{member, http.MethodDelete, "records.delete"},
	} {
		h, err := resolve(b.symbol)
		if err != nil {
			return nil, err
		}
		b.handlers[b.method] = h
	}

	return []route.Route{
		{
			Path:    p + "/records",
			Handler: g.guard(collection.Handle),
			Methods: collection.Methods(),
			Source:  Source,
		},
		{
			Path:    p + "/records/:id",
			Handler: g.guard(member.Handle),
			Methods: member.Methods(),
			Source:  Source,
		},
	}, nil
}

func treeHandler(tree *coreadmin.Folder) route.Handler {
	return func(*route.Request) (any, int, error) {
		return tree, http.StatusOK, nil
	}
}

// DescriptorView is the JSON form of one admin descriptor.
type DescriptorView struct {
	Path       string         `json:"path"`
	Attributes map[string]any `json:"attributes"`
	Model      *ModelView     `json:"model"`
}

// ModelView describes a linked model.
type ModelView struct {
	Table  string         `json:"table"`
	Path   string         `json:"path"`
	Fields map[string]any `json:"fields"`
}

func descriptorHandler(d *coreadmin.Descriptor) route.Handler {
	view := DescriptorView{
		Path:       d.Key(),
		Attributes: coreadmin.Snapshot(d),
	}
	if d.Model != nil {
		view.Model = &ModelView{
			Table:  d.Model.TableName,
			Path:   d.Model.Path(),
			Fields: d.Model.Fields,
		}
	}
	return func(*route.Request) (any, int, error) {
		return view, http.StatusOK, nil
	}
}

// guard wraps h with basic auth when credentials are configured.
func (g *Generator) guard(h route.Handler) route.Handler {
	if g.creds == nil {
		return h
	}
	return func(req *route.Request) (any, int, error) {
		if !g.authorized(req) {
			return challenge, http.StatusUnauthorized, nil
		}
		return h(req)
	}
}

func (g *Generator) authorized(req *route.Request) bool {
	if req.HTTP == nil {
		return false
	}
	user, pass, ok := req.HTTP.BasicAuth()
	if !ok || user != g.creds.Username {
		return false
	}
	return g.creds.Hasher.Compare(g.creds.PasswordHash, pass)
}

var challenge route.Deferred = func(w http.ResponseWriter) error {
	body, _ := json.Marshal("unauthorized")
	w.Header().Set("WWW-Authenticate", `Basic realm="convey admin"`)
	w.Header().Set("Content-Type", dispatch.ContentTypeJSON)
	w.WriteHeader(http.StatusUnauthorized)
	_, err := w.Write(body)
	return err
}

func normalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return DefaultBasePath
	}
	base = path.Clean("/" + base)
	if base == "/" {
		return DefaultBasePath
	}
	return base
}
