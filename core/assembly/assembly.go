// Package assembly builds an application from a module tree in one pass:
// models are registered, controllers normalized into routes, admin
// descriptors linked to models and arranged into the navigation tree, and a
// matcher built from the final route table.
//
// Assembly runs once before any request is served. Its outputs are never
// modified afterwards and may be read concurrently.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/artpar/convey/core/admin"
	"github.com/artpar/convey/core/convention"
	"github.com/artpar/convey/core/discovery"
	"github.com/artpar/convey/core/match"
	"github.com/artpar/convey/core/registry"
	"github.com/artpar/convey/core/route"
	"github.com/rs/zerolog"
)

// Category folders inside an application directory.
const (
	CategoryModels      = "models"
	CategoryControllers = "controllers"
	CategoryAdmin       = "admin"
)

// Warning kinds raised by assembly itself. Discovery warnings keep their
// discovery kind.
const (
	KindInvalidModel  discovery.WarningKind = "invalid_model"
	KindUnknownShape  discovery.WarningKind = "unknown_shape"
	KindInvalidShape  discovery.WarningKind = "invalid_shape"
	KindInvalidAdmin  discovery.WarningKind = "invalid_admin"
	KindUnlinkedAdmin discovery.WarningKind = "unlinked_admin"
	KindRouteConflict discovery.WarningKind = "route_conflict"
)

// ErrNoFS is returned when Options.FS is nil.
var ErrNoFS = errors.New("assembly: no file system")

// Observer receives assembly statistics.
type Observer interface {
	ObserveAssembly(stats Stats)
}

// Stats summarises one assembly run.
type Stats struct {
	Routes      int
	Models      int
	Descriptors int
	Warnings    map[discovery.WarningKind]int
	Duration    time.Duration
}

// Options configures Assemble.
type Options struct {
	// FS holds the application directory.
	FS fs.FS

	// App is the application directory name within FS. Empty means FS is
	// the application directory itself.
	App string

	// Suffix and Marker configure the path filter. Empty values use the
	// discovery defaults.
	Suffix string
	Marker string

	// Strip is the number of leading identifier segments removed from module
	// paths. Zero means discovery.DefaultStrip, or 1 when App is empty.
	Strip int

	// Index lists trailing controller segments dropped before a URL is
	// inferred, so controllers/posts/index serves /posts.
	Index []string

	// Symbols resolves !handler tags in YAML modules.
	Symbols discovery.Symbols

	// Loader overrides the YAML loader.
	Loader discovery.Loader

	// Generator, if set, contributes admin routes.
	Generator admin.Generator

	Logger   zerolog.Logger
	Observer Observer
}

// Application is the result of assembly.
type Application struct {
	Name        string
	Routes      *route.Table
	Models      *registry.Registry
	Admin       *admin.Folder
	Descriptors []*admin.Descriptor
	Matcher     *match.Tree
	Conflicts   []match.Conflict
	Warnings    []*discovery.Warning
}

// assembler carries the state of one run.
type assembler struct {
	opts     Options
	walker   *discovery.Walker
	logger   zerolog.Logger
	warnings []*discovery.Warning
}

// Assemble runs the assembly phases in order. Malformed modules are logged,
// recorded as warnings and skipped. Only a table-name collision between
// models, a generator failure or a cancelled ctx abort the run.
func Assemble(ctx context.Context, opts Options) (*Application, error) {
	if opts.FS == nil {
		return nil, ErrNoFS
	}
	start := time.Now()

	a := &assembler{opts: opts, logger: opts.Logger.With().Str("app", opts.App).Logger()}
	a.walker = a.newWalker()

	app := &Application{Name: opts.App}

	models, err := a.models()
	if err != nil {
		return nil, err
	}
	app.Models = models
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	routes := a.controllers()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	app.Descriptors, app.Admin = a.admin(models)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.Generator != nil {
		generated, err := opts.Generator.Generate(admin.GeneratorInput{
			Descriptors: app.Descriptors,
			Tree:        app.Admin,
		})
		if err != nil {
			return nil, fmt.Errorf("admin generator: %w", err)
		}
		for i := range generated {
			if generated[i].Source == "" {
				generated[i].Source = "admin-generator"
			}
		}
		routes = append(routes, generated...)
	}

	app.Routes = route.NewTable(routes)
	app.Matcher, app.Conflicts = match.Build(app.Routes)
	for _, c := range app.Conflicts {
		a.warn(&discovery.Warning{
			Path: c.Incoming,
			Kind: KindRouteConflict,
			Err:  fmt.Errorf("%s %s already registered by %s", c.Method, c.Path, c.Existing),
		})
	}
	app.Warnings = a.warnings

	stats := Stats{
		Routes:      app.Routes.Len(),
		Models:      models.Len(),
		Descriptors: len(app.Descriptors),
		Warnings:    map[discovery.WarningKind]int{},
		Duration:    time.Since(start),
	}
	for _, w := range app.Warnings {
		stats.Warnings[w.Kind]++
	}
	if opts.Observer != nil {
		opts.Observer.ObserveAssembly(stats)
	}

	a.logger.Info().
		Int("routes", stats.Routes).
		Int("models", stats.Models).
		Int("descriptors", stats.Descriptors).
		Int("warnings", len(app.Warnings)).
		Dur("duration", stats.Duration).
		Msg("application assembled")

	return app, nil
}

func (a *assembler) newWalker() *discovery.Walker {
	filter := discovery.DefaultFilter()
	if a.opts.Suffix != "" {
		filter.Suffix = a.opts.Suffix
	}
	if a.opts.Marker != "" {
		filter.Marker = a.opts.Marker
	}

	loader := a.opts.Loader
	if loader == nil {
		loader = discovery.NewYAMLLoader(a.opts.FS, filter.Suffix, a.opts.Symbols)
	}

	w := discovery.NewWalker(a.opts.FS, loader, a.logger)
	w.Filter = filter
	switch {
	case a.opts.Strip > 0:
		w.Strip = a.opts.Strip
	case a.opts.App == "":
		// FS is rooted at the application folder; only the category leads.
		w.Strip = 1
	}
	w.Report = func(warning *discovery.Warning) {
		a.warnings = append(a.warnings, warning)
	}
	return w
}

func (a *assembler) dir(category string) string {
	if a.opts.App == "" {
		return category
	}
	return path.Join(a.opts.App, category)
}

func (a *assembler) warn(w *discovery.Warning) {
	a.logger.Warn().
		Str("module", w.Path).
		Str("kind", string(w.Kind)).
		Err(w.Err).
		Msg("assembly warning")
	a.warnings = append(a.warnings, w)
}

// models registers every model module and freezes the registry.
func (a *assembler) models() (*registry.Registry, error) {
	reg := registry.New()
	var fatal error

	err := a.walker.Walk(a.dir(CategoryModels), func(m discovery.Module) {
		if fatal != nil {
			return
		}
		model, err := registry.Decode(m.Value)
		if err != nil {
			a.warn(&discovery.Warning{Path: m.Path, Kind: KindInvalidModel, Err: err})
			return
		}
		if err := reg.Register(model, m.Segments); err != nil {
			if errors.Is(err, registry.ErrInvalidModel) {
				a.warn(&discovery.Warning{Path: m.Path, Kind: KindInvalidModel, Err: err})
				return
			}
			fatal = fmt.Errorf("register model %s: %w", m.ID, err)
			return
		}
		a.logger.Debug().Str("module", m.ID).Str("table", model.TableName).Msg("model registered")
	})
	if fatal != nil {
		return nil, fatal
	}
	if err != nil {
		return nil, fmt.Errorf("walk models: %w", err)
	}

	reg.Freeze()
	return reg, nil
}

// controllers normalizes every controller module into routes.
func (a *assembler) controllers() []route.Route {
	var routes []route.Route

	err := a.walker.Walk(a.dir(CategoryControllers), func(m discovery.Module) {
		inferred := convention.InferURL(a.urlSegments(m.Segments))
		normalized, shape, err := convention.Normalize(m.Value, inferred)
		if err != nil {
			kind := KindInvalidShape
			if shape == convention.ShapeUnknown {
				kind = KindUnknownShape
			}
			a.warn(&discovery.Warning{Path: m.Path, Kind: kind, Err: err})
			return
		}

		for i := range normalized {
			normalized[i].Source = m.ID
			a.logger.Debug().
				Str("module", m.ID).
				Str("route", normalized[i].Path).
				Str("methods", normalized[i].MethodsLabel()).
				Str("shape", shape.String()).
				Msg("route registered")
		}
		routes = append(routes, normalized...)
	})
	if err != nil {
		a.warn(&discovery.Warning{Path: a.dir(CategoryControllers), Kind: discovery.KindWalkFailed, Err: err})
	}
	return routes
}

func (a *assembler) urlSegments(segments []string) []string {
	if len(segments) == 0 {
		return segments
	}
	last := segments[len(segments)-1]
	for _, idx := range a.opts.Index {
		if last == idx {
			return segments[:len(segments)-1]
		}
	}
	return segments
}

// admin links descriptors to models and builds the navigation tree.
func (a *assembler) admin(models *registry.Registry) ([]*admin.Descriptor, *admin.Folder) {
	tree := admin.NewTree()
	var descriptors []*admin.Descriptor

	err := a.walker.Walk(a.dir(CategoryAdmin), func(m discovery.Module) {
		d, err := admin.NewDescriptor(m.Value, m.Segments)
		if err != nil {
			a.warn(&discovery.Warning{Path: m.Path, Kind: KindInvalidAdmin, Err: err})
			return
		}

		if model, ok := models.FindByPath(d.Key()); ok {
			d.Model = model
		} else {
			a.warn(&discovery.Warning{
				Path: m.Path,
				Kind: KindUnlinkedAdmin,
				Err:  fmt.Errorf("no model at %q", d.Key()),
			})
		}

		admin.Insert(tree, m.Segments, d)
		descriptors = append(descriptors, d)
	})
	if err != nil {
		a.warn(&discovery.Warning{Path: a.dir(CategoryAdmin), Kind: discovery.KindWalkFailed, Err: err})
	}
	return descriptors, tree
}
