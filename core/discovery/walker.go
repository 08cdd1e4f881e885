package discovery

import (
	"errors"
	"io/fs"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultStrip is the number of leading identifier segments (application
// name and category folder) removed from module paths.
const DefaultStrip = 2

// Module is a successfully loaded module file. It is handed to the walk
// callback and not retained by the walker.
type Module struct {
	// Path is the slash-separated file path within the walked file system.
	Path string

	// ID is Path without its extension.
	ID string

	// Segments is the identifier with the common prefix removed.
	Segments []string

	// Value is what the module exports.
	Value any
}

// Walker drives the filter and loader over a directory tree.
type Walker struct {
	FS     fs.FS
	Filter Filter
	Loader Loader

	// Strip is the number of leading identifier segments to drop.
	Strip int

	Logger zerolog.Logger

	// Report, if set, receives every warning raised during the walk.
	Report func(*Warning)
}

// NewWalker creates a walker with the default filter and strip count.
func NewWalker(fsys fs.FS, loader Loader, logger zerolog.Logger) *Walker {
	return &Walker{
		FS:     fsys,
		Filter: DefaultFilter(),
		Loader: loader,
		Strip:  DefaultStrip,
		Logger: logger,
	}
}

// Walk visits every file under dir in lexical order and calls fn for each
// accepted module that loads. Rejected or failing files are logged and
// skipped. A missing dir contributes nothing.
func (w *Walker) Walk(dir string, fn func(Module)) error {
	return fs.WalkDir(w.FS, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir && errors.Is(err, fs.ErrNotExist) {
				w.Logger.Debug().Str("dir", dir).Msg("module directory not present")
				return fs.SkipAll
			}
			w.warn(&Warning{Path: p, Kind: KindWalkFailed, Err: err})
			return nil
		}

		if d.IsDir() {
			return nil
		}

		// Exclusions are applied before any load attempt.
		if err := w.Filter.Check(p); err != nil {
			var warning *Warning
			if errors.As(err, &warning) {
				w.warn(warning)
			} else {
				w.warn(&Warning{Path: p, Kind: KindWalkFailed, Err: err})
			}
			return nil
		}

		id := strings.TrimSuffix(p, path.Ext(p))
		value, err := w.Loader.Load(id)
		if err != nil {
			w.warn(&Warning{Path: p, Kind: KindLoadFailed, Err: err})
			return nil
		}

		fn(Module{
			Path:     p,
			ID:       id,
			Segments: w.relative(id),
			Value:    value,
		})
		return nil
	})
}

func (w *Walker) relative(id string) []string {
	segments := strings.Split(id, "/")
	if w.Strip >= len(segments) {
		return []string{}
	}
	return segments[w.Strip:]
}

func (w *Walker) warn(warning *Warning) {
	w.Logger.Warn().
		Str("path", warning.Path).
		Str("kind", string(warning.Kind)).
		Err(warning.Err).
		Msg("skipping module")

	if w.Report != nil {
		w.Report(warning)
	}
}
