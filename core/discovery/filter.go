package discovery

import (
	"fmt"
	"path"
	"strings"
)

// DefaultSuffix is the extension of module files.
const DefaultSuffix = ".yaml"

// DefaultMarker excludes a file or its immediate folder when it prefixes the name.
const DefaultMarker = "!"

// WarningKind classifies a recoverable assembly problem.
type WarningKind string

// Warning kinds raised during discovery.
const (
	KindBadExtension   WarningKind = "bad_extension"
	KindFolderExcluded WarningKind = "folder_excluded"
	KindFileExcluded   WarningKind = "file_excluded"
	KindLoadFailed     WarningKind = "load_failed"
	KindWalkFailed     WarningKind = "walk_failed"
)

// Warning is a non-fatal problem with a single module file.
type Warning struct {
	Path string
	Kind WarningKind
	Err  error
}

func (w *Warning) Error() string {
	return fmt.Sprintf("%s: %s: %v", w.Path, w.Kind, w.Err)
}

func (w *Warning) Unwrap() error {
	return w.Err
}

// Filter decides whether a discovered file takes part in assembly.
type Filter struct {
	// Suffix is the required file extension, including the dot.
	Suffix string

	// Marker excludes files or folders whose name starts with it.
	Marker string
}

// DefaultFilter returns a filter for .yaml modules with the '!' marker.
func DefaultFilter() Filter {
	return Filter{Suffix: DefaultSuffix, Marker: DefaultMarker}
}

// Check returns nil if the slash-separated path p is accepted, or a *Warning
// describing the first rule it fails.
func (f Filter) Check(p string) error {
	ext := path.Ext(p)
	if ext != f.Suffix {
		return &Warning{Path: p, Kind: KindBadExtension, Err: fmt.Errorf("not a recognized module file")}
	}

	if f.Marker != "" {
		folder := path.Base(path.Dir(p))
		if strings.HasPrefix(folder, f.Marker) {
			return &Warning{Path: p, Kind: KindFolderExcluded, Err: fmt.Errorf("folder %q excluded", folder)}
		}

		base := strings.TrimSuffix(path.Base(p), ext)
		if strings.HasPrefix(base, f.Marker) {
			return &Warning{Path: p, Kind: KindFileExcluded, Err: fmt.Errorf("file %q excluded", base)}
		}
	}

	return nil
}
