// Package convention derives routes and names from the shape and location of
// module exports. Nothing here is declared by the user; every decision is
// inferred from path segments and value structure.
package convention

import (
	"strings"
)

// PathSeparator separates URL path segments.
const PathSeparator = "/"

// TableSeparator joins model path segments into a table name.
const TableSeparator = "_"

// InferURL builds the URL a controller file answers on by default.
// Bracketed segments become parameters: [id] -> :id, [...rest] -> *rest.
func InferURL(segments []string) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = paramSegment(seg)
	}
	return PathSeparator + strings.Join(parts, PathSeparator)
}

func paramSegment(seg string) string {
	if len(seg) < 3 || seg[0] != '[' || seg[len(seg)-1] != ']' {
		return seg
	}

	inner := seg[1 : len(seg)-1]
	if rest, ok := strings.CutPrefix(inner, "..."); ok && rest != "" {
		return "*" + rest
	}

	// [id:int] keeps only the name; types are not enforced.
	if name, _, ok := strings.Cut(inner, ":"); ok {
		inner = name
	}
	if inner == "" {
		return seg
	}
	return ":" + inner
}

// TableName returns the default table name for a model at segments.
func TableName(segments []string) string {
	return strings.Join(segments, TableSeparator)
}

// JoinPath joins model or admin segments into the key used for linkage.
func JoinPath(segments []string) string {
	return strings.Join(segments, PathSeparator)
}

// ResolveMemberPath resolves a controller group member's path against the
// group's inferred URL. An empty path inherits the base, a relative path is
// appended to it, and an absolute path is used unchanged.
func ResolveMemberPath(base, p string) string {
	switch {
	case p == "":
		return base
	case !strings.HasPrefix(p, PathSeparator):
		if base == PathSeparator {
			return base + p
		}
		return base + PathSeparator + p
	default:
		return p
	}
}
