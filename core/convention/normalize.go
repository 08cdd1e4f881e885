package convention

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/artpar/convey/core/route"
)

// Shape is the structural variant of a controller export.
type Shape int

// Controller shapes in classification order.
const (
	ShapeUnknown Shape = iota
	ShapeDirect
	ShapeExplicit
	ShapeMultiMethod
	ShapeGroup
)

func (s Shape) String() string {
	switch s {
	case ShapeDirect:
		return "direct"
	case ShapeExplicit:
		return "explicit"
	case ShapeMultiMethod:
		return "multi_method"
	case ShapeGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Declaration field names, with their positional fallbacks.
const (
	FieldPath       = "path"
	FieldController = "controller"
	FieldHandler    = "handler"
	FieldMethods    = "methods"

	slotPath       = 0
	slotController = 1
	slotMethods    = 2
)

// ErrUnknownShape is returned for exports that match no controller shape.
var ErrUnknownShape = errors.New("unrecognized controller shape")

// ShapeError reports a malformed route declaration.
type ShapeError struct {
	Shape Shape

	// Member is the index of the offending group member, or -1.
	Member int

	Reason string
}

func (e *ShapeError) Error() string {
	if e.Member >= 0 {
		return fmt.Sprintf("%s controller member %d: %s", e.Shape, e.Member, e.Reason)
	}
	return fmt.Sprintf("%s controller: %s", e.Shape, e.Reason)
}

// Invocable returns v as a route handler if it can be called.
// net/http handlers are adapted into handlers returning a Deferred response.
func Invocable(v any) (route.Handler, bool) {
	switch h := v.(type) {
	case route.Handler:
		return h, h != nil
	case func(*route.Request) (any, int, error):
		return route.Handler(h), h != nil
	case route.MethodHandlers:
		return h.Handle, len(h) > 0
	case http.Handler:
		return fromHTTP(h), h != nil
	case func(http.ResponseWriter, *http.Request):
		return fromHTTP(http.HandlerFunc(h)), h != nil
	}
	return nil, false
}

func fromHTTP(h http.Handler) route.Handler {
	return func(req *route.Request) (any, int, error) {
		deferred := route.Deferred(func(w http.ResponseWriter) error {
			r := req.HTTP
			if r == nil {
				var err error
				r, err = http.NewRequestWithContext(req.Context(), req.Method, req.URI, nil)
				if err != nil {
					return err
				}
			}
			h.ServeHTTP(w, r)
			return nil
		})
		return deferred, 0, nil
	}
}

// Classify returns the shape of a controller export without building routes.
// Rules are tried in order and the first that matches wins.
func Classify(v any) Shape {
	if _, ok := Invocable(v); ok {
		return ShapeDirect
	}
	if isDeclaration(v) {
		return ShapeExplicit
	}
	if m, ok := v.(map[string]any); ok {
		if _, err := methodHandlers(m); err == nil {
			return ShapeMultiMethod
		}
	}
	if isGroup(v) {
		return ShapeGroup
	}
	return ShapeUnknown
}

// Normalize turns a controller export into routes. inferredURL is the URL
// derived from the module's location.
func Normalize(v any, inferredURL string) ([]route.Route, Shape, error) {
	if h, ok := Invocable(v); ok {
		return []route.Route{{Path: inferredURL, Handler: h}}, ShapeDirect, nil
	}

	if isDeclaration(v) {
		r, err := declaration(v)
		if err != nil {
			return nil, ShapeExplicit, withShape(err, ShapeExplicit, -1)
		}
		return []route.Route{r}, ShapeExplicit, nil
	}

	if m, ok := v.(map[string]any); ok {
		// A failed validation here is not an error; the value is simply
		// not a multi-method controller.
		if handlers, err := methodHandlers(m); err == nil {
			return []route.Route{{Path: inferredURL, Handler: handlers.Handle}}, ShapeMultiMethod, nil
		}
	}

	if isGroup(v) {
		routes, err := group(v, inferredURL)
		if err != nil {
			return nil, ShapeGroup, err
		}
		return routes, ShapeGroup, nil
	}

	return nil, ShapeUnknown, fmt.Errorf("%T: %w", v, ErrUnknownShape)
}

func isDeclaration(v any) bool {
	switch d := v.(type) {
	case route.Declaration:
		return true
	case *route.Declaration:
		return d != nil
	}
	p, ok := field(v, FieldPath, slotPath)
	if !ok {
		return false
	}
	_, ok = p.(string)
	return ok
}

func isGroup(v any) bool {
	switch v := v.(type) {
	case []route.Declaration:
		return len(v) > 0
	case []any:
		return len(v) > 0 && structured(v[0])
	}
	return false
}

func structured(v any) bool {
	switch v.(type) {
	case map[string]any, []any, route.Declaration, *route.Declaration:
		return true
	}
	return false
}

// field reads a named field from a mapping, or a positional slot from a sequence.
func field(v any, name string, slot int) (any, bool) {
	switch v := v.(type) {
	case map[string]any:
		val, ok := v[name]
		return val, ok
	case []any:
		if slot < len(v) {
			return v[slot], true
		}
	}
	return nil, false
}

func declaration(v any) (route.Route, error) {
	switch d := v.(type) {
	case route.Declaration:
		return typedDeclaration(d)
	case *route.Declaration:
		return typedDeclaration(*d)
	}

	raw, _ := field(v, FieldPath, slotPath)
	p, ok := raw.(string)
	if !ok {
		return route.Route{}, &ShapeError{Reason: "path must be a string"}
	}

	ctrl, ok := field(v, FieldController, slotController)
	if !ok {
		ctrl, ok = field(v, FieldHandler, slotController)
	}
	if !ok {
		return route.Route{}, &ShapeError{Reason: "controller is missing"}
	}
	h, ok := Invocable(ctrl)
	if !ok {
		return route.Route{}, &ShapeError{Reason: fmt.Sprintf("controller is not invocable (%T)", ctrl)}
	}

	var methods []string
	if raw, ok := field(v, FieldMethods, slotMethods); ok {
		var err error
		if methods, err = parseMethods(raw); err != nil {
			return route.Route{}, err
		}
	}

	return route.Route{Path: p, Handler: h, Methods: methods}, nil
}

func typedDeclaration(d route.Declaration) (route.Route, error) {
	if d.Controller == nil {
		return route.Route{}, &ShapeError{Reason: "controller is missing"}
	}
	methods, err := parseMethods(d.Methods)
	if err != nil {
		return route.Route{}, err
	}
	return route.Route{Path: d.Path, Handler: d.Controller, Methods: methods}, nil
}

func parseMethods(raw any) ([]string, error) {
	var names []string
	switch m := raw.(type) {
	case nil:
		return nil, nil
	case string:
		names = []string{m}
	case []string:
		names = m
	case []any:
		for _, item := range m {
			s, ok := item.(string)
			if !ok {
				return nil, &ShapeError{Reason: fmt.Sprintf("method %v is not a string", item)}
			}
			names = append(names, s)
		}
	default:
		return nil, &ShapeError{Reason: fmt.Sprintf("methods must be a string or list, got %T", raw)}
	}

	if len(names) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(names))
	methods := make([]string, 0, len(names))
	for _, name := range names {
		upper := strings.ToUpper(strings.TrimSpace(name))
		if !route.IsMethod(upper) {
			return nil, &ShapeError{Reason: fmt.Sprintf("unknown method %q", name)}
		}
		if !seen[upper] {
			seen[upper] = true
			methods = append(methods, upper)
		}
	}
	return methods, nil
}

func methodHandlers(m map[string]any) (route.MethodHandlers, error) {
	if len(m) == 0 {
		return nil, errors.New("no methods")
	}

	handlers := make(route.MethodHandlers, len(m))
	for key, val := range m {
		if !route.IsMethod(key) {
			return nil, fmt.Errorf("%q is not an HTTP method", key)
		}
		h, ok := Invocable(val)
		if !ok {
			return nil, fmt.Errorf("%s handler is not invocable", key)
		}
		method := strings.ToUpper(key)
		if _, dup := handlers[method]; dup {
			return nil, fmt.Errorf("duplicate method %s", method)
		}
		handlers[method] = h
	}
	return handlers, nil
}

func group(v any, inferredURL string) ([]route.Route, error) {
	var members []any
	switch g := v.(type) {
	case []route.Declaration:
		for _, d := range g {
			members = append(members, d)
		}
	case []any:
		members = g
	}

	routes := make([]route.Route, 0, len(members))
	for i, member := range members {
		if !isDeclaration(member) {
			return nil, &ShapeError{Shape: ShapeGroup, Member: i, Reason: "member is not a route declaration"}
		}
		r, err := declaration(member)
		if err != nil {
			return nil, withShape(err, ShapeGroup, i)
		}
		r.Path = ResolveMemberPath(inferredURL, r.Path)
		routes = append(routes, r)
	}
	return routes, nil
}

func withShape(err error, shape Shape, member int) error {
	var se *ShapeError
	if errors.As(err, &se) {
		se.Shape = shape
		se.Member = member
		return se
	}
	return err
}
