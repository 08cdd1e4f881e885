// Package route defines the uniform route records produced by assembly and
// the request envelope handlers receive at dispatch time.
package route

import (
	"context"
	"net/http"
	"sort"
	"strings"
)

// Handler handles one dispatched request.
//
// A non-nil response is encoded by the dispatch pipeline using status (0 means
// 200). A nil response is a failure: err describes it and status, when
// non-zero, is used for the error response (default 500).
type Handler func(req *Request) (resp any, status int, err error)

// Deferred is a response that manages its own output, e.g. a stream.
// The pipeline calls it with the response writer and performs no encoding.
type Deferred func(w http.ResponseWriter) error

// Route is a (path pattern, handler, allowed methods) triple.
type Route struct {
	// Path is the URL pattern. Segments prefixed with ':' capture a single
	// segment, a '*' prefix captures the remainder of the path.
	Path string

	// Handler is invoked for matching requests.
	Handler Handler

	// Methods lists the allowed HTTP methods. Empty means any method.
	Methods []string

	// Source is the module identifier that declared the route.
	Source string
}

// AnyMethod reports whether the route accepts every HTTP method.
func (r Route) AnyMethod() bool {
	return len(r.Methods) == 0
}

// MethodsLabel returns a display label for the route's methods.
func (r Route) MethodsLabel() string {
	if r.AnyMethod() {
		return "*"
	}
	return strings.Join(r.Methods, ",")
}

// Request is the envelope passed to handlers.
type Request struct {
	// ID identifies the request in logs and the X-Request-ID header.
	ID string

	Method string
	URI    string

	// Params holds values captured by the route pattern.
	Params map[string]string

	// HTTP is the underlying request. It may be nil in tests.
	HTTP *http.Request

	ctx     context.Context
	cookies []*http.Cookie
}

// NewRequest creates a request envelope bound to ctx.
func NewRequest(ctx context.Context, method, uri string, params map[string]string) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	if params == nil {
		params = map[string]string{}
	}
	return &Request{
		Method: method,
		URI:    uri,
		Params: params,
		ctx:    ctx,
	}
}

// Context returns the request context.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Param returns a captured route parameter.
func (r *Request) Param(name string) string {
	return r.Params[name]
}

// SetCookie stages a cookie. Staged cookies are flushed by the persistence
// collaborator after the handler returns.
func (r *Request) SetCookie(c *http.Cookie) {
	r.cookies = append(r.cookies, c)
}

// Cookies returns the cookies staged during the request.
func (r *Request) Cookies() []*http.Cookie {
	return r.cookies
}

// MethodHandlers maps HTTP method names to handlers. It is the handler for
// multi-method controllers and dispatches on the request method itself.
type MethodHandlers map[string]Handler

// Handle dispatches req to the handler registered for its method.
func (m MethodHandlers) Handle(req *Request) (any, int, error) {
	h, ok := m[strings.ToUpper(req.Method)]
	if !ok {
		return nil, http.StatusMethodNotAllowed, &MethodNotAllowedError{Method: req.Method, Allowed: m.Methods()}
	}
	return h(req)
}

// Methods returns the sorted list of methods with a handler.
func (m MethodHandlers) Methods() []string {
	methods := make([]string, 0, len(m))
	for method := range m {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

// MethodNotAllowedError is returned by MethodHandlers for unknown methods.
type MethodNotAllowedError struct {
	Method  string
	Allowed []string
}

func (e *MethodNotAllowedError) Error() string {
	return "method " + e.Method + " not allowed (allowed: " + strings.Join(e.Allowed, ", ") + ")"
}

// Declaration is the typed form of an explicit route declaration for Go
// programs that register controllers without a module file.
type Declaration struct {
	Path       string
	Controller Handler
	Methods    []string
}

// standardMethods are the method names recognised in declarations.
var standardMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodConnect: true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// IsMethod reports whether name is an HTTP method name (case-insensitive).
func IsMethod(name string) bool {
	return standardMethods[strings.ToUpper(name)]
}
