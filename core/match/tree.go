// Package match resolves request paths against a route table using a radix
// tree of path segments. Static segments win over ":param" segments, which
// win over "*catchall" segments.
package match

import (
	"net/http"
	"sort"
	"strings"

	"github.com/artpar/convey/core/dispatch"
	"github.com/artpar/convey/core/route"
)

// Messages returned by Match.
const (
	MessageNotFound         = "route not found"
	MessageMethodNotAllowed = "method not allowed"
)

// anyMethod keys the handler registered without a method list.
const anyMethod = "*"

// Conflict records a route that was shadowed by an earlier one with the same
// pattern and method.
type Conflict struct {
	Path     string
	Method   string
	Existing string
	Incoming string
}

// entry is one registered handler on a node.
type entry struct {
	handler route.Handler
	pattern string
	source  string
	names   []string
}

type node struct {
	segment    string
	isParam    bool
	isCatchAll bool

	// handlers is keyed by upper-case method, or anyMethod.
	handlers map[string]*entry

	children      []*node
	paramChild    *node
	catchAllChild *node
}

func newNode(segment string) *node {
	return &node{segment: segment}
}

func (n *node) findChild(segment string) *node {
	for _, child := range n.children {
		if child.segment == segment {
			return child
		}
	}
	return nil
}

func (n *node) addChild(segment string) *node {
	if child := n.findChild(segment); child != nil {
		return child
	}
	child := newNode(segment)
	n.children = append(n.children, child)
	return child
}

func (n *node) addParamChild() *node {
	if n.paramChild == nil {
		n.paramChild = newNode("")
		n.paramChild.isParam = true
	}
	return n.paramChild
}

func (n *node) addCatchAllChild() *node {
	if n.catchAllChild == nil {
		n.catchAllChild = newNode("")
		n.catchAllChild.isCatchAll = true
	}
	return n.catchAllChild
}

// insert walks or creates the nodes for pattern and returns the terminal
// node with the parameter names in capture order.
func (n *node) insert(pattern string) (*node, []string) {
	var names []string
	current := n
	for _, seg := range splitPath(pattern) {
		switch {
		case strings.HasPrefix(seg, "*"):
			names = append(names, seg[1:])
			return current.addCatchAllChild(), names
		case strings.HasPrefix(seg, ":"):
			names = append(names, paramName(seg))
			current = current.addParamChild()
		default:
			current = current.addChild(seg)
		}
	}
	return current, names
}

// methods returns the node's registered methods, sorted.
func (n *node) methods() []string {
	out := make([]string, 0, len(n.handlers))
	for m := range n.handlers {
		if m != anyMethod {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// lookup returns the entry for method on this node.
func (n *node) lookup(method string) *entry {
	if e, ok := n.handlers[method]; ok {
		return e
	}
	if method == http.MethodHead {
		if e, ok := n.handlers[http.MethodGet]; ok {
			return e
		}
	}
	return n.handlers[anyMethod]
}

// result is the outcome of a tree search.
type result struct {
	entry  *entry
	values []string

	// pathOnly is the first node whose path matched but whose methods did not.
	pathOnly *node
}

// match searches for a node accepting method, backtracking from static to
// param to catch-all children.
func (n *node) match(segments []string, method string, values []string, res *result) bool {
	if len(segments) == 0 {
		if len(n.handlers) == 0 {
			return false
		}
		if e := n.lookup(method); e != nil {
			res.entry = e
			res.values = append([]string(nil), values...)
			return true
		}
		if res.pathOnly == nil {
			res.pathOnly = n
		}
		return false
	}

	segment, remaining := segments[0], segments[1:]

	if child := n.findChild(segment); child != nil {
		if child.match(remaining, method, values, res) {
			return true
		}
	}

	if n.paramChild != nil {
		if n.paramChild.match(remaining, method, append(values, segment), res) {
			return true
		}
	}

	if n.catchAllChild != nil {
		all := strings.Join(segments, "/")
		if n.catchAllChild.match(nil, method, append(values, all), res) {
			return true
		}
	}

	return false
}

// Tree is a read-only route matcher built from a route table.
type Tree struct {
	root *node
	size int
}

// Build constructs a tree from table. A route whose pattern and method were
// already registered is skipped and reported as a conflict.
func Build(table *route.Table) (*Tree, []Conflict) {
	t := &Tree{root: newNode("")}
	var conflicts []Conflict

	table.Each(func(r route.Route) {
		terminal, names := t.root.insert(r.Path)
		if terminal.handlers == nil {
			terminal.handlers = make(map[string]*entry)
		}

		methods := r.Methods
		if len(methods) == 0 {
			methods = []string{anyMethod}
		}
		for _, m := range methods {
			m = strings.ToUpper(m)
			if existing, ok := terminal.handlers[m]; ok {
				conflicts = append(conflicts, Conflict{
					Path:     r.Path,
					Method:   m,
					Existing: existing.source,
					Incoming: r.Source,
				})
				continue
			}
			terminal.handlers[m] = &entry{
				handler: r.Handler,
				pattern: r.Path,
				source:  r.Source,
				names:   names,
			}
			t.size++
		}
	})

	return t, conflicts
}

// Len returns the number of registered (pattern, method) pairs.
func (t *Tree) Len() int {
	return t.size
}

// Match implements dispatch.Matcher.
func (t *Tree) Match(method, path string) (route.Handler, map[string]string, error) {
	h, params, _, err := t.Lookup(method, path)
	return h, params, err
}

// Lookup is Match that also returns the matched route pattern.
func (t *Tree) Lookup(method, path string) (route.Handler, map[string]string, string, error) {
	method = strings.ToUpper(method)

	var res result
	if t.root.match(splitPath(path), method, nil, &res) {
		params := make(map[string]string, len(res.entry.names))
		for i, name := range res.entry.names {
			if i < len(res.values) {
				params[name] = res.values[i]
			}
		}
		return res.entry.handler, params, res.entry.pattern, nil
	}

	if res.pathOnly != nil {
		return nil, nil, "", &dispatch.StatusError{
			Status:  http.StatusMethodNotAllowed,
			Message: MessageMethodNotAllowed,
			Allow:   res.pathOnly.methods(),
		}
	}
	return nil, nil, "", dispatch.NewStatusError(http.StatusNotFound, MessageNotFound)
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// paramName strips the leading ':' and an optional ":type" suffix.
func paramName(seg string) string {
	seg = seg[1:]
	if idx := strings.Index(seg, ":"); idx != -1 {
		return seg[:idx]
	}
	return seg
}
