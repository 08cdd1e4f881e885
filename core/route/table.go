package route

// Table is the frozen, ordered route list produced by assembly.
// It has no mutating methods and is safe for concurrent reads.
type Table struct {
	routes []Route
}

// NewTable copies routes into a new table.
func NewTable(routes []Route) *Table {
	t := &Table{routes: make([]Route, len(routes))}
	copy(t.routes, routes)
	for i := range t.routes {
		if t.routes[i].Methods != nil {
			t.routes[i].Methods = append([]string(nil), t.routes[i].Methods...)
		}
	}
	return t
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// All returns a copy of the routes in registration order.
func (t *Table) All() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Each calls fn for every route in registration order.
func (t *Table) Each(fn func(Route)) {
	for _, r := range t.routes {
		fn(r)
	}
}
