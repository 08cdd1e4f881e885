package openapi

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/artpar/convey/core/registry"
	"github.com/artpar/convey/core/route"
)

// documentedMethods are listed for routes that accept any method.
var documentedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}

// Generator generates OpenAPI specs from an assembled application.
type Generator struct {
	routes  *route.Table
	models  *registry.Registry
	info    Info
	servers []Server
}

// NewGenerator creates a generator. models may be nil.
func NewGenerator(routes *route.Table, models *registry.Registry) *Generator {
	return &Generator{
		routes: routes,
		models: models,
		info: Info{
			Title:       "convey application",
			Version:     "1.0.0",
			Description: "Routes discovered from the application's controllers",
		},
	}
}

// SetInfo sets the API info.
func (g *Generator) SetInfo(info Info) {
	g.info = info
}

// AddServer adds a server URL.
func (g *Generator) AddServer(url, description string) {
	g.servers = append(g.servers, Server{URL: url, Description: description})
}

// Generate creates the OpenAPI specification.
func (g *Generator) Generate() *Spec {
	spec := &Spec{
		OpenAPI: "3.0.3",
		Info:    g.info,
		Servers: g.servers,
		Paths:   make(map[string]PathItem),
		Components: Components{
			Schemas: make(map[string]*Schema),
		},
	}

	tags := map[string]bool{}
	if g.routes != nil {
		g.routes.Each(func(r route.Route) {
			tag := tagFor(r.Path)
			tags[tag] = true
			g.addRoute(spec, r, tag)
		})
	}

	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec.Tags = append(spec.Tags, Tag{Name: name})
	}

	if g.models != nil {
		for _, m := range g.models.All() {
			spec.Components.Schemas[m.TableName] = ModelSchema(m)
		}
	}

	return spec
}

// JSON generates the spec and encodes it.
func (g *Generator) JSON() ([]byte, error) {
	return json.MarshalIndent(g.Generate(), "", "  ")
}

func (g *Generator) addRoute(spec *Spec, r route.Route, tag string) {
	path, pathParams := ConvertPath(r.Path)
	item := spec.Paths[path]

	params := make([]Parameter, 0, len(pathParams))
	for _, name := range pathParams {
		params = append(params, Parameter{
			Name:     name,
			In:       "path",
			Required: true,
			Schema:   &Schema{Type: "string"},
		})
	}

	methods := r.Methods
	if len(methods) == 0 {
		methods = documentedMethods
	}

	for _, method := range methods {
		method = strings.ToUpper(method)
		op := &Operation{
			Tags:        []string{tag},
			Summary:     method + " " + r.Path,
			Description: describe(r),
			OperationID: operationID(method, r.Path),
			Parameters:  params,
			Responses: map[string]Response{
				"200": {Description: "Successful response"},
				"404": {Description: "Route not found"},
				"405": {Description: "Method not allowed"},
				"500": {Description: "Internal server error"},
			},
		}
		if method == "POST" || method == "PUT" || method == "PATCH" {
			op.RequestBody = &RequestBody{
				Content: map[string]MediaType{
					"application/json": {Schema: &Schema{Type: "object"}},
				},
			}
		}
		setOperation(&item, method, op)
	}

	spec.Paths[path] = item
}

func describe(r route.Route) string {
	if r.Source == "" {
		return ""
	}
	return "Declared by " + r.Source
}

func setOperation(item *PathItem, method string, op *Operation) {
	// An operation already documented for this path and method wins, like
	// the first registration wins in the matcher.
	slot := map[string]**Operation{
		"GET":     &item.Get,
		"PUT":     &item.Put,
		"POST":    &item.Post,
		"DELETE":  &item.Delete,
		"OPTIONS": &item.Options,
		"HEAD":    &item.Head,
		"PATCH":   &item.Patch,
		"TRACE":   &item.Trace,
	}[method]
	if slot != nil && *slot == nil {
		*slot = op
	}
}

// ConvertPath converts a route pattern to OpenAPI path format and returns
// the path parameter names. ":id" and "*rest" both become "{name}".
func ConvertPath(pattern string) (string, []string) {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	var params []string
	for i, seg := range segments {
		switch {
		case strings.HasPrefix(seg, ":"):
			name := strings.TrimPrefix(seg, ":")
			if idx := strings.Index(name, ":"); idx != -1 {
				name = name[:idx]
			}
			params = append(params, name)
			segments[i] = "{" + name + "}"
		case strings.HasPrefix(seg, "*"):
			name := strings.TrimPrefix(seg, "*")
			params = append(params, name)
			segments[i] = "{" + name + "}"
		}
	}
	return "/" + strings.Join(segments, "/"), params
}

// tagFor groups routes by their first static path segment.
func tagFor(pattern string) string {
	seg := strings.Split(strings.Trim(pattern, "/"), "/")[0]
	if seg == "" || strings.HasPrefix(seg, ":") || strings.HasPrefix(seg, "*") {
		return "root"
	}
	return seg
}

var nonIdent = regexp.MustCompile(`[^a-z0-9]+`)

func operationID(method, path string) string {
	name := nonIdent.ReplaceAllString(strings.ToLower(path), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "root"
	}
	return strings.ToLower(method) + "_" + name
}

// ModelSchema describes a model's records.
func ModelSchema(m *registry.Model) *Schema {
	s := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"id":         {Type: "string", Format: "uuid"},
			"created_at": {Type: "string", Format: "date-time"},
			"updated_at": {Type: "string", Format: "date-time"},
		},
	}

	for _, name := range m.FieldNames() {
		fieldType := ""
		var prop Schema
		switch def := m.Fields[name].(type) {
		case string:
			fieldType = def
		case map[string]any:
			fieldType, _ = def["type"].(string)
			if req, _ := def["required"].(bool); req {
				s.Required = append(s.Required, name)
			}
			prop.Default = def["default"]
		}
		prop.Type, prop.Format = jsonType(fieldType)
		s.Properties[name] = &prop
	}
	return s
}

func jsonType(fieldType string) (string, string) {
	switch strings.ToLower(fieldType) {
	case "int", "integer":
		return "integer", ""
	case "float", "number", "decimal":
		return "number", ""
	case "bool", "boolean":
		return "boolean", ""
	case "time", "datetime", "timestamp":
		return "string", "date-time"
	case "bytes", "blob":
		return "string", "byte"
	default:
		return "string", ""
	}
}
