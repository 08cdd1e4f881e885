// Package builtin provides the handler symbols available to module files
// without any Go code: echo, text and the records.* CRUD handlers.
//
//	# controllers/posts.yaml
//	- path: ""
//	  controller: !handler records.list posts
//	  methods: GET
//	- path: :id
//	  controller: !handler records.get posts
//	  methods: GET
package builtin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/artpar/convey/core/discovery"
	"github.com/artpar/convey/core/route"
	"github.com/artpar/convey/core/storage"
)

// MaxBodySize limits request bodies read by record handlers.
const MaxBodySize = 1 << 20

// Symbols returns the builtin symbol table. Record handlers are included
// only when store is non-nil.
func Symbols(store storage.Store) discovery.Symbols {
	s := discovery.Symbols{
		"echo": discovery.Func(Echo),
		"text": textFactory,
	}
	if store != nil {
		for name, factory := range Records(store) {
			s[name] = factory
		}
	}
	return s
}

// Echo responds with a description of the request.
func Echo(req *route.Request) (any, int, error) {
	resp := map[string]any{
		"id":     req.ID,
		"method": req.Method,
		"uri":    req.URI,
		"params": req.Params,
	}
	if req.HTTP != nil {
		resp["query"] = req.HTTP.URL.Query()
	}
	return resp, http.StatusOK, nil
}

// textFactory builds a handler answering with its arguments as text.
func textFactory(args []string) (route.Handler, error) {
	body := strings.Join(args, " ")
	return func(*route.Request) (any, int, error) {
		return body, http.StatusOK, nil
	}, nil
}

// Records returns the records.* factories bound to store. Each takes the
// table name as its only argument.
func Records(store storage.Store) discovery.Symbols {
	r := records{store: store}
	return discovery.Symbols{
		"records.list":   tableFactory(r.list),
		"records.get":    tableFactory(r.get),
		"records.create": tableFactory(r.create),
		"records.update": tableFactory(r.update),
		"records.delete": tableFactory(r.delete),
	}
}

func tableFactory(build func(table string) route.Handler) discovery.Factory {
	return func(args []string) (route.Handler, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected a table name, got %d arguments", len(args))
		}
		return build(args[0]), nil
	}
}

type records struct {
	store storage.Store
}

func (r records) list(table string) route.Handler {
	return func(req *route.Request) (any, int, error) {
		opts := storage.ListOptions{}
		if req.HTTP != nil {
			q := req.HTTP.URL.Query()
			opts.Limit, _ = strconv.Atoi(q.Get("limit"))
			opts.Offset, _ = strconv.Atoi(q.Get("offset"))
			opts.OrderBy = q.Get("order")
			opts.OrderDesc = q.Get("desc") == "true"
		}

		items, total, err := r.store.List(req.Context(), table, opts)
		if err != nil {
			return nil, statusFor(err), err
		}
		return map[string]any{"data": items, "total": total}, http.StatusOK, nil
	}
}

func (r records) get(table string) route.Handler {
	return func(req *route.Request) (any, int, error) {
		record, err := r.store.Get(req.Context(), table, "id", req.Param("id"))
		if err != nil {
			return nil, statusFor(err), err
		}
		return record, http.StatusOK, nil
	}
}

func (r records) create(table string) route.Handler {
	return func(req *route.Request) (any, int, error) {
		data, err := DecodeBody(req)
		if err != nil {
			return nil, http.StatusBadRequest, err
		}
		id, err := r.store.Create(req.Context(), table, data)
		if err != nil {
			return nil, statusFor(err), err
		}
		record, err := r.store.Get(req.Context(), table, "id", id)
		if err != nil {
			return nil, statusFor(err), err
		}
		return record, http.StatusCreated, nil
	}
}

func (r records) update(table string) route.Handler {
	return func(req *route.Request) (any, int, error) {
		data, err := DecodeBody(req)
		if err != nil {
			return nil, http.StatusBadRequest, err
		}
		id := req.Param("id")
		if err := r.store.Update(req.Context(), table, id, data); err != nil {
			return nil, statusFor(err), err
		}
		record, err := r.store.Get(req.Context(), table, "id", id)
		if err != nil {
			return nil, statusFor(err), err
		}
		return record, http.StatusOK, nil
	}
}

func (r records) delete(table string) route.Handler {
	return func(req *route.Request) (any, int, error) {
		if err := r.store.Delete(req.Context(), table, req.Param("id")); err != nil {
			return nil, statusFor(err), err
		}
		return map[string]any{"deleted": req.Param("id")}, http.StatusOK, nil
	}
}

// DecodeBody reads a JSON object from the request body.
func DecodeBody(req *route.Request) (map[string]any, error) {
	if req.HTTP == nil || req.HTTP.Body == nil {
		return nil, errors.New("request body required")
	}
	body, err := io.ReadAll(io.LimitReader(req.HTTP.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if data == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return data, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidIdentifier):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
