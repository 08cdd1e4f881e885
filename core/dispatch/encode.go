package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/artpar/convey/core/route"
)

// Content types written by the pipeline.
const (
	ContentTypeJSON = "application/json; charset=utf-8"
	ContentTypeHTML = "text/html; charset=utf-8"
)

// ErrUnrecognizedResponse is returned for handler responses of no known kind.
var ErrUnrecognizedResponse = errors.New("unrecognized response type")

// JSONSerializer is the default Serializer.
type JSONSerializer struct{}

// Marshal implements Serializer.
func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// encode writes resp according to its kind and returns the status written.
// Nothing is written when an error is returned, except by a deferred
// response that failed part way.
func (p *Pipeline) encode(w http.ResponseWriter, resp any, status int) (int, error) {
	status = validStatus(status, http.StatusOK)

	switch v := resp.(type) {
	case route.Deferred:
		return p.deferred(w, v)
	case func(http.ResponseWriter) error:
		return p.deferred(w, v)
	case string:
		return writeText(w, status, []byte(v))
	case []byte:
		return writeText(w, status, v)
	}

	if !structured(resp) {
		return 0, NewStatusError(http.StatusInternalServerError, ErrUnrecognizedResponse.Error())
	}

	body, err := p.serializer.Marshal(resp)
	if err != nil {
		return 0, err
	}

	h := w.Header()
	h.Set("Content-Type", ContentTypeJSON)
	disableCaching(h)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		p.logger.Debug().Err(err).Msg("failed to write response body")
	}
	return status, nil
}

// deferred hands w to fn. A nil fn or a panic inside it becomes an error.
func (p *Pipeline) deferred(w http.ResponseWriter, fn func(http.ResponseWriter) error) (status int, err error) {
	if fn == nil {
		return 0, NewStatusError(http.StatusInternalServerError, ErrUnrecognizedResponse.Error())
	}
	defer func() {
		if rec := recover(); rec != nil {
			status, err = 0, fmt.Errorf("deferred response panic: %v", rec)
		}
	}()
	if err := fn(w); err != nil {
		return 0, err
	}
	if sw, ok := w.(interface{ Status() int }); ok && sw.Status() != 0 {
		return sw.Status(), nil
	}
	return http.StatusOK, nil
}

func writeText(w http.ResponseWriter, status int, body []byte) (int, error) {
	w.Header().Set("Content-Type", ContentTypeHTML)
	w.WriteHeader(status)
	_, _ = w.Write(body)
	return status, nil
}

// structured reports whether v is a map, struct, slice or array, directly or
// behind pointers.
func structured(v any) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		return true
	}
	return false
}

func disableCaching(h http.Header) {
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// statusOf picks the failure status: an explicit one first, then the one
// carried by a StatusError, else 0.
func statusOf(err error, explicit int) int {
	if explicit != 0 {
		return explicit
	}
	if se, ok := asStatusError(err); ok {
		return se.Status
	}
	return 0
}

func asStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func messageOf(err error) string {
	if se, ok := asStatusError(err); ok {
		if se.Message != "" {
			return se.Message
		}
		return FallbackMessage
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return FallbackMessage
}

func validStatus(status, fallback int) int {
	if status < 100 || status > 999 {
		return fallback
	}
	return status
}

// allowed returns the methods to advertise in an Allow header.
func allowed(err error) []string {
	if se, ok := asStatusError(err); ok {
		return se.Allow
	}
	var mna *route.MethodNotAllowedError
	if errors.As(err, &mna) {
		return mna.Allowed
	}
	return nil
}

func joinMethods(methods []string) string {
	return strings.Join(methods, ", ")
}
