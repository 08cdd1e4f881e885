// Package dispatch turns an inbound HTTP request into a response by running
// it through a fixed sequence of stages: match, invoke, persist, encode.
//
// Every failure in any stage converges on a single error path that logs the
// cause and writes a JSON-encoded message. The pipeline never mutates shared
// state; collaborators are read concurrently.
package dispatch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/artpar/convey/core/route"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the request identifier in both directions.
const RequestIDHeader = "X-Request-ID"

// FallbackMessage is written when a failure carries no message.
const FallbackMessage = "internal server error"

const fallbackBody = `"` + FallbackMessage + `"`

const tracerName = "convey/dispatch"

// Stage names a pipeline state.
type Stage string

const (
	StageMatch   Stage = "match"
	StageInvoke  Stage = "invoke"
	StagePersist Stage = "persist"
	StageEncode  Stage = "encode"
	StageDone    Stage = "done"
)

// Matcher resolves a method and path to a handler and captured parameters.
// Failures should be *StatusError so the pipeline can use their status.
type Matcher interface {
	Match(method, path string) (route.Handler, map[string]string, error)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(method, path string) (route.Handler, map[string]string, error)

// Match implements Matcher.
func (f MatcherFunc) Match(method, path string) (route.Handler, map[string]string, error) {
	return f(method, path)
}

// Persister flushes per-request state (cookies) to the response.
type Persister interface {
	Persist(w http.ResponseWriter, req *route.Request) error
}

// Serializer encodes structured responses.
type Serializer interface {
	Marshal(v any) ([]byte, error)
}

// Observer is notified once per request with the stage it ended in.
type Observer interface {
	ObserveDispatch(method string, status int, stage Stage, elapsed time.Duration)
}

// StatusError is a failure with an HTTP status.
type StatusError struct {
	Status  int
	Message string

	// Allow lists permitted methods for 405 responses.
	Allow []string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

// NewStatusError creates a StatusError.
func NewStatusError(status int, message string) *StatusError {
	return &StatusError{Status: status, Message: message}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPersister sets the persistence collaborator.
func WithPersister(p Persister) Option {
	return func(pl *Pipeline) {
		pl.persister = p
	}
}

// WithSerializer replaces the default JSON serializer.
func WithSerializer(s Serializer) Option {
	return func(pl *Pipeline) {
		pl.serializer = s
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(pl *Pipeline) {
		pl.observer = o
	}
}

// WithTracer replaces the tracer resolved from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(pl *Pipeline) {
		pl.tracer = t
	}
}

// Pipeline is the request dispatch pipeline.
type Pipeline struct {
	matcher    Matcher
	persister  Persister
	serializer Serializer
	observer   Observer
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// New creates a pipeline around matcher.
func New(matcher Matcher, logger zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		matcher:    matcher,
		serializer: JSONSerializer{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

// ServeHTTP implements http.Handler.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = middleware.GetReqID(r.Context())
	}
	if id == "" {
		id = uuid.New().String()
	}
	w.Header().Set(RequestIDHeader, id)

	ctx, span := p.tracer.Start(r.Context(), "dispatch "+r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
			attribute.String("convey.request_id", id),
		),
	)
	defer span.End()

	log := p.logger.With().
		Str("request_id", id).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()

	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	stage, status, err := p.run(ww, r.WithContext(ctx), id)
	if err != nil {
		status = p.fail(ww, log, stage, status, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.String("convey.stage", string(stage)),
	)

	if p.observer != nil {
		p.observer.ObserveDispatch(r.Method, status, stage, time.Since(start))
	}
}

// run executes the stages. On failure it returns the stage that failed, the
// status to use (0 means 500) and the cause. On success the stage is
// StageDone and status is what was written.
func (p *Pipeline) run(w http.ResponseWriter, r *http.Request, id string) (Stage, int, error) {
	// MATCH
	handler, params, err := p.matcher.Match(r.Method, r.URL.Path)
	if err != nil {
		return StageMatch, statusOf(err, 0), err
	}

	req := route.NewRequest(r.Context(), r.Method, r.URL.RequestURI(), params)
	req.ID = id
	req.HTTP = r

	// INVOKE
	resp, status, err := invoke(handler, req)
	if resp == nil {
		if err == nil {
			err = NewStatusError(status, "")
		}
		return StageInvoke, statusOf(err, status), err
	}

	// PERSIST
	if p.persister != nil {
		if err := p.persister.Persist(w, req); err != nil {
			return StagePersist, statusOf(err, 0), err
		}
	}

	// ENCODE
	written, err := p.encode(w, resp, status)
	if err != nil {
		return StageEncode, statusOf(err, 0), err
	}
	return StageDone, written, nil
}

// invoke calls handler, converting a panic into an error.
func invoke(handler route.Handler, req *route.Request) (resp any, status int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp, status, err = nil, http.StatusInternalServerError, fmt.Errorf("handler panic: %v", rec)
		}
	}()
	if handler == nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("nil handler")
	}
	return handler(req)
}

// fail writes the error response and returns the status written.
func (p *Pipeline) fail(w middleware.WrapResponseWriter, log zerolog.Logger, stage Stage, status int, err error) int {
	status = validStatus(status, http.StatusInternalServerError)

	event := log.Error()
	if status < http.StatusInternalServerError {
		event = log.Warn()
	}
	event.Err(err).Str("stage", string(stage)).Int("status", status).Msg("dispatch failed")

	// A deferred response may fail after writing its own header.
	if w.Status() != 0 {
		return w.Status()
	}

	if methods := allowed(err); len(methods) > 0 {
		w.Header().Set("Allow", joinMethods(methods))
	}

	body, mErr := p.serializer.Marshal(messageOf(err))
	if mErr != nil {
		log.Error().Err(mErr).Msg("failed to encode error message")
		body = []byte(fallbackBody)
	}

	h := w.Header()
	h.Set("Content-Type", ContentTypeJSON)
	disableCaching(h)
	w.WriteHeader(status)
	if _, wErr := w.Write(body); wErr != nil {
		log.Debug().Err(wErr).Msg("failed to write error body")
	}
	return status
}
