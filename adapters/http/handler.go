// Package http hosts the dispatch pipeline behind a chi router that also
// serves health, metrics and API documentation endpoints.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/artpar/convey/adapters/metrics"
	"github.com/artpar/convey/core/openapi"
	"github.com/artpar/convey/core/route"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Paths served by the host router.
const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
	VersionPath = "/version"
	OpenAPIPath = "/_openapi.json"
	SwaggerPath = "/swagger"
)

// DefaultTimeout bounds request handling when RouterConfig.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// HealthChecker reports whether a dependency is ready.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler creates a health handler. checker may be nil.
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Liveness returns OK while the process is running.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks the configured dependency.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.checker != nil {
		if err := h.checker.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RouterConfig holds the router's collaborators. Only Pipeline is required.
type RouterConfig struct {
	// Pipeline handles every request the host routes do not claim.
	Pipeline http.Handler

	Health  *HealthHandler
	Metrics *metrics.Collector

	// MetricsHandler serves /metrics. Defaults to promhttp.Handler() when
	// Metrics is set.
	MetricsHandler http.Handler

	// OpenAPI, when set, is served at /_openapi.json with Swagger UI under
	// /swagger/.
	OpenAPI *openapi.Generator

	Version string
	Timeout time.Duration
}

// NewRouter creates the host router.
func NewRouter(logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))
	}

	health := cfg.Health
	if health == nil {
		health = NewHealthHandler(nil)
	}
	r.Get(HealthPath, health.Liveness)
	r.Get(HealthPath+"/live", health.Liveness)
	r.Get(HealthPath+"/ready", health.Readiness)

	if cfg.MetricsHandler != nil {
		r.Handle(MetricsPath, cfg.MetricsHandler)
	} else if cfg.Metrics != nil {
		r.Handle(MetricsPath, promhttp.Handler())
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	r.Get(VersionPath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, VersionResponse{Version: version, Service: "convey"})
	})

	if cfg.OpenAPI != nil {
		r.Get(OpenAPIPath, openAPIHandler(cfg.OpenAPI, logger))
		r.Get(SwaggerPath+"/*", httpSwagger.Handler(
			httpSwagger.URL(OpenAPIPath),
		))
	}

	if cfg.Pipeline != nil {
		r.NotFound(cfg.Pipeline.ServeHTTP)
		r.MethodNotAllowed(cfg.Pipeline.ServeHTTP)
	}

	return r
}

// openAPIHandler serves the document generated from the frozen route table.
func openAPIHandler(g *openapi.Generator, logger zerolog.Logger) http.HandlerFunc {
	var (
		once sync.Once
		doc  []byte
		err  error
	)
	return func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			doc, err = g.JSON()
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to generate openapi document")
			writeJSON(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Write(doc)
	}
}

// ReservedPaths lists the exact paths claimed by the host router. Everything
// under SwaggerPath is claimed as well.
func ReservedPaths() []string {
	return []string{
		HealthPath, HealthPath + "/live", HealthPath + "/ready",
		MetricsPath, VersionPath, OpenAPIPath,
	}
}

// Shadowed returns the patterns in table that the host router claims and
// that will never reach the pipeline.
func Shadowed(table *route.Table) []string {
	var out []string
	table.Each(func(rt route.Route) {
		if strings.HasPrefix(rt.Path, SwaggerPath+"/") {
			out = append(out, rt.Path)
			return
		}
		for _, reserved := range ReservedPaths() {
			if rt.Path == reserved {
				out = append(out, rt.Path)
				return
			}
		}
	})
	return out
}

// internal reports whether path belongs to an operational endpoint.
func internal(path string) bool {
	return strings.HasPrefix(path, HealthPath) || path == MetricsPath ||
		strings.HasPrefix(path, SwaggerPath) || path == OpenAPIPath
}

// NewMetricsMiddleware tracks requests in flight. Per-request counters are
// recorded by the pipeline's observer.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if internal(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()
			next.ServeHTTP(w, r)
		})
	}
}

// NewLoggingMiddleware logs HTTP requests at debug level.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if internal(r.URL.Path) {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
