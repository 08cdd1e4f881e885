// Package metrics provides Prometheus metrics collection for convey.
package metrics

import (
	"strconv"
	"time"

	"github.com/artpar/convey/core/assembly"
	"github.com/artpar/convey/core/dispatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "convey"

// Collector holds all Prometheus metrics for convey. It implements
// dispatch.Observer and assembly.Observer.
type Collector struct {
	// Dispatch metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	DispatchErrors   *prometheus.CounterVec

	// Assembly metrics
	Routes           prometheus.Gauge
	Models           prometheus.Gauge
	AdminDescriptors prometheus.Gauge
	AssemblyWarnings *prometheus.CounterVec
	AssemblyDuration prometheus.Gauge

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of dispatched requests",
			},
			[]string{"method", "status", "stage"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Dispatch duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		DispatchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_errors_total",
				Help:      "Total number of requests that ended in the error state, by failing stage",
			},
			[]string{"stage"},
		),

		Routes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "routes",
				Help:      "Number of routes in the assembled route table",
			},
		),
		Models: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "models",
				Help:      "Number of registered models",
			},
		),
		AdminDescriptors: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "admin_descriptors",
				Help:      "Number of admin descriptors",
			},
		),
		AssemblyWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assembly_warnings_total",
				Help:      "Total number of modules skipped during assembly, by kind",
			},
			[]string{"kind"},
		),
		AssemblyDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "assembly_duration_seconds",
				Help:      "Duration of the last assembly in seconds",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// ObserveDispatch implements dispatch.Observer.
func (c *Collector) ObserveDispatch(method string, status int, stage dispatch.Stage, elapsed time.Duration) {
	code := StatusClass(status)
	c.RequestsTotal.WithLabelValues(method, code, string(stage)).Inc()
	c.RequestDuration.WithLabelValues(method, code).Observe(elapsed.Seconds())
	if stage != dispatch.StageDone {
		c.DispatchErrors.WithLabelValues(string(stage)).Inc()
	}
}

// ObserveAssembly implements assembly.Observer.
func (c *Collector) ObserveAssembly(stats assembly.Stats) {
	c.Routes.Set(float64(stats.Routes))
	c.Models.Set(float64(stats.Models))
	c.AdminDescriptors.Set(float64(stats.Descriptors))
	c.AssemblyDuration.Set(stats.Duration.Seconds())
	for kind, n := range stats.Warnings {
		c.AssemblyWarnings.WithLabelValues(string(kind)).Add(float64(n))
	}
}

// RecordConfigReload records a config reload attempt.
func (c *Collector) RecordConfigReload(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
}

// StatusClass reduces a status code to its class ("2xx", "4xx", ...).
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
