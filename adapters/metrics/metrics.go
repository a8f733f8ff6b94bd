// Package metrics provides Prometheus metrics collection for modhost.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for modhost.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Normalized API errors
	APIErrors *prometheus.CounterVec

	// Event bus metrics
	EventEmissions *prometheus.CounterVec

	// Startup task metrics
	TaskRuns     *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modhost",
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "modhost",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "modhost",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		APIErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modhost",
				Name:      "api_errors_total",
				Help:      "Total number of normalized API errors",
			},
			[]string{"name", "status"},
		),
		EventEmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modhost",
				Name:      "event_emissions_total",
				Help:      "Total number of event bus emissions",
			},
			[]string{"event", "outcome"},
		),
		TaskRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "modhost",
				Name:      "task_runs_total",
				Help:      "Total number of startup task runs",
			},
			[]string{"task", "outcome"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "modhost",
				Name:      "task_duration_seconds",
				Help:      "Startup task duration in seconds",
				Buckets:   []float64{.01, .1, .5, 1, 5, 30, 120, 600},
			},
			[]string{"task"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "modhost",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "modhost",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "modhost",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// ObserveAPIError counts a normalized error.
func (c *Collector) ObserveAPIError(name string, status int) {
	c.APIErrors.WithLabelValues(name, strconv.Itoa(status)).Inc()
}

// ObserveEmit counts an event bus emission.
func (c *Collector) ObserveEmit(event string, listeners int, err error) {
	c.EventEmissions.WithLabelValues(event, outcome(err)).Inc()
}

// ObserveTask records a startup task run.
func (c *Collector) ObserveTask(task string, duration time.Duration, err error) {
	c.TaskRuns.WithLabelValues(task, outcome(err)).Inc()
	c.TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// ObserveReload records a config reload attempt.
func (c *Collector) ObserveReload(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
}

// Middleware records request metrics. The route label is the matched chi
// pattern, so parameterized URLs share one series.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.RequestsInFlight.Inc()
		defer c.RequestsInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := statusLabel(ww.Status())

		c.RequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		c.RequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// statusLabel returns a string label for the status code.
func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
