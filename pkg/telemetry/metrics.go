package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of a mailsync process.
// A Metrics built with collection disabled accepts every call and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	textfilePath string

	planned         *prometheus.CounterVec
	applied         *prometheus.CounterVec
	mutationSeconds *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runSeconds      *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	requests        *prometheus.CounterVec
}

// NewMetrics registers the mailsync collectors on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	m := &Metrics{textfilePath: cfg.TextfilePath}
	if !cfg.Enabled {
		return m, nil
	}

	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Name: name, Help: help,
		}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Name: name, Help: help, Buckets: buckets,
		}, labels)
	}

	m.planned = counter("changes_planned_total", "Changes computed by diff.", "resource", "type")
	m.applied = counter("changes_applied_total", "Changes resolved by apply, by outcome.", "resource", "type", "outcome")
	m.mutationSeconds = histogram("mutation_duration_seconds", "Time spent on one change, retries included.", "resource", "type")
	m.retries = counter("mutation_retries_total", "Mutation attempts beyond the first.", "resource")
	m.runs = counter("runs_total", "Apply runs by final status.", "status")
	m.runSeconds = histogram("run_duration_seconds", "Wall time of apply runs.", "status")
	m.errors = counter("errors_total", "Failed changes by error class and code.", "class", "code")
	m.requests = counter("api_requests_total", "Remote API requests by method and status code.", "method", "code")

	m.registry = prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		m.planned, m.applied, m.mutationSeconds, m.retries,
		m.runs, m.runSeconds, m.errors, m.requests,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) enabled() bool { return m.registry != nil }

// RecordPlanned counts one change produced by diff.
func (m *Metrics) RecordPlanned(resource, changeType string) {
	if !m.enabled() {
		return
	}
	m.planned.WithLabelValues(resource, changeType).Inc()
}

// RecordMutation records the outcome of one change. Attempts beyond the
// first are counted as retries. Skipped changes record no duration.
func (m *Metrics) RecordMutation(resource, changeType, outcome string, attempts int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.applied.WithLabelValues(resource, changeType, outcome).Inc()
	if attempts == 0 {
		return
	}
	m.mutationSeconds.WithLabelValues(resource, changeType).Observe(duration.Seconds())
	if attempts > 1 {
		m.retries.WithLabelValues(resource).Add(float64(attempts - 1))
	}
}

// RecordRun records a finished run with its status and duration.
func (m *Metrics) RecordRun(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.runSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordError counts a failed change by error class and code.
func (m *Metrics) RecordError(class, code string) {
	if !m.enabled() {
		return
	}
	m.errors.WithLabelValues(class, code).Inc()
}

// RecordRequest records one remote API request. Code is the HTTP status,
// or zero for a transport failure.
func (m *Metrics) RecordRequest(method string, code int) {
	if !m.enabled() {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.requests.WithLabelValues(method, label).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// WriteTextfile writes the registry for the node_exporter textfile
// collector. It does nothing when no path is set.
func (m *Metrics) WriteTextfile() error {
	if !m.enabled() || m.textfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.textfilePath, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
