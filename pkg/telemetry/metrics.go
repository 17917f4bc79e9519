package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the deployment engine.
// Every method is safe to call on a nil or disabled instance.
type Metrics struct {
	config MetricsConfig

	// Deployment metrics
	deployments        *prometheus.CounterVec
	deploymentDuration *prometheus.HistogramVec
	levelsExecuted     *prometheus.CounterVec

	// Chart metrics
	chartExecutions *prometheus.CounterVec
	chartDuration   *prometheus.HistogramVec

	// Resource lifecycle metrics
	lifecycleOperations *prometheus.CounterVec

	// External tool metrics
	externalCalls    *prometheus.CounterVec
	externalDuration *prometheus.HistogramVec
	retries          *prometheus.CounterVec

	// Event and error metrics
	events       *prometheus.CounterVec
	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		deployments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_total",
				Help:      "Total number of leveled deployments",
			},
			[]string{"status"},
		),
		deploymentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_duration_seconds",
				Help:      "Duration of leveled deployments in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		levelsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "levels_executed_total",
				Help:      "Total number of levels executed",
			},
			[]string{"status"},
		),
		chartExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chart_executions_total",
				Help:      "Total number of chart executor runs",
			},
			[]string{"action", "status"},
		),
		chartDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chart_execution_duration_seconds",
				Help:      "Duration of chart executor runs in seconds",
				Buckets:   buckets,
			},
			[]string{"action"},
		),
		lifecycleOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_operations_total",
				Help:      "Total number of resource lifecycle operations",
			},
			[]string{"kind", "operation", "status"},
		),
		externalCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_calls_total",
				Help:      "Total number of external tool invocations",
			},
			[]string{"tool", "operation", "status"},
		),
		externalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "external_call_duration_seconds",
				Help:      "Duration of external tool invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"tool", "operation"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried external calls",
			},
			[]string{"operation"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of engine events by level",
			},
			[]string{"level"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.deployments,
		m.deploymentDuration,
		m.levelsExecuted,
		m.chartExecutions,
		m.chartDuration,
		m.lifecycleOperations,
		m.externalCalls,
		m.externalDuration,
		m.retries,
		m.events,
		m.errorsByCode,
	)

	return m, nil
}

// enabled reports whether the collectors exist.
func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Deployment Metrics

// RecordDeployment records a finished deployment with its status and duration.
func (m *Metrics) RecordDeployment(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.deployments.WithLabelValues(status).Inc()
	m.deploymentDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordLevel records an executed level.
func (m *Metrics) RecordLevel(status string) {
	if !m.enabled() {
		return
	}
	m.levelsExecuted.WithLabelValues(status).Inc()
}

// Chart Metrics

// RecordChartExecution records one executor run.
func (m *Metrics) RecordChartExecution(action, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.chartExecutions.WithLabelValues(action, status).Inc()
	m.chartDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// Lifecycle Metrics

// RecordLifecycle records a resource lifecycle operation.
func (m *Metrics) RecordLifecycle(kind, operation, status string) {
	if !m.enabled() {
		return
	}
	m.lifecycleOperations.WithLabelValues(kind, operation, status).Inc()
}

// External Tool Metrics

// RecordExternalCall records an external tool invocation.
func (m *Metrics) RecordExternalCall(tool, operation, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.externalCalls.WithLabelValues(tool, operation, status).Inc()
	m.externalDuration.WithLabelValues(tool, operation).Observe(duration.Seconds())
}

// RecordRetry records a retried external call.
func (m *Metrics) RecordRetry(operation string) {
	if !m.enabled() {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// Event and Error Metrics

// RecordEvent counts an engine event.
func (m *Metrics) RecordEvent(level string) {
	if !m.enabled() {
		return
	}
	m.events.WithLabelValues(level).Inc()
}

// RecordError records an error by code.
func (m *Metrics) RecordError(code string) {
	if !m.enabled() {
		return
	}
	if code == "" {
		code = "UNKNOWN"
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. Serve errors
// are handed to onError.
func (m *Metrics) StartMetricsServer(onError func(error)) error {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()

	return nil
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
