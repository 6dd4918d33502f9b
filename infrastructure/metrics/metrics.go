// Package metrics provides Prometheus metrics collection for the orchestration
// engine: the local telemetry server's own request metrics plus execution,
// recovery, and analysis counters recorded by the engine itself.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors exposed by a rustible process.
type Metrics struct {
	// HTTP metrics, for the local telemetry/control API server.
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Task execution metrics
	TasksTotal    *prometheus.CounterVec
	TaskDuration  *prometheus.HistogramVec
	HandlersFired *prometheus.CounterVec

	// Recovery subsystem metrics
	RetriesTotal        *prometheus.CounterVec
	CheckpointsTotal    *prometheus.CounterVec
	RollbacksTotal      *prometheus.CounterVec
	TransactionsTotal   *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
	DegradationLevel    *prometheus.GaugeVec

	// Static analysis metrics
	AnalysisFindingsTotal *prometheus.CounterVec

	// Process health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance registered against the default registry.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry, so
// tests can avoid polluting the process-global default registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests handled by the local telemetry server",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors by kind and operation",
			},
			[]string{"service", "kind", "operation"},
		),

		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rustible_tasks_total",
				Help: "Total number of task executions by module and outcome",
			},
			[]string{"module", "status"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rustible_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"module"},
		),
		HandlersFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rustible_handlers_fired_total",
				Help: "Total number of handler notifications flushed",
			},
			[]string{"handler"},
		),

		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rustible_retries_total",
				Help: "Total number of retry attempts by outcome",
			},
			[]string{"operation", "outcome"},
		),
		CheckpointsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rustible_checkpoints_total",
				Help: "Total number of checkpoint saves/restores by outcome",
			},
			[]string{"operation", "outcome"},
		),
		RollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rustible_rollbacks_total",
				Help: "Total number of rollback actions executed by outcome",
			},
			[]string{"operation", "outcome"},
		),
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rustible_transactions_total",
				Help: "Total number of transactions by final state",
			},
			[]string{"state"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rustible_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		DegradationLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rustible_degradation_level",
				Help: "Current graceful degradation level for a subsystem (0=normal)",
			},
			[]string{"subsystem"},
		),

		AnalysisFindingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rustible_analysis_findings_total",
				Help: "Total number of static analysis findings by rule and severity",
			},
			[]string{"rule_id", "severity"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service build information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.TasksTotal,
			m.TaskDuration,
			m.HandlersFired,
			m.RetriesTotal,
			m.CheckpointsTotal,
			m.RollbacksTotal,
			m.TransactionsTotal,
			m.CircuitBreakerState,
			m.DegradationLevel,
			m.AnalysisFindingsTotal,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", environment()).Set(1)

	return m
}

// RecordHTTPRequest implements middleware.RequestRecorder.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues("rustible", method, path, status).Inc()
	m.RequestDuration.WithLabelValues("rustible", method, path).Observe(duration.Seconds())
}

// IncrementInFlight implements middleware.RequestRecorder.
func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }

// DecrementInFlight implements middleware.RequestRecorder.
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

// RecordError records an error by kind and operation.
func (m *Metrics) RecordError(kind, operation string) {
	m.ErrorsTotal.WithLabelValues("rustible", kind, operation).Inc()
}

// RecordTask records a task execution outcome and its duration.
func (m *Metrics) RecordTask(module, status string, duration time.Duration) {
	m.TasksTotal.WithLabelValues(module, status).Inc()
	m.TaskDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// RecordHandlerFired records a handler notification flush.
func (m *Metrics) RecordHandlerFired(handler string) {
	m.HandlersFired.WithLabelValues(handler).Inc()
}

// RecordRetry records a retry attempt outcome ("retry", "exhausted", "succeeded").
func (m *Metrics) RecordRetry(operation, outcome string) {
	m.RetriesTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordCheckpoint records a checkpoint save/restore outcome.
func (m *Metrics) RecordCheckpoint(operation, outcome string) {
	m.CheckpointsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordRollback records a rollback action outcome.
func (m *Metrics) RecordRollback(operation, outcome string) {
	m.RollbacksTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordTransaction records a transaction's final state.
func (m *Metrics) RecordTransaction(state string) {
	m.TransactionsTotal.WithLabelValues(state).Inc()
}

// SetCircuitBreakerState records the numeric state of a named circuit breaker.
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// SetDegradationLevel records the current degradation level for a subsystem.
func (m *Metrics) SetDegradationLevel(subsystem string, level int) {
	m.DegradationLevel.WithLabelValues(subsystem).Set(float64(level))
}

// RecordFinding records a static analysis finding.
func (m *Metrics) RecordFinding(ruleID, severity string) {
	m.AnalysisFindingsTotal.WithLabelValues(ruleID, severity).Inc()
}

// UpdateUptime updates the service uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

func environment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("RUSTIBLE_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
//   - production: disabled unless explicitly enabled via METRICS_ENABLED
//   - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return environment() != "production"
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, initializing a default one if needed.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("rustible")
	}
	return globalMetrics
}
