package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the Docker operations core.
type Metrics struct {
	Registry *prometheus.Registry

	DockerCommandsTotal *prometheus.CounterVec
	GatewayDuration     *prometheus.HistogramVec
	ExecutorExecutions  *prometheus.CounterVec
	ExecutorDuration    prometheus.Histogram
	TrajectoryLoops     *prometheus.CounterVec
	RedactionMatches    prometheus.Counter
	SecurityEvents      *prometheus.CounterVec
	RequestsInFlight    prometheus.Gauge
	CodeSizeBytes       prometheus.Histogram
	OutputSizeBytes     prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		DockerCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dockeragent",
				Name:      "docker_commands_total",
				Help:      "Total Command Gateway dispatches by subcommand and outcome.",
			},
			[]string{"subcommand", "status"},
		),

		GatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dockeragent",
				Name:      "gateway_request_duration_seconds",
				Help:      "Duration of Command Gateway dispatches in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"subcommand"},
		),

		ExecutorExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dockeragent",
				Name:      "executor_executions_total",
				Help:      "Total Programmatic Executor runs by outcome.",
			},
			[]string{"outcome"},
		),

		ExecutorDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dockeragent",
				Name:      "executor_duration_seconds",
				Help:      "Duration of Programmatic Executor runs in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		TrajectoryLoops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dockeragent",
				Name:      "trajectory_loop_detected_total",
				Help:      "Total loop-detection flags raised by the Trajectory Recorder, by pattern.",
			},
			[]string{"pattern"},
		),

		RedactionMatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dockeragent",
				Name:      "redaction_matches_total",
				Help:      "Total credential-like substrings redacted from recorded tool output.",
			},
		),

		SecurityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dockeragent",
				Name:      "security_events_total",
				Help:      "Total advisory security-telemetry detections, by pattern. Never blocks dispatch.",
			},
			[]string{"type"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dockeragent",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dockeragent",
				Name:      "executor_code_size_bytes",
				Help:      "Size of submitted executor code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dockeragent",
				Name:      "gateway_output_size_bytes",
				Help:      "Size of gateway output in bytes: stdout after output shaping plus stderr.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.DockerCommandsTotal,
		m.GatewayDuration,
		m.ExecutorExecutions,
		m.ExecutorDuration,
		m.TrajectoryLoops,
		m.RedactionMatches,
		m.SecurityEvents,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordGatewayDispatch records metrics for a completed Command Gateway call.
func (m *Metrics) RecordGatewayDispatch(subcommand, status string, durationSec float64) {
	m.DockerCommandsTotal.WithLabelValues(subcommand, status).Inc()
	m.GatewayDuration.WithLabelValues(subcommand).Observe(durationSec)
}

// RecordExecutorRun records metrics for a completed Programmatic Executor run.
func (m *Metrics) RecordExecutorRun(outcome string, durationSec float64) {
	m.ExecutorExecutions.WithLabelValues(outcome).Inc()
	m.ExecutorDuration.Observe(durationSec)
}

// RecordLoopDetected records a loop-detection flag from the Trajectory Recorder.
func (m *Metrics) RecordLoopDetected(pattern string) {
	m.TrajectoryLoops.WithLabelValues(pattern).Inc()
}

// RecordRedaction records that the Trajectory Recorder redacted a credential-like value.
func (m *Metrics) RecordRedaction() {
	m.RedactionMatches.Inc()
}

// RecordSecurityEvent records an advisory security-telemetry detection.
func (m *Metrics) RecordSecurityEvent(eventType string) {
	m.SecurityEvents.WithLabelValues(eventType).Inc()
}
