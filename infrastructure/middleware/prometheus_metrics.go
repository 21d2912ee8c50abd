// Package middleware provides cross-cutting concerns for the evaluation
// pipeline.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/intellego/evalpipe/infrastructure/llm"
	"github.com/intellego/evalpipe/internal/ports"
)

// Metric names understood by PrometheusMetrics. Anything else is routed to
// the generic operation metrics.
const (
	MetricLLMRequests      = "llm_requests_total"
	MetricLLMLatency       = "llm_latency_seconds"
	MetricLLMTokens        = "llm_tokens_total"
	MetricBatchJobs        = "batch_jobs_total"
	MetricBatchRetries     = "batch_retries_total"
	MetricBatchCost        = "batch_cost_usd"
	MetricBatchJobDuration = "batch_job_duration_seconds"
)

const unknownLabel = "unknown"

// PrometheusMetrics implements ports.MetricsCollector on Prometheus.
// It covers provider calls (latency, status, four-tier token usage), the
// batch orchestrator and circuit breaker state.
type PrometheusMetrics struct {
	llmRequests      *prometheus.CounterVec
	llmLatency       *prometheus.HistogramVec
	llmTokens        *prometheus.CounterVec
	batchJobs        *prometheus.CounterVec
	batchRetries     prometheus.Counter
	batchCost        prometheus.Gauge
	batchJobDuration prometheus.Histogram
	breakerState     *prometheus.GaugeVec
	breakerEvents    *prometheus.CounterVec

	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the collector and registers every metric
// with reg. A nil reg uses the default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricLLMRequests,
				Help: "Provider completion calls by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricLLMLatency,
				Help:    "Provider completion latency.",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricLLMTokens,
				Help: "Tokens billed per tier (input, output, cache_write, cache_read).",
			},
			[]string{"provider", "model", "token_type"},
		),
		batchJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBatchJobs,
				Help: "Settled batch jobs by status.",
			},
			[]string{"status"},
		),
		batchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricBatchRetries,
			Help: "Job evaluation retries performed by the orchestrator.",
		}),
		batchCost: factory.NewGauge(prometheus.GaugeOpts{
			Name: MetricBatchCost,
			Help: "Total cost in USD of the most recent batch.",
		}),
		batchJobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricBatchJobDuration,
			Help:    "Wall-clock duration of one batch job including retries.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llm_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 open, 2 half open).",
			},
			[]string{"provider"},
		),
		breakerEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_circuit_breaker_events_total",
				Help: "Circuit breaker outcomes (success, failure, rejected).",
			},
			[]string{"provider", "event"},
		),

		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "evalpipe_operation_duration_seconds",
				Help:    "Duration of pipeline operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "component"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evalpipe_operations_total",
				Help: "Pipeline operations by status.",
			},
			[]string{"operation", "status", "component"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "evalpipe_state",
				Help: "Current pipeline state values.",
			},
			[]string{"metric", "component"},
		),
	}
}

// label returns labels[key], or "unknown" when it is missing or empty.
func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return unknownLabel
}

// RecordLatency records an operation duration in seconds.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	if operation == MetricBatchJobDuration {
		pm.batchJobDuration.Observe(duration.Seconds())
		return
	}
	pm.operationLatency.WithLabelValues(operation, label(labels, "component")).Observe(duration.Seconds())
}

// RecordCounter adds value to a counter.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case MetricLLMRequests:
		pm.llmRequests.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "status"),
		).Add(value)
	case MetricLLMTokens:
		pm.llmTokens.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "token_type"),
		).Add(value)
	case MetricBatchJobs:
		pm.batchJobs.WithLabelValues(label(labels, "status")).Add(value)
	case MetricBatchRetries:
		pm.batchRetries.Add(value)
	default:
		status := labels["status"]
		if status == "" {
			status = "success"
		}
		pm.operationCounter.WithLabelValues(metric, status, label(labels, "component")).Add(value)
	}
}

// RecordGauge sets a gauge value.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	if metric == MetricBatchCost {
		pm.batchCost.Set(value)
		return
	}
	pm.systemGauges.WithLabelValues(metric, label(labels, "component")).Set(value)
}

// RecordHistogram observes value in a histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case MetricLLMLatency:
		pm.llmLatency.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "status"),
		).Observe(value)
	case MetricBatchJobDuration:
		pm.batchJobDuration.Observe(value)
	default:
		pm.operationLatency.WithLabelValues(metric, label(labels, "component")).Observe(value)
	}
}

// CircuitBreaker returns circuit breaker metrics for provider.
func (pm *PrometheusMetrics) CircuitBreaker(provider string) llm.CircuitBreakerMetrics {
	if provider == "" {
		provider = unknownLabel
	}
	return &breakerMetrics{pm: pm, provider: provider}
}

type breakerMetrics struct {
	pm       *PrometheusMetrics
	provider string
}

func (b *breakerMetrics) RecordState(state llm.CircuitBreakerState) {
	b.pm.breakerState.WithLabelValues(b.provider).Set(float64(state))
}

func (b *breakerMetrics) RecordTrip() {
	b.pm.breakerEvents.WithLabelValues(b.provider, "rejected").Inc()
}

func (b *breakerMetrics) RecordSuccess() {
	b.pm.breakerEvents.WithLabelValues(b.provider, "success").Inc()
}

func (b *breakerMetrics) RecordFailure() {
	b.pm.breakerEvents.WithLabelValues(b.provider, "failure").Inc()
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
