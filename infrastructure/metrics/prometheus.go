// Package metrics implements the MetricsCollector port on Prometheus,
// covering both pipeline-level and gateway-level observations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kuberag/kuberag/internal/ports"
)

// PrometheusMetrics routes collector calls onto a fixed set of Prometheus
// metric vectors. Metric names arriving through the port select the vector;
// unrecognized names fall through to catch-all vectors so no observation is
// silently dropped.
type PrometheusMetrics struct {
	queryDuration    *prometheus.HistogramVec
	queryAborts      *prometheus.CounterVec
	ragTokens        *prometheus.CounterVec
	queryCost        prometheus.Counter
	relevanceVerdict *prometheus.CounterVec
	evalFailures     prometheus.Counter

	llmLatency  *prometheus.HistogramVec
	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec

	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
}

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the metric vectors with reg. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh registry
// in tests.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rag_query_duration_seconds",
				Help:    "End-to-end duration of pipeline queries.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		queryAborts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_query_aborts_total",
				Help: "Aborted queries by pipeline stage.",
			},
			[]string{"stage"},
		),
		ragTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_tokens_total",
				Help: "Tokens consumed per pipeline call kind.",
			},
			[]string{"kind"},
		),
		queryCost: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rag_query_cost_dollars_total",
				Help: "Cumulative dollar cost of completion calls.",
			},
		),
		relevanceVerdict: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_relevance_verdicts_total",
				Help: "Relevance verdicts by classification.",
			},
			[]string{"verdict"},
		),
		evalFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rag_evaluation_failures_total",
				Help: "Relevance evaluations that failed at the gateway.",
			},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_latency_seconds",
				Help:    "Latency of completion gateway requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model", "status"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Completion gateway requests by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Tokens reported by providers, by direction.",
			},
			[]string{"provider", "model", "token_type"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kuberag_operations_total",
				Help: "Catch-all counter for uncategorized operations.",
			},
			[]string{"operation"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kuberag_system_state",
				Help: "Catch-all gauge for system state values.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency records operation duration as a histogram observation.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	switch operation {
	case "rag_query":
		pm.queryDuration.WithLabelValues(labelOr(labels, "status", "unknown")).Observe(duration.Seconds())
	default:
		pm.llmLatency.WithLabelValues(
			labelOr(labels, "provider", "unknown"),
			labelOr(labels, "model", "unknown"),
			labelOr(labels, "status", "unknown"),
		).Observe(duration.Seconds())
	}
}

// RecordCounter increments the counter selected by metric name.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "rag_query_aborts_total":
		pm.queryAborts.WithLabelValues(labelOr(labels, "stage", "unknown")).Add(value)
	case "rag_tokens_total":
		pm.ragTokens.WithLabelValues(labelOr(labels, "kind", "unknown")).Add(value)
	case "rag_query_cost_dollars_total":
		pm.queryCost.Add(value)
	case "rag_relevance_verdicts_total":
		pm.relevanceVerdict.WithLabelValues(labelOr(labels, "verdict", "unknown")).Add(value)
	case "rag_evaluation_failures_total":
		pm.evalFailures.Add(value)
	case "llm_requests_total":
		pm.llmRequests.WithLabelValues(
			labelOr(labels, "provider", "unknown"),
			labelOr(labels, "model", "unknown"),
			labelOr(labels, "status", "unknown"),
		).Add(value)
	case "llm_tokens_total":
		pm.llmTokens.WithLabelValues(
			labelOr(labels, "provider", "unknown"),
			labelOr(labels, "model", "unknown"),
			labelOr(labels, "token_type", "unknown"),
		).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge sets the catch-all gauge for the metric.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram records a raw histogram observation.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case "llm_latency_seconds":
		pm.llmLatency.WithLabelValues(
			labelOr(labels, "provider", "unknown"),
			labelOr(labels, "model", "unknown"),
			labelOr(labels, "status", "unknown"),
		).Observe(value)
	default:
		pm.queryDuration.WithLabelValues(labelOr(labels, "status", "unknown")).Observe(value)
	}
}

func labelOr(labels map[string]string, key, fallback string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return fallback
}
