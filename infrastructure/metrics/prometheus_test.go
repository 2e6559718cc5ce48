package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRecordCounter_RoutesByName verifies metric names arriving through the
// port land on their dedicated vectors with the right labels.
func TestRecordCounter_RoutesByName(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.RecordCounter("rag_query_aborts_total", 1, map[string]string{"stage": "index_checked"})
	pm.RecordCounter("rag_tokens_total", 240, map[string]string{"kind": "generation"})
	pm.RecordCounter("rag_relevance_verdicts_total", 1, map[string]string{"verdict": "RELEVANT"})
	pm.RecordCounter("rag_query_cost_dollars_total", 0.001175, nil)
	pm.RecordCounter("rag_evaluation_failures_total", 1, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.queryAborts.WithLabelValues("index_checked")))
	assert.Equal(t, 240.0, testutil.ToFloat64(pm.ragTokens.WithLabelValues("generation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.relevanceVerdict.WithLabelValues("RELEVANT")))
	assert.InDelta(t, 0.001175, testutil.ToFloat64(pm.queryCost), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.evalFailures))
}

// TestRecordCounter_GatewayMetrics verifies the three-label gateway vectors.
func TestRecordCounter_GatewayMetrics(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	labels := map[string]string{"provider": "openai", "model": "gpt-4o", "status": "success"}
	pm.RecordCounter("llm_requests_total", 1, labels)
	pm.RecordCounter("llm_tokens_total", 200, map[string]string{
		"provider": "openai", "model": "gpt-4o", "token_type": "input",
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.llmRequests.WithLabelValues("openai", "gpt-4o", "success")))
	assert.Equal(t, 200.0, testutil.ToFloat64(pm.llmTokens.WithLabelValues("openai", "gpt-4o", "input")))
}

// TestRecordCounter_UnknownNameFallsThrough verifies no observation is
// silently dropped.
func TestRecordCounter_UnknownNameFallsThrough(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.RecordCounter("something_nobody_registered", 3, nil)
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.operationCounter.WithLabelValues("something_nobody_registered")))
}

// TestRecordCounter_MissingLabelsDefaulted verifies absent labels become
// "unknown" instead of panicking.
func TestRecordCounter_MissingLabelsDefaulted(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.RecordCounter("rag_query_aborts_total", 1, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.queryAborts.WithLabelValues("unknown")))
}

// TestRecordLatencyAndHistogram verifies duration observations land in the
// right histogram.
func TestRecordLatencyAndHistogram(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.RecordLatency("rag_query", 250*time.Millisecond, map[string]string{"status": "complete"})
	pm.RecordHistogram("llm_latency_seconds", 0.8, map[string]string{
		"provider": "openai", "model": "gpt-4o", "status": "success",
	})

	require.Equal(t, 1, testutil.CollectAndCount(pm.queryDuration))
	require.Equal(t, 1, testutil.CollectAndCount(pm.llmLatency))
}

// TestRecordGauge verifies gauge values are settable and overwrite.
func TestRecordGauge(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.RecordGauge("index_documents", 948, nil)
	pm.RecordGauge("index_documents", 950, nil)
	assert.Equal(t, 950.0, testutil.ToFloat64(pm.systemGauges.WithLabelValues("index_documents")))
}

// TestNewPrometheusMetrics_RegistersCleanly verifies two instances can live
// on separate registries without collisions.
func TestNewPrometheusMetrics_RegistersCleanly(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusMetrics(prometheus.NewRegistry())
		NewPrometheusMetrics(prometheus.NewRegistry())
	})
}
