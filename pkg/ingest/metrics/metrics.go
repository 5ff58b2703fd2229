// Package metrics implements the engine's metric recorder on Prometheus,
// plus a no-op recorder for runs with metrics disabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tigerroll/shoreline/pkg/ingest/core/model"
	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
)

// PrometheusRecorder implements port.MetricRecorder with Prometheus
// collectors registered on its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	recordsTotal  *prometheus.CounterVec
	stageAttempts *prometheus.CounterVec
	stageRetries  *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

// NewPrometheusRecorder creates a recorder with a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shoreline",
			Name:      "records_total",
			Help:      "Records processed, by outcome.",
		}, []string{"outcome"}),
		stageAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shoreline",
			Name:      "stage_attempts_total",
			Help:      "Stage attempts, by stage and result.",
		}, []string{"stage", "result"}),
		stageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shoreline",
			Name:      "stage_retries_total",
			Help:      "Stage retries, by stage.",
		}, []string{"stage"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shoreline",
			Name:      "batch_duration_seconds",
			Help:      "Wall time per batch.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
	r.registry.MustRegister(r.recordsTotal, r.stageAttempts, r.stageRetries, r.batchDuration)
	return r
}

// Registry exposes the recorder's registry for the exposition endpoint.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordBatch(res model.BatchResult) {
	r.recordsTotal.WithLabelValues("success").Add(float64(res.SuccessCount))
	r.recordsTotal.WithLabelValues("failed").Add(float64(res.FailedCount))
	r.recordsTotal.WithLabelValues("skipped").Add(float64(res.SkippedCount))
	r.recordsTotal.WithLabelValues("inserted").Add(float64(res.InsertedCount))
	r.recordsTotal.WithLabelValues("updated").Add(float64(res.UpdatedCount))
}

func (r *PrometheusRecorder) RecordStageAttempt(stageName string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	r.stageAttempts.WithLabelValues(stageName, result).Inc()
}

func (r *PrometheusRecorder) RecordRetry(stageName string) {
	r.stageRetries.WithLabelValues(stageName).Inc()
}

func (r *PrometheusRecorder) ObserveBatchDuration(seconds float64) {
	r.batchDuration.Observe(seconds)
}

// NoopRecorder discards every metric.
type NoopRecorder struct{}

func (NoopRecorder) RecordBatch(model.BatchResult)        {}
func (NoopRecorder) RecordStageAttempt(string, bool)      {}
func (NoopRecorder) RecordRetry(string)                   {}
func (NoopRecorder) ObserveBatchDuration(float64)         {}

var _ port.MetricRecorder = (*PrometheusRecorder)(nil)
var _ port.MetricRecorder = NoopRecorder{}
