// Package metrics implements the Prometheus backend of the
// metrics.MetricRecorder interface.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	metrics "github.com/tigerroll/famsync/pkg/sync/core/metrics"
	logger "github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the
// metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	messagesReceived   prometheus.Counter
	jobStartedCounter  *prometheus.CounterVec
	jobDurationSeconds *prometheus.HistogramVec
	comparisonCounter  *prometheus.CounterVec
	staleDroppedTotal  prometheus.Counter
	crmCallSeconds     *prometheus.HistogramVec
	operationSeconds   *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder with its
// own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "famsync_messages_received_total",
			Help: "Total number of inbound family update messages received.",
		}),
		jobStartedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "famsync_job_started_total",
			Help: "Total number of reconciliation jobs started by event key.",
		}, []string{"key"}),
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "famsync_job_duration_seconds",
			Help:    "Duration of reconciliation jobs by terminal state.",
			Buckets: prometheus.DefBuckets,
		}, []string{"state"}),
		comparisonCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "famsync_comparison_total",
			Help: "Total number of comparisons by aggregate action.",
		}, []string{"action"}),
		staleDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "famsync_stale_dropped_total",
			Help: "Total number of updates dropped as stale.",
		}),
		crmCallSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "famsync_crm_call_duration_seconds",
			Help:    "Duration of CRM calls by operation and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "success"}),
		operationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "famsync_operation_duration_seconds",
			Help:    "Duration of named internal operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	registry.MustRegister(r.messagesReceived)
	registry.MustRegister(r.jobStartedCounter)
	registry.MustRegister(r.jobDurationSeconds)
	registry.MustRegister(r.comparisonCounter)
	registry.MustRegister(r.staleDroppedTotal)
	registry.MustRegister(r.crmCallSeconds)
	registry.MustRegister(r.operationSeconds)

	return r
}

// GetRegistry returns the Prometheus registry for the exposition handler.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordMessageReceived counts an inbound message entering the pipeline.
func (r *PrometheusRecorder) RecordMessageReceived(ctx context.Context) {
	r.messagesReceived.Inc()
}

// RecordJobStart counts a Job created for an inbound event.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, job *model.Job) {
	r.jobStartedCounter.WithLabelValues(job.Key).Inc()
	logger.Debugf("Metrics: Job (ID: %s) started.", job.ID)
}

// RecordJobEnd observes a Job's total duration against its terminal state.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, job *model.Job, duration time.Duration) {
	state := "unknown"
	if job.Status != nil {
		state = string(job.Status.LatestState)
	}
	r.jobDurationSeconds.WithLabelValues(state).Observe(duration.Seconds())
	logger.Debugf("Metrics: Job (ID: %s) ended in state '%s'. Duration: %.3fs", job.ID, state, duration.Seconds())
}

// RecordComparison counts a comparison verdict.
func (r *PrometheusRecorder) RecordComparison(ctx context.Context, action model.Action) {
	r.comparisonCounter.WithLabelValues(string(action)).Inc()
}

// RecordStaleDrop counts an update dropped as stale.
func (r *PrometheusRecorder) RecordStaleDrop(ctx context.Context) {
	r.staleDroppedTotal.Inc()
}

// RecordCRMCall observes one CRM call.
func (r *PrometheusRecorder) RecordCRMCall(ctx context.Context, operation string, success bool, duration time.Duration) {
	outcome := "false"
	if success {
		outcome = "true"
	}
	r.crmCallSeconds.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordDuration observes a generic named duration. Tags are not modeled as
// labels to keep cardinality bounded.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
