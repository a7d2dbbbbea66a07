package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
)

// MetricRecorder is an abstract interface for recording reconciliation
// metrics. It standardizes job, comparison, and CRM-call level events so
// different backends (Prometheus, OpenTelemetry Metrics) can be plugged in.
type MetricRecorder interface {
	// RecordMessageReceived records that an inbound message entered the
	// pipeline.
	RecordMessageReceived(ctx context.Context)

	// RecordJobStart records the creation of a Job for an inbound event.
	RecordJobStart(ctx context.Context, job *model.Job)

	// RecordJobEnd records the completion of a Job with its terminal state and
	// total duration.
	RecordJobEnd(ctx context.Context, job *model.Job, duration time.Duration)

	// RecordComparison records the verdict of a comparison.
	RecordComparison(ctx context.Context, action model.Action)

	// RecordStaleDrop records an update dropped because a newer one already
	// superseded it.
	RecordStaleDrop(ctx context.Context)

	// RecordCRMCall records one CRM call with its operation name, outcome, and
	// duration.
	RecordCRMCall(ctx context.Context, operation string, success bool, duration time.Duration)

	// RecordDuration records a generic duration metric with optional tags.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
