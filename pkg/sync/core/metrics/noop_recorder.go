package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
)

// NoOpMetricRecorder is a MetricRecorder that does nothing. It is used when
// metrics are disabled and during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordMessageReceived(ctx context.Context) {}

func (r *NoOpMetricRecorder) RecordJobStart(ctx context.Context, job *model.Job) {}

func (r *NoOpMetricRecorder) RecordJobEnd(ctx context.Context, job *model.Job, duration time.Duration) {
}

func (r *NoOpMetricRecorder) RecordComparison(ctx context.Context, action model.Action) {}

func (r *NoOpMetricRecorder) RecordStaleDrop(ctx context.Context) {}

func (r *NoOpMetricRecorder) RecordCRMCall(ctx context.Context, operation string, success bool, duration time.Duration) {
}

func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)
