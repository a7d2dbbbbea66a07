// Package metrics provides a SyncListener that records end-to-end message
// processing durations.
package metrics

import (
	"context"
	"time"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	metrics "github.com/tigerroll/famsync/pkg/sync/core/metrics"
)

type contextKey string

const startTimeKey contextKey = "famsync.listener.metrics.start"

// MetricsSyncListener records the wall-clock duration of each processed
// message, tagged with its outcome.
type MetricsSyncListener struct {
	recorder metrics.MetricRecorder
}

// NewMetricsSyncListener creates a metrics listener.
func NewMetricsSyncListener(recorder metrics.MetricRecorder) port.SyncListener {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &MetricsSyncListener{recorder: recorder}
}

func (l *MetricsSyncListener) BeforeProcess(ctx context.Context, msg *port.InboundMessage) context.Context {
	return context.WithValue(ctx, startTimeKey, time.Now())
}

func (l *MetricsSyncListener) AfterProcess(ctx context.Context, msg *port.InboundMessage, result *port.ProcessResult, err error) {
	start, ok := ctx.Value(startTimeKey).(time.Time)
	if !ok {
		return
	}
	tags := map[string]string{"outcome": outcome(result, err)}
	if result != nil && result.Comparison != nil {
		tags["action"] = string(result.Comparison.Action)
	}
	l.recorder.RecordDuration(ctx, "message_processing", time.Since(start), tags)
}

func outcome(result *port.ProcessResult, err error) string {
	switch {
	case err != nil:
		return "failed"
	case result != nil && result.Acked:
		return "acked"
	default:
		return "nacked"
	}
}

var _ port.SyncListener = (*MetricsSyncListener)(nil)
