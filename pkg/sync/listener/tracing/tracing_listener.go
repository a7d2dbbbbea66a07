// Package tracing provides a SyncListener that wraps each processed message
// in an OpenTelemetry span.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
)

const tracerName = "github.com/tigerroll/famsync/pkg/sync"

// TracingSyncListener opens a span per message in BeforeProcess and closes it
// with the processing outcome in AfterProcess. The span travels on the
// context returned from BeforeProcess.
type TracingSyncListener struct {
	tracer trace.Tracer
}

// NewTracingSyncListener creates a tracing listener against the globally
// registered tracer provider.
func NewTracingSyncListener() port.SyncListener {
	return &TracingSyncListener{tracer: otel.Tracer(tracerName)}
}

func (l *TracingSyncListener) BeforeProcess(ctx context.Context, msg *port.InboundMessage) context.Context {
	ctx, _ = l.tracer.Start(ctx, "famsync.process_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.message.id", msg.ID),
		),
	)
	return ctx
}

func (l *TracingSyncListener) AfterProcess(ctx context.Context, msg *port.InboundMessage, result *port.ProcessResult, err error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if result != nil {
		span.SetAttributes(
			attribute.String("famsync.job.id", result.JobID),
			attribute.String("famsync.family.id", result.FamilyID),
			attribute.Bool("famsync.acked", result.Acked),
		)
		if result.Comparison != nil {
			span.SetAttributes(attribute.String("famsync.action", string(result.Comparison.Action)))
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

var _ port.SyncListener = (*TracingSyncListener)(nil)
