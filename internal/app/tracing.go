package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/fx"

	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// serviceName identifies this process in exported traces.
const serviceName = "famsync"

// RegisterTracing installs an OTLP trace exporter when tracing is enabled and
// flushes it on shutdown. When disabled, the default no-op tracer provider
// stays in place and the tracing listener emits no spans.
func RegisterTracing(lc fx.Lifecycle, cfg *config.Config) error {
	if !cfg.Famsync.Tracing.Enabled {
		logger.Debugf("Tracing is disabled.")
		return nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if cfg.Famsync.Tracing.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Famsync.Tracing.Endpoint))
	}
	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Infof("Tracing enabled (OTLP endpoint: %s).", cfg.Famsync.Tracing.Endpoint)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		},
	})
	return nil
}
