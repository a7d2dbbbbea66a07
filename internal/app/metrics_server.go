package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	inframetrics "github.com/tigerroll/famsync/pkg/sync/infrastructure/metrics"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// RegisterMetricsServer exposes the Prometheus registry over HTTP when
// metrics are enabled.
func RegisterMetricsServer(lc fx.Lifecycle, cfg *config.Config, recorder *inframetrics.PrometheusRecorder) {
	if !cfg.Famsync.Metrics.Enabled {
		logger.Debugf("Metrics exposition is disabled.")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(recorder.GetRegistry(), promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              cfg.Famsync.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Infof("Metrics server listening on %s.", server.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("Metrics server failed: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
