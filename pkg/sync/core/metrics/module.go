// Package metrics defines the metric recording abstraction for the
// reconciliation pipeline.
package metrics

import (
	"go.uber.org/fx"
)

// Module is an Fx module for metrics-related components. The concrete
// MetricRecorder is chosen by the application wiring: the Prometheus recorder
// when exposition is enabled, the no-op recorder otherwise.
var Module = fx.Options()
