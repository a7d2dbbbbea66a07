package metrics

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the PrometheusRecorder. The
// application layer maps it onto the metrics.MetricRecorder interface when
// metrics are enabled.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
)
