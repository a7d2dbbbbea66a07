package tracing

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
)

// Module is an Fx module that contributes the tracing listener to the
// sync_listeners group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewTracingSyncListener,
		fx.As(new(port.SyncListener)),
		fx.ResultTags(`group:"sync_listeners"`),
	)),
)
