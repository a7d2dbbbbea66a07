package app

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/tigerroll/famsync/pkg/sync/component/migration"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// RunApplication builds and runs the famsync daemon. It blocks until ctx is
// cancelled or the fx application stops on its own.
//
// dbProviderOptions carries the fx.Provide options for the database providers
// selected by the entrypoint (see DBProviderMap).
func RunApplication(ctx context.Context, envFilePath string, embeddedConfig []byte, dbProviderOptions ...fx.Option) error {
	fxApp := fx.New(
		fx.Supply(
			config.EmbeddedConfig(embeddedConfig),
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		fx.Provide(config.NewConfigProvider),
		fx.WithLogger(func() fxevent.Logger { return logger.NewFxLoggerAdapter() }),

		fx.Options(dbProviderOptions...),
		Module,

		// Apply pending schema migrations before anything consumes or writes
		// audit state.
		fx.Invoke(func(runner *migration.Runner) error {
			if err := runner.Run(ctx); err != nil {
				return fmt.Errorf("schema migration failed: %w", err)
			}
			return nil
		}),

		fx.Provide(NewSubscriber),
		fx.Invoke(RegisterTracing),
		fx.Invoke(RegisterMetricsServer),
		fx.Invoke(func(s *Subscriber) {}),
	)

	if err := fxApp.Err(); err != nil {
		return fmt.Errorf("application initialization failed: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, fx.DefaultTimeout)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	logger.Infof("famsync started.")

	select {
	case <-ctx.Done():
		logger.Infof("Shutdown signal received.")
	case <-fxApp.Done():
		logger.Infof("Application stopped.")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer stopCancel()
	if err := fxApp.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop application gracefully: %w", err)
	}
	return nil
}
