// Package app assembles the famsync application: database connections, the
// audit repository, the reconciliation engines, the inbound event source, and
// the supporting infrastructure, wired together with uber-fx.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/fx"

	database "github.com/tigerroll/famsync/pkg/sync/adaptor/database"
	dbconfig "github.com/tigerroll/famsync/pkg/sync/adaptor/database/config"
	gormadaptor "github.com/tigerroll/famsync/pkg/sync/adaptor/database/gorm"
	"github.com/tigerroll/famsync/pkg/sync/adaptor/database/gorm/mysql"
	"github.com/tigerroll/famsync/pkg/sync/adaptor/database/gorm/postgres"
	"github.com/tigerroll/famsync/pkg/sync/adaptor/database/gorm/sqlite"
	storageAdapter "github.com/tigerroll/famsync/pkg/sync/adaptor/storage"
	gcsstorage "github.com/tigerroll/famsync/pkg/sync/adaptor/storage/gcs"
	localstorage "github.com/tigerroll/famsync/pkg/sync/adaptor/storage/local"
	"github.com/tigerroll/famsync/pkg/sync/component/archive"
	"github.com/tigerroll/famsync/pkg/sync/component/migration"
	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	repository "github.com/tigerroll/famsync/pkg/sync/core/domain/repository"
	metrics "github.com/tigerroll/famsync/pkg/sync/core/metrics"
	"github.com/tigerroll/famsync/pkg/sync/engine/compare"
	"github.com/tigerroll/famsync/pkg/sync/engine/executor"
	"github.com/tigerroll/famsync/pkg/sync/engine/pipeline"
	"github.com/tigerroll/famsync/pkg/sync/engine/processor"
	"github.com/tigerroll/famsync/pkg/sync/infrastructure/crm"
	inframetrics "github.com/tigerroll/famsync/pkg/sync/infrastructure/metrics"
	"github.com/tigerroll/famsync/pkg/sync/infrastructure/queue"
	sqlrepo "github.com/tigerroll/famsync/pkg/sync/infrastructure/repository/sql"
	listenerlogging "github.com/tigerroll/famsync/pkg/sync/listener/logging"
	listenermetrics "github.com/tigerroll/famsync/pkg/sync/listener/metrics"
	listenertracing "github.com/tigerroll/famsync/pkg/sync/listener/tracing"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
	"github.com/tigerroll/famsync/pkg/sync/transform"
)

// DBProviderMap is used by main.go to dynamically select providers.
var DBProviderMap = map[string]func(cfg *config.Config) database.DBProvider{
	"postgres": postgres.NewProvider,
	"redshift": postgres.NewProvider, // Redshift also uses the Postgres provider.
	"mysql":    mysql.NewProvider,
	"sqlite":   sqlite.NewProvider,
}

// DBConnectionsParams defines the dependencies for NewDBConnections.
type DBConnectionsParams struct {
	fx.In
	Lifecycle   fx.Lifecycle
	Cfg         *config.Config
	DBProviders []database.DBProvider `group:"db_providers"`
}

// NewDBConnections establishes a connection for every data source in the
// configuration using the matching DBProvider and registers a shutdown hook
// that closes them all.
func NewDBConnections(p DBConnectionsParams) (
	map[string]database.DBConnection,
	map[string]database.DBProvider,
	error,
) {
	allConnections := make(map[string]database.DBConnection)
	allProviders := make(map[string]database.DBProvider)

	providerMap := make(map[string]database.DBProvider)
	for _, provider := range p.DBProviders {
		providerMap[provider.Type()] = provider
		allProviders[provider.Type()] = provider
	}

	for name, rawConfig := range p.Cfg.Famsync.AdaptorConfigs {
		var dbCfg dbconfig.DatabaseConfig
		if err := mapstructure.Decode(rawConfig, &dbCfg); err != nil {
			return nil, nil, fmt.Errorf("failed to decode database config for '%s': %w", name, err)
		}

		provider, ok := providerMap[dbCfg.Type]
		if !ok {
			if dbCfg.Type == "redshift" {
				provider, ok = providerMap["postgres"]
			}
			if !ok {
				logger.Warnf("No DBProvider found for database type '%s' (Datasource: %s). Skipping connection.", dbCfg.Type, name)
				continue
			}
		}

		conn, err := provider.GetConnection(name)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get connection for '%s' using provider '%s': %w", name, provider.Type(), err)
		}
		allConnections[name] = conn
		logger.Debugf("Initialized DB Connection for: %s (%s)", name, dbCfg.Type)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Infof("Closing all database connections...")
			var wg sync.WaitGroup
			var lastErr error
			for _, provider := range p.DBProviders {
				wg.Add(1)
				go func(dp database.DBProvider) {
					defer wg.Done()
					if err := dp.CloseAll(); err != nil {
						logger.Errorf("Failed to close connections for provider %s: %v", dp.Type(), err)
						lastErr = err
					}
				}(provider)
			}
			wg.Wait()
			return lastErr
		},
	})

	return allConnections, allProviders, nil
}

// DefaultDBConnectionResolver resolves database connection instances by their
// configured name.
type DefaultDBConnectionResolver struct {
	providers map[string]database.DBProvider
	cfg       *config.Config
}

// ResolverParams defines the dependencies for NewDefaultDBConnectionResolver.
type ResolverParams struct {
	fx.In
	DBProviders []database.DBProvider `group:"db_providers"`
	Cfg         *config.Config
}

// NewDefaultDBConnectionResolver creates the resolver over all registered
// providers.
func NewDefaultDBConnectionResolver(p ResolverParams) database.DBConnectionResolver {
	providerMap := make(map[string]database.DBProvider)
	for _, provider := range p.DBProviders {
		providerMap[provider.Type()] = provider
	}
	return &DefaultDBConnectionResolver{providers: providerMap, cfg: p.Cfg}
}

// ResolveDBConnection resolves a database connection instance by name. The
// provider manages the pool internally and returns a valid connection.
func (r *DefaultDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	rawConfig, ok := r.cfg.Famsync.AdaptorConfigs[name]
	if !ok {
		return nil, fmt.Errorf("database configuration '%s' not found in database configs", name)
	}
	var dbCfg dbconfig.DatabaseConfig
	if err := mapstructure.Decode(rawConfig, &dbCfg); err != nil {
		return nil, fmt.Errorf("failed to decode database config for '%s': %w", name, err)
	}

	provider, ok := r.providers[dbCfg.Type]
	if !ok {
		if dbCfg.Type == "redshift" {
			provider, ok = r.providers["postgres"]
		}
		if !ok {
			return nil, fmt.Errorf("DBProvider for type '%s' not found", dbCfg.Type)
		}
	}

	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection '%s': %w", name, err)
	}
	return conn, nil
}

// SyncTxManagerParams defines the dependencies for NewSyncTxManager.
type SyncTxManagerParams struct {
	fx.In
	Resolver  database.DBConnectionResolver
	TxFactory database.TransactionManagerFactory
	Cfg       *config.Config
}

// NewSyncTxManager creates the TransactionManager for the sync repository
// connection.
func NewSyncTxManager(p SyncTxManagerParams) (database.TransactionManager, error) {
	conn, err := p.Resolver.ResolveDBConnection(context.Background(), p.Cfg.Famsync.Infrastructure.SyncRepositoryDBRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sync repository connection: %w", err)
	}
	return p.TxFactory.NewTransactionManager(conn), nil
}

// NewSyncRepository creates the SQL-backed audit repository.
func NewSyncRepository(
	resolver database.DBConnectionResolver,
	txManager database.TransactionManager,
	cfg *config.Config,
) repository.SyncRepository {
	return sqlrepo.NewSQLSyncRepository(resolver, txManager, cfg.Famsync.Infrastructure.SyncRepositoryDBRef)
}

// NewCRMClient builds the HTTP CRM client wrapped with the retry and circuit
// breaker decorator.
func NewCRMClient(cfg *config.Config) port.CRMClient {
	inner := crm.NewHTTPClient(cfg.Famsync.CRM)
	return executor.NewRetryingCRMClient(inner, cfg.Famsync.Sync.Retry)
}

// NewMetricRecorder maps the Prometheus recorder onto the MetricRecorder
// interface when metrics are enabled, the no-op recorder otherwise.
func NewMetricRecorder(cfg *config.Config, prom *inframetrics.PrometheusRecorder) metrics.MetricRecorder {
	if cfg.Famsync.Metrics.Enabled {
		return prom
	}
	return metrics.NewNoOpMetricRecorder()
}

// NewEventSource creates the Redis-backed inbound event source.
func NewEventSource(lc fx.Lifecycle, cfg *config.Config) port.EventSource {
	source := queue.NewRedisEventSource(cfg.Famsync.Queue)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return source.Close()
		},
	})
	return source
}

// NewArchiveStorage selects the archive storage adapter from configuration.
func NewArchiveStorage(lc fx.Lifecycle, cfg *config.Config) (storageAdapter.StorageConnection, error) {
	archiveCfg := cfg.Famsync.Archive
	var (
		conn storageAdapter.StorageConnection
		err  error
	)
	switch archiveCfg.Storage {
	case gcsstorage.ProviderType:
		conn, err = gcsstorage.NewGCSAdapter(context.Background(), "", "archive")
	case localstorage.ProviderType, "":
		conn, err = localstorage.NewLocalAdapter(archiveCfg.LocalDir, "archive")
	default:
		return nil, fmt.Errorf("unsupported archive storage type: %s", archiveCfg.Storage)
	}
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return conn.Close()
		},
	})
	return conn, nil
}

// NewArchiver creates the finished-job archiver.
func NewArchiver(repo repository.SyncRepository, store storageAdapter.StorageConnection, cfg *config.Config) *archive.Archiver {
	return archive.NewArchiver(repo, store, cfg.Famsync.Archive)
}

// ProcessorParams defines the dependencies for NewMessageProcessor.
type ProcessorParams struct {
	fx.In
	Repo             repository.SyncRepository
	RequestPipeline  *pipeline.RequestPipeline
	Engine           *compare.Engine
	Executor         *executor.Executor
	ResponsePipeline *pipeline.ResponsePipeline
	Listeners        []port.SyncListener `group:"sync_listeners"`
	Recorder         metrics.MetricRecorder
	Cfg              *config.Config
}

// NewMessageProcessor wires the engines into the message processor.
func NewMessageProcessor(p ProcessorParams) *processor.Processor {
	return processor.NewProcessor(p.Repo, p.RequestPipeline, p.Engine, p.Executor, p.ResponsePipeline, p.Listeners, p.Recorder, p.Cfg)
}

// Module defines the application's Fx module.
var Module = fx.Options(
	fx.Provide(gormadaptor.NewGormTransactionManagerFactory),
	fx.Provide(NewDBConnections),
	fx.Provide(NewDefaultDBConnectionResolver),
	fx.Provide(NewSyncTxManager),
	fx.Provide(NewSyncRepository),

	inframetrics.Module,
	fx.Provide(NewMetricRecorder),

	fx.Provide(NewCRMClient),
	fx.Provide(transform.NewFamilyTransformer),
	fx.Provide(func(repo repository.SyncRepository, crmClient port.CRMClient, recorder metrics.MetricRecorder) *compare.Engine {
		return compare.NewEngine(repo, crmClient, recorder)
	}),
	fx.Provide(pipeline.NewRequestPipeline),
	fx.Provide(pipeline.NewResponsePipeline),
	fx.Provide(executor.NewExecutor),
	fx.Provide(NewMessageProcessor),

	fx.Provide(NewEventSource),
	fx.Provide(NewArchiveStorage),
	fx.Provide(NewArchiver),

	listenerlogging.Module,
	listenermetrics.Module,
	listenertracing.Module,

	migration.Module,

	// Providers are lazy; force connection setup so pools open and the close
	// hook registers before the subscriber starts.
	fx.Invoke(func(connections map[string]database.DBConnection) {
		logger.Infof("Initialized %d database connections.", len(connections))
	}),
)
