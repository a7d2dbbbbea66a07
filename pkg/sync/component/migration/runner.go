package migration

import (
	"context"
	"fmt"
	"io/fs"

	database "github.com/tigerroll/famsync/pkg/sync/adaptor/database"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// Runner applies the embedded audit schema migrations against the configured
// sync repository database at startup. Migrations are laid out per dialect:
// the path passed to the migrator is the connection's Type().
type Runner struct {
	resolver    database.DBConnectionResolver
	cfg         *config.Config
	migrationFS fs.FS
}

// NewRunner creates a migration runner over the embedded migration files.
func NewRunner(resolver database.DBConnectionResolver, cfg *config.Config, migrationFS fs.FS) *Runner {
	return &Runner{resolver: resolver, cfg: cfg, migrationFS: migrationFS}
}

// Run applies all pending migrations and refreshes the connection so pooled
// sessions see the new schema.
func (r *Runner) Run(ctx context.Context) error {
	const op = "migration.Runner.Run"

	dbName := r.cfg.Famsync.Infrastructure.SyncRepositoryDBRef
	conn, err := r.resolver.ResolveDBConnection(ctx, dbName)
	if err != nil {
		return fmt.Errorf("%s: failed to resolve DB connection '%s': %w", op, dbName, err)
	}

	migrator := NewMigrator(conn)
	if err := migrator.Up(ctx, r.migrationFS, conn.Type()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := conn.RefreshConnection(ctx); err != nil {
		return fmt.Errorf("%s: failed to refresh connection after migration: %w", op, err)
	}
	logger.Infof("Audit schema is up to date on connection '%s'.", dbName)
	return nil
}
