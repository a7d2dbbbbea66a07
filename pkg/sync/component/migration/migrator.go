// Package migration applies the audit schema with golang-migrate before the
// subscriber starts consuming messages.
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	database "github.com/tigerroll/famsync/pkg/sync/adaptor/database"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// MigrationsTable tracks applied audit schema migrations.
const MigrationsTable = "famsync_migrations"

// Migrator handles database schema migrations.
type Migrator interface {
	// Up applies all pending migrations found under path in migrationFS.
	Up(ctx context.Context, migrationFS fs.FS, path string) error
	// Down rolls back all applied migrations.
	Down(ctx context.Context, migrationFS fs.FS, path string) error
}

type migratorImpl struct {
	dbConn database.DBConnection
	dbType string
}

// NewMigrator creates a Migrator bound to the given connection.
func NewMigrator(dbConn database.DBConnection) Migrator {
	return &migratorImpl{
		dbConn: dbConn,
		dbType: dbConn.Type(),
	}
}

func (m *migratorImpl) getDatabaseDriver(sqlDB *sql.DB) (migratedb.Driver, error) {
	switch m.dbType {
	case "postgres", "redshift":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: MigrationsTable})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: MigrationsTable})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *migratorImpl) getMigrateInstance(migrationFS fs.FS, path string) (*migrate.Migrate, error) {
	sqlDB, err := m.dbConn.GetSQLDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}

	dbDriver, err := m.getDatabaseDriver(sqlDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mInstance, nil
}

func (m *migratorImpl) runMigration(ctx context.Context, migrationFS fs.FS, path string, command string) error {
	logger.Infof("Executing migration '%s' (DB: %s, Path: %s)", command, m.dbType, path)

	mInstance, err := m.getMigrateInstance(migrationFS, path)
	if err != nil {
		return fmt.Errorf("failed to get migrate instance: %w", err)
	}
	defer mInstance.Close()

	var migrateErr error
	switch command {
	case "up":
		migrateErr = mInstance.Up()
	case "down":
		migrateErr = mInstance.Down()
	default:
		return fmt.Errorf("unsupported migration command: %s", command)
	}

	if migrateErr != nil && migrateErr != migrate.ErrNoChange {
		return fmt.Errorf("migration failed for command '%s' (DB: %s, Path: %s): %w", command, m.dbType, path, migrateErr)
	}
	if migrateErr == migrate.ErrNoChange {
		logger.Infof("Migration '%s': schema already up to date.", command)
		return nil
	}

	logger.Infof("Migration '%s' completed successfully.", command)
	return nil
}

func (m *migratorImpl) Up(ctx context.Context, migrationFS fs.FS, path string) error {
	return m.runMigration(ctx, migrationFS, path, "up")
}

func (m *migratorImpl) Down(ctx context.Context, migrationFS fs.FS, path string) error {
	return m.runMigration(ctx, migrationFS, path, "down")
}
