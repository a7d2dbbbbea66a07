// Package database provides abstractions for database connections, providers,
// and transactions. It gives the repository layer unified access to different
// database systems (PostgreSQL, MySQL, SQLite) through a consistent interface.
package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/famsync/pkg/sync/adaptor/database/config"
)

// DBExecutor defines common write operations for a database. It is embedded
// in both DBConnection and Tx so data operations can be executed the same way
// whether or not a transaction is active.
type DBExecutor interface {
	// ExecuteUpdate performs write operations (CREATE, UPDATE, DELETE).
	// model: the target entity struct or slice.
	// operation: the operation type ("CREATE", "UPDATE", "DELETE").
	// tableName: the table to operate on.
	// query: WHERE conditions as a key-value map, combined with AND.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert performs an UPSERT (ON CONFLICT DO UPDATE) operation.
	// conflictColumns detect the conflict; updateColumns are updated on
	// conflict (DO NOTHING if nil or empty).
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// IsTableNotExistError checks if the given error indicates a missing
	// table. The repository tolerates this before migrations have run.
	IsTableNotExistError(err error) bool
}

// DBConnection is an abstraction of a database connection providing
// operations, connection management, and access to configuration.
type DBConnection interface {
	DBExecutor

	// Type returns the type of the database (e.g., "postgres", "sqlite").
	Type() string
	// Name returns the connection name (e.g., "audit").
	Name() string
	// Close closes the database connection.
	Close() error
	// RefreshConnection re-validates the database connection, re-establishing
	// it when necessary (e.g., after migrations).
	RefreshConnection(ctx context.Context) error
	// Config returns the database configuration associated with this
	// connection.
	Config() dbconfig.DatabaseConfig

	// GetSQLDB returns the underlying *sql.DB. Needed by migration tooling.
	GetSQLDB() (*sql.DB, error)

	// ExecuteQuery executes a read operation (SELECT).
	// target: pointer to the struct or slice receiving the results.
	// query: WHERE conditions as a key-value map, combined with AND.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryAdvanced executes a read operation with optional sorting and
	// limiting. orderBy is a SQL order clause (e.g. "create_time DESC"); a
	// limit of 0 fetches all matching records.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error

	// Count counts the records matching the query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)

	// Pluck retrieves the distinct values of a single column into target.
	Pluck(ctx context.Context, model interface{}, column string, target interface{}, query map[string]interface{}) error
}

// DBConnectionResolver resolves a database connection instance by name,
// re-establishing it when necessary.
type DBConnectionResolver interface {
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider provides database connections based on configuration. Concrete
// implementations exist per database type.
type DBProvider interface {
	// GetConnection retrieves (or establishes) the connection with the given
	// name.
	GetConnection(name string) (DBConnection, error)
	// ForceReconnect closes and re-establishes the named connection.
	ForceReconnect(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider.
	Type() string
}

// DBProviderGroup is the Fx group tag that collects all DBProvider
// implementations.
const DBProviderGroup = "db_providers"

// Tx represents an ongoing database transaction.
type Tx interface {
	DBExecutor

	// Savepoint creates a named savepoint within the current transaction.
	Savepoint(name string) error
	// RollbackToSavepoint rolls the transaction back to the named savepoint.
	RollbackToSavepoint(name string) error
}

// TransactionManager manages the lifecycle of database transactions.
type TransactionManager interface {
	// Begin starts a new database transaction.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit commits the transaction.
	Commit(tx Tx) error
	// Rollback rolls the transaction back.
	Rollback(tx Tx) error
}

// TransactionManagerFactory creates TransactionManager instances from a
// DBConnection, independent of the concrete connection type.
type TransactionManagerFactory interface {
	NewTransactionManager(conn DBConnection) TransactionManager
}
