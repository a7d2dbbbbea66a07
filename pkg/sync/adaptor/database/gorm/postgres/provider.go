// Package postgres provides a GORM DBProvider implementation for PostgreSQL.
package postgres

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/famsync/pkg/sync/adaptor/database"
	dbconfig "github.com/tigerroll/famsync/pkg/sync/adaptor/database/config"
	gormadaptor "github.com/tigerroll/famsync/pkg/sync/adaptor/database/gorm"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
)

// init registers the PostgreSQL dialector factory with the gorm adaptor.
func init() {
	gormadaptor.RegisterDialector("postgres", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		p := &gormadaptor.PostgresDBProvider{}
		return postgres.Open(p.ConnectionString(cfg)), nil
	})
}

// NewProvider creates a new PostgreSQL DBProvider.
// Intended for use with fx.Provide.
func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadaptor.NewPostgresProvider(cfg)
}
