// Package sqlite provides a GORM DBProvider implementation for SQLite.
package sqlite

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/famsync/pkg/sync/adaptor/database"
	dbconfig "github.com/tigerroll/famsync/pkg/sync/adaptor/database/config"
	gormadaptor "github.com/tigerroll/famsync/pkg/sync/adaptor/database/gorm"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
)

// init registers the SQLite dialector factory with the gorm adaptor.
func init() {
	gormadaptor.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		p := &gormadaptor.SQLiteDBProvider{}
		return sqlite.Open(p.ConnectionString(cfg)), nil
	})
}

// NewProvider creates a new SQLite DBProvider.
// Intended for use with fx.Provide.
func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadaptor.NewSQLiteProvider(cfg)
}
