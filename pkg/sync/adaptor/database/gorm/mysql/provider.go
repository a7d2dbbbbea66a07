// Package mysql provides a GORM DBProvider implementation for MySQL.
package mysql

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/famsync/pkg/sync/adaptor/database"
	dbconfig "github.com/tigerroll/famsync/pkg/sync/adaptor/database/config"
	gormadaptor "github.com/tigerroll/famsync/pkg/sync/adaptor/database/gorm"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
)

// init registers the MySQL dialector factory with the gorm adaptor.
func init() {
	gormadaptor.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		p := &gormadaptor.MySQLDBProvider{}
		return mysql.Open(p.ConnectionString(cfg)), nil
	})
}

// NewProvider creates a new MySQL DBProvider.
// Intended for use with fx.Provide.
func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadaptor.NewMySQLProvider(cfg)
}
