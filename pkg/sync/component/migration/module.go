package migration

import (
	"io/fs"

	"go.uber.org/fx"

	database "github.com/tigerroll/famsync/pkg/sync/adaptor/database"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	"github.com/tigerroll/famsync/pkg/sync/component/migration/filesystem"
)

// Module is an Fx module that provides the migration runner over the
// embedded migration files.
var Module = fx.Options(
	filesystem.Module,
	fx.Provide(fx.Annotate(
		func(resolver database.DBConnectionResolver, cfg *config.Config, migrationFS fs.FS) *Runner {
			return NewRunner(resolver, cfg, migrationFS)
		},
		fx.ParamTags(``, ``, filesystem.MigrationsFSTag),
	)),
)
