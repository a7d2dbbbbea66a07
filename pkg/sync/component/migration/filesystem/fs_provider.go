// Package filesystem embeds the audit schema migration files.
package filesystem

import (
	"embed"
	"io/fs"

	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

//go:embed resource
var rawMigrationFS embed.FS

// ProvideMigrationsFS exposes the embedded migration files, one directory per
// database dialect.
func ProvideMigrationsFS() fs.FS {
	subFS, err := fs.Sub(rawMigrationFS, "resource")
	if err != nil {
		// This should not happen if 'resource' exists.
		logger.Fatalf("Failed to create subdirectory for migration FS: %v", err)
	}
	return subFS
}
