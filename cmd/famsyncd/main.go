package main

import (
	"context"
	_ "embed"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/fx"

	"github.com/tigerroll/famsync/internal/app"
	database "github.com/tigerroll/famsync/pkg/sync/adaptor/database"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

//go:embed resources/application.yaml
var embeddedApplicationYaml []byte

// defaultDBAdaptors is used when the DB_ADAPTORS environment variable is not
// set.
const defaultDBAdaptors = "postgres"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	dbProviderOptions := buildDBProviderOptions(os.Getenv("DB_ADAPTORS"))

	if err := app.RunApplication(ctx, envFilePath, embeddedApplicationYaml, dbProviderOptions...); err != nil {
		logger.Fatalf("famsync terminated with error: %v", err)
	}
	logger.Infof("famsync terminated.")
}

// buildDBProviderOptions turns the comma-separated DB_ADAPTORS list into the
// fx options that register the matching providers in the db_providers group.
func buildDBProviderOptions(adaptors string) []fx.Option {
	if adaptors == "" {
		adaptors = defaultDBAdaptors
	}

	var options []fx.Option
	seen := make(map[string]bool)
	for _, raw := range strings.Split(adaptors, ",") {
		name := strings.TrimSpace(strings.ToLower(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		ctor, ok := app.DBProviderMap[name]
		if !ok {
			logger.Warnf("Unknown database adaptor '%s' in DB_ADAPTORS. Skipping.", name)
			continue
		}
		options = append(options, fx.Provide(
			fx.Annotate(
				ctor,
				fx.As(new(database.DBProvider)),
				fx.ResultTags(`group:"db_providers"`),
			),
		))
	}
	return options
}
