package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"stockplane/pkg/config"
	"stockplane/pkg/db"
	"stockplane/pkg/featureflags"
	"stockplane/pkg/gen"
	"stockplane/pkg/health"
	"stockplane/pkg/logger"
	"stockplane/pkg/minio"
	"stockplane/pkg/otelcol"
	"stockplane/pkg/profiling"
	"stockplane/pkg/redis"
	"stockplane/pkg/sequence"
	"stockplane/pkg/server"
	"stockplane/pkg/task"
	"stockplane/services/analytics"
	"stockplane/services/catalog"
	"stockplane/services/diagnostics"
	"stockplane/services/importer"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		minio.Client,
		gen.Module,
		sequence.Module,
		task.Client,
		featureflags.Module,
		fx.Provide(server.RegisterRouter),
		health.Module,
		catalog.Module,
		diagnostics.Module,
		diagnostics.Routes,
		analytics.Module,
		importer.QueueModule,
		importer.Module,
		importer.Routes,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
