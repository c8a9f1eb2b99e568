package main

import (
	"log"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"stockplane/pkg/config"
	"stockplane/pkg/db"
	"stockplane/pkg/gen"
	"stockplane/pkg/logger"
	"stockplane/pkg/minio"
	"stockplane/pkg/redis"
	"stockplane/pkg/sequence"
	"stockplane/pkg/task"
	"stockplane/pkg/taskname"
	"stockplane/services/analytics"
	"stockplane/services/catalog"
	"stockplane/services/diagnostics"
	"stockplane/services/importer"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		minio.Client,
		gen.Module,
		sequence.Module,
		task.Client,
		task.Server,
		catalog.Module,
		diagnostics.Module,
		analytics.Module,
		importer.QueueModule,
		importer.WorkerModule,
		fx.Invoke(registerHandlers),
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

func registerHandlers(mux *asynq.ServeMux, worker *importer.Worker, svc *analytics.Service) {
	mux.HandleFunc(taskname.ImportProcess, worker.HandleImportTask)
	mux.HandleFunc(taskname.AnalyticsRecalculate, svc.HandleRecalculateTask)
}
