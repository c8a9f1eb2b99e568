package importer

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"stockplane/services/analytics"
)

// QueueModule wires the asynq-backed job queue; both binaries need it.
var QueueModule = fx.Module("importer.queue",
	fx.Provide(NewQueue),
)

var Module = fx.Module("importer.service",
	fx.Provide(NewService),
)

var Routes = fx.Module("importer.routes",
	fx.Invoke(registerRoutes),
)

// WorkerModule wires the task consumer plus the maintenance scheduler for
// the worker binary. The worker doubles as the analytics batch marker.
var WorkerModule = fx.Module("importer.worker",
	fx.Provide(
		NewWorker,
		func(w *Worker) analytics.BatchMarker { return w },
		NewScheduler,
	),
	fx.Invoke(StartScheduler),
)

func registerRoutes(router *gin.Engine, service *Service) {
	v1 := router.Group("/v1")
	v1.POST("/imports", service.SubmitImportHandler)
	v1.GET("/imports", service.ListImportsHandler)
	v1.GET("/imports/failures", service.ListFailuresHandler)
	v1.GET("/imports/:id", service.GetImportHandler)
	v1.DELETE("/imports/:id", service.CancelImportHandler)
	v1.GET("/queue/metrics", service.QueueMetricsHandler)
	v1.GET("/stats", service.StatsHandler)
}
