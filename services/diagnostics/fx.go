package diagnostics

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("diagnostics.service",
	fx.Provide(NewService),
)

var Routes = fx.Module("diagnostics.routes",
	fx.Invoke(registerRoutes),
)

func registerRoutes(router *gin.Engine, service *Service) {
	v1 := router.Group("/v1/diagnostics")
	v1.GET("/errors", service.GetRecentErrorsHandler)
	v1.GET("/errors/count", service.GetErrorCountHandler)
	v1.GET("/errors/:category", service.GetErrorDetailsHandler)
}
