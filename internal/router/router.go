package router

import (
	"github.com/gin-gonic/gin"

	"piaoju/internal/handler"
	"piaoju/internal/middleware"
)

// Setup configures the Gin engine with all routes and middleware.
func Setup(
	extractH *handler.ExtractHandler,
	batchH *handler.BatchHandler,
	healthH *handler.HealthHandler,
	allowedOrigins []string,
) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(allowedOrigins))

	// Health checks
	r.GET("/healthz", healthH.Liveness)
	r.GET("/readyz", healthH.Readiness)

	v1 := r.Group("/api/v1")

	v1.POST("/extract", extractH.Extract)

	batches := v1.Group("/batches")
	batches.POST("", batchH.Submit)
	batches.GET("/:id", batchH.Get)
	batches.GET("/:id/export", batchH.Export)
	batches.GET("/:id/archive", batchH.Archive)
	batches.DELETE("/:id/archive", batchH.DeleteArchive)

	return r
}
