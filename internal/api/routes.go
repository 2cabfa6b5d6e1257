package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(RequestID())
	router.Use(Recovery(logger))
	router.Use(CORS())
	router.Use(Logger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		v1.POST("/orgs/:org/discover", handler.Discover)

		repos := v1.Group("/repos")
		{
			repos.GET("", handler.GetRepositories)
			repos.DELETE("", handler.ClearRepositories)
			repos.GET("/:name", handler.GetRepository)
			repos.PUT("/:name/exemption", handler.SetExemption)
			repos.DELETE("/:name/exemption", handler.ClearExemption)
		}

		v1.GET("/eligible", handler.GetEligible)
		v1.POST("/archive", handler.Archive)

		batches := v1.Group("/batches")
		{
			batches.GET("", handler.GetBatches)
			batches.GET("/:id", handler.GetBatch)
			batches.POST("/:id/undo", handler.UndoBatch)
		}

		v1.GET("/summary", handler.GetSummary)
		v1.GET("/store/changes", handler.GetStoreChanges)
	}

	return router
}
