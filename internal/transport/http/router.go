package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/cronkeep/internal/transport/http/handler"
	"github.com/ErlanBelekov/cronkeep/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, taskHandler *handler.TaskHandler, authHandler *handler.AuthHandler, healthHandler *handler.HealthHandler, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.GET("/healthz", healthHandler.Liveness)
	r.GET("/health", healthHandler.Readiness)

	// Public auth routes
	r.POST("/auth/magic-link", authHandler.RequestMagicLink)
	r.GET("/auth/verify", authHandler.Verify)

	authMW := middleware.Auth(jwtKey)

	// Reads are open; mutations require a Bearer token.
	r.GET("/tasks", taskHandler.List)
	r.GET("/tasks/:slug/results", taskHandler.ListExecutions)

	tasks := r.Group("/tasks", authMW)
	tasks.POST("", taskHandler.Create)
	tasks.DELETE("/:slug", taskHandler.Delete)

	return r
}
