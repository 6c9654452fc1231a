package handler

import (
	"context"
	"net/http"

	"github.com/ErlanBelekov/cronkeep/internal/health"
	"github.com/gin-gonic/gin"
)

type healthChecker interface {
	Liveness(ctx context.Context) health.HealthResult
	Readiness(ctx context.Context) health.HealthResult
}

type HealthHandler struct {
	checker healthChecker
}

func NewHealthHandler(checker healthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// GET /healthz
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, h.checker.Liveness(c.Request.Context()))
}

// GET /health
func (h *HealthHandler) Readiness(c *gin.Context) {
	result := h.checker.Readiness(c.Request.Context())
	status := http.StatusOK
	if result.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}
