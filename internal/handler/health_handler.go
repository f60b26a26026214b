package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"piaoju/internal/template"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo *template.Repository
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(repo *template.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// Liveness handles GET /healthz
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness handles GET /readyz
func (h *HealthHandler) Readiness(c *gin.Context) {
	if h.repo == nil || h.repo.Len() == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "no templates loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "templates": h.repo.Len()})
}
