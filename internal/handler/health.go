package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	checks      map[string]Pinger
	initialized func() bool
	logger      *zap.Logger
}

func NewHealthHandler(checks map[string]Pinger, initialized func() bool, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks:      checks,
		initialized: initialized,
		logger:      logger,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	healthy := true
	dependencies := gin.H{}
	for name, ping := range h.checks {
		status := "ok"
		if err := ping(c.Request.Context()); err != nil {
			status = "error"
			healthy = false
			h.logger.Error("Health check: dependency ping failed", zap.String("dependency", name), zap.Error(err))
		}
		dependencies[name] = status
	}

	index := "ok"
	if !h.initialized() {
		index = "loading"
		healthy = false
	}
	dependencies["index"] = index

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "unhealthy",
			"dependencies": dependencies,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"dependencies": dependencies,
	})
}
