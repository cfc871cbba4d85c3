package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/chainledger/chainledger/internal/infrastructure/cache"
	"github.com/chainledger/chainledger/internal/infrastructure/database"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db        *sqlx.DB
	cache     cache.RedisClient
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *sqlx.DB, cacheClient cache.RedisClient) *HealthHandler {
	return &HealthHandler{
		db:        db,
		cache:     cacheClient,
		startTime: time.Now(),
	}
}

// Liveness returns 200 while the process is running
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// Readiness checks the database and cache dependencies
func (h *HealthHandler) Readiness(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := database.HealthCheck(h.db); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.cache.Ping(c.Request.Context()); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"checks": checks})
}
