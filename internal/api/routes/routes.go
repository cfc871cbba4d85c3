// Package routes wires the HTTP surface of the service.
package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainledger/chainledger/internal/api/handlers"
	"github.com/chainledger/chainledger/internal/infrastructure/config"
	"github.com/chainledger/chainledger/pkg/logger"
)

// Setup builds the gin engine with all routes registered
func Setup(
	cfg *config.Config,
	health *handlers.HealthHandler,
	explorerHandler *handlers.ExplorerHandler,
	liquidationHandler *handlers.LiquidationHandler,
	log *logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	router.GET("/health/liveness", health.Liveness)
	router.GET("/health/readiness", health.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		chains := v1.Group("/chains/:chain")
		{
			chains.GET("/head", explorerHandler.GetBlockHead)
			chains.GET("/blocks/latest", explorerHandler.ScanLatestBlock)
			chains.GET("/addresses/:address/balance", explorerHandler.GetBalance)
			chains.GET("/addresses/:address/tokens/:contract/balance", explorerHandler.GetTokenBalance)
			chains.GET("/addresses/:address/txs", explorerHandler.GetAddressTxs)
			chains.GET("/txs/:hash", explorerHandler.GetTxDetails)
		}

		liquidations := v1.Group("/liquidation-requests")
		{
			liquidations.POST("", liquidationHandler.CreateRequest)
			liquidations.GET("/:id", liquidationHandler.GetRequest)
		}
	}

	return router
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
