package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/infrastructure/rpc"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
)

func NewRouter(
	ledger domain.Ledger,
	journal domain.JournalRepository,
	contracts config.Contracts,
	requestTimeout time.Duration,
	logger *logger.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(),
		TimeoutMiddleware(requestTimeout),
	)

	handler := NewHandler(ledger, journal, contracts, logger)

	router.GET("/health", handler.GetHealth)
	router.GET("/ready", handler.GetReadiness)

	router.POST(rpc.PathCall, handler.PostCall)
	router.POST(rpc.PathView, handler.PostView)
	router.GET(rpc.PathBlock, handler.GetBlock)
	router.POST(rpc.PathFastForward, handler.PostFastForward)

	api := router.Group("/v1")
	{
		api.GET("/accounts/:account_id", handler.GetAccount)
		api.GET("/pool", handler.GetPool)
		api.GET("/journal/:run_id", handler.GetJournal)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
