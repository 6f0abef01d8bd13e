package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/infrastructure/postgres"
	httpHandler "github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/interfaces/http"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/ledger"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Environment)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting staking farm sandbox ledger...")

	sandbox, err := ledger.NewSandbox(cfg.Chain, cfg.Contracts, time.Now().UTC(), log)
	if err != nil {
		log.Fatalw("Failed to create sandbox ledger", "error", err)
	}
	metrics.UpdateCurrentEpoch(sandbox.Clock().Epoch())

	var journal domain.JournalRepository
	if cfg.Database.Enabled {
		db, err := postgres.NewConnection(&cfg.Database, log)
		if err != nil {
			log.Fatalw("Failed to connect to database", "error", err)
		}
		defer db.Close()

		if err := postgres.RunMigrations(db, log); err != nil {
			log.Fatalw("Failed to run migrations", "error", err)
		}
		journal = postgres.NewRepository(db, log)
	} else {
		log.Info("Call journal disabled")
	}

	router := httpHandler.NewRouter(sandbox, journal, cfg.Contracts, cfg.Server.RequestTimeout, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.Metrics.Enabled {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			metricsServer := &http.Server{
				Addr:              ":" + cfg.Metrics.Port,
				Handler:           metricsMux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			log.Infow("Starting metrics server", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("Metrics server error", "error", err)
			}
		}()
	}

	go func() {
		log.Infow("Starting HTTP server",
			"port", cfg.Server.Port,
			"validator", cfg.Contracts.ValidatorID,
			"staking_farm", cfg.Contracts.FarmID,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("Server forced to shutdown", "error", err)
	}

	log.Infow("Server shutdown complete", "height", sandbox.Clock().Height(), "epoch", sandbox.Clock().Epoch())
}
