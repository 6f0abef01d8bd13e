package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
)

func NewConnection(cfg *config.Database, logger *logger.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MaxConnIdleTime = cfg.MaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Successfully connected to PostgreSQL journal database")

	return pool, nil
}

// schema mirrors migrations/000001_create_ledger_calls.up.sql so the server
// can bootstrap an empty database without the migrate tool.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_calls (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL,
		signer TEXT NOT NULL,
		receiver TEXT NOT NULL,
		method TEXT NOT NULL,
		args TEXT NOT NULL DEFAULT '',
		deposit NUMERIC(39, 0) NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error_code TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		gas_burnt BIGINT NOT NULL DEFAULT 0,
		epoch BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_calls_run_id ON ledger_calls(run_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_calls_signer ON ledger_calls(signer)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_calls_status ON ledger_calls(status)`,
}

func RunMigrations(pool *pgxpool.Pool, logger *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i, migration := range schema {
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}

	logger.Info("Successfully ran journal migrations")
	return nil
}
