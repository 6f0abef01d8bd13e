package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/metrics"
)

const insertCall = `
	INSERT INTO ledger_calls (id, run_id, signer, receiver, method, args, deposit, status, error_code, error, gas_burnt, epoch, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO NOTHING
`

// Repository is the postgres journal of executed ledger calls.
type Repository struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

func NewRepository(db *pgxpool.Pool, logger *logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func prepare(entry *domain.JournalEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Deposit == "" {
		entry.Deposit = "0"
	}
}

func insertArgs(entry *domain.JournalEntry) []interface{} {
	return []interface{}{
		entry.ID,
		entry.RunID,
		entry.Signer,
		entry.Receiver,
		entry.Method,
		entry.Args,
		entry.Deposit,
		entry.Status,
		entry.ErrorCode,
		entry.Error,
		int64(entry.GasBurnt),
		int64(entry.Epoch),
		entry.CreatedAt,
	}
}

func (r *Repository) Save(ctx context.Context, entry *domain.JournalEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	prepare(entry)

	if _, err := r.db.Exec(ctx, insertCall, insertArgs(entry)...); err != nil {
		r.logger.Errorw("Failed to save journal entry", "error", err, "method", entry.Method, "run_id", entry.RunID)
		return fmt.Errorf("failed to save journal entry: %w", err)
	}

	metrics.JournalEntriesStored.Inc()
	return nil
}

func (r *Repository) SaveBatch(ctx context.Context, entries []domain.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Use a fresh context for rollback to ensure it always works
		_ = tx.Rollback(context.Background())
	}()

	batch := &pgx.Batch{}
	for i := range entries {
		prepare(&entries[i])
		batch.Queue(insertCall, insertArgs(&entries[i])...)
	}

	br := tx.SendBatch(ctx, batch)

	saved := 0
	duplicates := 0
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				duplicates++
				r.logger.Debugw("Duplicate journal entry skipped", "index", i, "code", pgErr.Code, "message", pgErr.Message)
				continue
			}
			br.Close()
			return fmt.Errorf("failed to execute batch item %d: %w", i, err)
		}
		if tag.RowsAffected() == 0 {
			duplicates++
			continue
		}
		saved++
	}

	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.JournalEntriesStored.Add(float64(saved))
	r.logger.Infow("Saved batch of journal entries", "attempted", len(entries), "saved", saved, "duplicates", duplicates)
	return nil
}

func (r *Repository) FindByRun(ctx context.Context, runID string) ([]domain.JournalEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `
		SELECT id, run_id, signer, receiver, method, args, deposit::TEXT, status, error_code, error, gas_burnt, epoch, created_at
		FROM ledger_calls
		WHERE run_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e        domain.JournalEntry
			gasBurnt int64
			epoch    int64
		)
		err := rows.Scan(
			&e.ID,
			&e.RunID,
			&e.Signer,
			&e.Receiver,
			&e.Method,
			&e.Args,
			&e.Deposit,
			&e.Status,
			&e.ErrorCode,
			&e.Error,
			&gasBurnt,
			&epoch,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.GasBurnt = uint64(gasBurnt)
		e.Epoch = uint64(epoch)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

func (r *Repository) CountByStatus(ctx context.Context, runID string) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*)
		FROM ledger_calls
		WHERE run_id = $1
		GROUP BY status
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count journal entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counts, nil
}

var _ domain.JournalRepository = (*Repository)(nil)
