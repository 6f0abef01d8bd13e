package domain

import (
	"context"
	"time"
)

// JournalEntry records one executed ledger call.
type JournalEntry struct {
	ID        string    `json:"id" db:"id"`
	RunID     string    `json:"run_id" db:"run_id"`
	Signer    string    `json:"signer_id" db:"signer"`
	Receiver  string    `json:"receiver_id" db:"receiver"`
	Method    string    `json:"method" db:"method"`
	Args      string    `json:"args" db:"args"`
	Deposit   string    `json:"deposit" db:"deposit"`
	Status    string    `json:"status" db:"status"`
	ErrorCode string    `json:"error_code,omitempty" db:"error_code"`
	Error     string    `json:"error,omitempty" db:"error"`
	GasBurnt  uint64    `json:"gas_burnt" db:"gas_burnt"`
	Epoch     uint64    `json:"epoch" db:"epoch"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type JournalRepository interface {
	Save(ctx context.Context, entry *JournalEntry) error
	SaveBatch(ctx context.Context, entries []JournalEntry) error
	FindByRun(ctx context.Context, runID string) ([]JournalEntry, error)
	CountByStatus(ctx context.Context, runID string) (map[string]int64, error)
}
