package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/config"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Genesis is the timestamp of block 0 in tests.
var Genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// TestContracts returns the account layout used across tests.
func TestContracts() config.Contracts {
	return config.Contracts{
		Owner:                    "test.near",
		ValidatorID:              "validator.test.near",
		FarmID:                   "staking-farm.test.near",
		RewardFeeNumerator:       1,
		RewardFeeDenominator:     2,
		NextRewardFeeNumerator:   1,
		NextRewardFeeDenominator: 2,
	}
}

// TestChain returns a chain with short fixed-length epochs.
func TestChain() config.Chain {
	return config.Chain{
		BlockTime:       time.Second,
		EpochLength:     10,
		EpochJitter:     0,
		UnbondingEpochs: domain.DefaultUnbondingEpochs,
		AdvanceBurst:    5,
		MaxBursts:       100,
	}
}

// CreateTestJournalEntry creates a journal entry with default values
func CreateTestJournalEntry(t *testing.T, runID string) domain.JournalEntry {
	t.Helper()
	return domain.JournalEntry{
		ID:        uuid.New().String(),
		RunID:     runID,
		Signer:    "alice.test.near",
		Receiver:  "staking-farm.test.near",
		Method:    domain.MethodDepositAndStake,
		Args:      "",
		Deposit:   domain.Near(10).String(),
		Status:    domain.StatusSuccess,
		CreatedAt: time.Now(),
	}
}

// SuccessResult builds a successful call outcome with one receipt per
// receiver.
func SuccessResult(receivers ...string) *domain.ExecutionResult {
	result := &domain.ExecutionResult{Status: domain.StatusSuccess, GasBurnt: 10_000_000_000_000}
	for _, r := range receivers {
		result.Receipts = append(result.Receipts, domain.ReceiptOutcome{Receiver: r, Status: domain.StatusSuccess})
	}
	return result
}

// FailureResult builds a call outcome whose top-level status failed with err.
func FailureResult(err error) *domain.ExecutionResult {
	return &domain.ExecutionResult{Status: domain.StatusFailure, Failure: domain.NewExecutionError(err)}
}

// MustJSON encodes v or fails the test.
func MustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met within timeout of %v", timeout)
}

// TestContext creates a test context with timeout
func TestContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// MockLedger is a mock implementation of domain.Ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Call(ctx context.Context, req domain.CallRequest) (*domain.ExecutionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExecutionResult), args.Error(1)
}

func (m *MockLedger) View(ctx context.Context, req domain.ViewRequest) (json.RawMessage, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockLedger) Block(ctx context.Context) (domain.BlockInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.BlockInfo), args.Error(1)
}

func (m *MockLedger) CurrentEpoch(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockLedger) AdvanceBlocks(ctx context.Context, n uint64) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// MockJournalRepository is a mock implementation of domain.JournalRepository
type MockJournalRepository struct {
	mock.Mock
}

func (m *MockJournalRepository) Save(ctx context.Context, entry *domain.JournalEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockJournalRepository) SaveBatch(ctx context.Context, entries []domain.JournalEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockJournalRepository) FindByRun(ctx context.Context, runID string) ([]domain.JournalEntry, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.JournalEntry), args.Error(1)
}

func (m *MockJournalRepository) CountByStatus(ctx context.Context, runID string) (map[string]int64, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

// MemoryJournal is an in-memory domain.JournalRepository.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string]domain.JournalEntry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]domain.JournalEntry)}
}

func (j *MemoryJournal) Save(ctx context.Context, entry *domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if _, ok := j.entries[entry.ID]; !ok {
		j.entries[entry.ID] = *entry
	}
	return nil
}

func (j *MemoryJournal) SaveBatch(ctx context.Context, entries []domain.JournalEntry) error {
	for i := range entries {
		if err := j.Save(ctx, &entries[i]); err != nil {
			return err
		}
	}
	return nil
}

func (j *MemoryJournal) FindByRun(ctx context.Context, runID string) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range j.entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

func (j *MemoryJournal) CountByStatus(ctx context.Context, runID string) (map[string]int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range j.entries {
		if e.RunID == runID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

var (
	_ domain.Ledger            = (*MockLedger)(nil)
	_ domain.JournalRepository = (*MockJournalRepository)(nil)
	_ domain.JournalRepository = (*MemoryJournal)(nil)
)
