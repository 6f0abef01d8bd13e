package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/chain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
)

const (
	DefaultGas       uint64 = 300_000_000_000_000
	journalBatchSize        = 50

	// Default reward farm window relative to the current block.
	farmStartDelay = 3 * time.Second
	farmDuration   = 100 * time.Second
)

// Service is the typed client of the staking farm and its validator. Every
// mutating call is checked: a failure of the call or of any receipt it spawned
// is returned as a *domain.LedgerCallError.
type Service struct {
	ledger    domain.Ledger
	advancer  *chain.Advancer
	journal   domain.JournalRepository
	contracts *config.Contracts
	unbonding uint64
	runID     string
	logger    *logger.Logger

	mu      sync.Mutex
	pending []domain.JournalEntry
}

// NewService wires a facade over ledger. journal may be nil.
func NewService(
	ledger domain.Ledger,
	journal domain.JournalRepository,
	contracts *config.Contracts,
	chainCfg *config.Chain,
	logger *logger.Logger,
) *Service {
	runID := uuid.New().String()
	log := logger.WithFields(map[string]interface{}{"run_id": runID})
	return &Service{
		ledger:    ledger,
		advancer:  chain.NewAdvancer(ledger, chainCfg.AdvanceBurst, chainCfg.MaxBursts, log),
		journal:   journal,
		contracts: contracts,
		unbonding: chainCfg.UnbondingEpochs,
		runID:     runID,
		logger:    log,
	}
}

func (s *Service) RunID() string {
	return s.runID
}

func (s *Service) Contracts() config.Contracts {
	return *s.contracts
}

// UnbondingEpochs is the configured delay between an unstake and the first
// epoch its balance can be withdrawn.
func (s *Service) UnbondingEpochs() uint64 {
	return s.unbonding
}

func (s *Service) call(ctx context.Context, signer, receiver, method string, args interface{}, deposit domain.Amount) (*domain.ExecutionResult, error) {
	req := domain.CallRequest{
		Signer:   signer,
		Receiver: receiver,
		Method:   method,
		Deposit:  deposit,
		Gas:      DefaultGas,
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s args: %w", method, err)
		}
		req.Args = raw
	}

	start := time.Now()
	result, err := s.ledger.Call(ctx, req)
	if err != nil {
		s.logger.Errorw("Ledger call failed", "signer", signer, "method", method, "error", err)
		s.record(ctx, req, nil, err)
		return nil, domain.NewLedgerCallError(method, err)
	}

	callErr := result.Err(method)
	s.record(ctx, req, result, callErr)
	if callErr != nil {
		s.logger.Warnw("Ledger call rejected",
			"signer", signer,
			"method", method,
			"code", domain.ErrorCode(callErr),
			"error", callErr,
		)
		return result, callErr
	}

	s.logger.Debugw("Ledger call succeeded",
		"signer", signer,
		"method", method,
		"gas_burnt", result.GasBurnt,
		"duration", time.Since(start),
	)
	return result, nil
}

func (s *Service) view(ctx context.Context, receiver, method string, args interface{}, out interface{}) error {
	req := domain.ViewRequest{Receiver: receiver, Method: method}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("failed to encode %s args: %w", method, err)
		}
		req.Args = raw
	}

	raw, err := s.ledger.View(ctx, req)
	if err != nil {
		return fmt.Errorf("view %s on %s: %w", method, receiver, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

func (s *Service) farmCall(ctx context.Context, user, method string, args interface{}, deposit domain.Amount) error {
	_, err := s.call(ctx, user, s.contracts.FarmID, method, args, deposit)
	return err
}

func (s *Service) Deposit(ctx context.Context, user string, amount domain.Amount) error {
	return s.farmCall(ctx, user, domain.MethodDeposit, nil, amount)
}

func (s *Service) DepositAndStake(ctx context.Context, user string, amount domain.Amount) error {
	return s.farmCall(ctx, user, domain.MethodDepositAndStake, nil, amount)
}

func (s *Service) Stake(ctx context.Context, user string, amount domain.Amount) error {
	return s.farmCall(ctx, user, domain.MethodStake, domain.AmountArgs{Amount: amount}, domain.ZeroAmount())
}

func (s *Service) StakeAll(ctx context.Context, user string) error {
	return s.farmCall(ctx, user, domain.MethodStakeAll, nil, domain.ZeroAmount())
}

func (s *Service) Unstake(ctx context.Context, user string, amount domain.Amount) error {
	return s.farmCall(ctx, user, domain.MethodUnstake, domain.AmountArgs{Amount: amount}, domain.ZeroAmount())
}

func (s *Service) UnstakeAll(ctx context.Context, user string) error {
	return s.farmCall(ctx, user, domain.MethodUnstakeAll, nil, domain.ZeroAmount())
}

func (s *Service) Withdraw(ctx context.Context, user string, amount domain.Amount) error {
	return s.farmCall(ctx, user, domain.MethodWithdraw, domain.AmountArgs{Amount: amount}, domain.ZeroAmount())
}

func (s *Service) WithdrawAll(ctx context.Context, user string) error {
	return s.farmCall(ctx, user, domain.MethodWithdrawAll, nil, domain.ZeroAmount())
}

// Claim claims every farm paying tokenID. The payout goes to delegatorID when
// it is set.
func (s *Service) Claim(ctx context.Context, user, tokenID, delegatorID string) ([]domain.Payout, error) {
	return s.claim(ctx, user, domain.ClaimArgs{TokenID: tokenID, DelegatorID: delegatorID})
}

func (s *Service) ClaimFarm(ctx context.Context, user string, farmID uint64, tokenID, delegatorID string) (domain.Payout, error) {
	payouts, err := s.claim(ctx, user, domain.ClaimArgs{TokenID: tokenID, DelegatorID: delegatorID, FarmID: &farmID})
	if err != nil {
		return domain.Payout{}, err
	}
	if len(payouts) != 1 {
		return domain.Payout{}, fmt.Errorf("%w: claim returned %d payouts", domain.ErrLedgerCallFailed, len(payouts))
	}
	return payouts[0], nil
}

func (s *Service) claim(ctx context.Context, user string, args domain.ClaimArgs) ([]domain.Payout, error) {
	result, err := s.call(ctx, user, s.contracts.FarmID, domain.MethodClaim, args, domain.ZeroAmount())
	if err != nil {
		return nil, err
	}
	var payouts []domain.Payout
	if err := json.Unmarshal(result.Value, &payouts); err != nil {
		return nil, fmt.Errorf("failed to decode claim result: %w", err)
	}
	return payouts, nil
}

func (s *Service) StopFarm(ctx context.Context, caller string, farmID uint64) error {
	return s.farmCall(ctx, caller, domain.MethodStopFarm, domain.FarmArgs{FarmID: farmID}, domain.ZeroAmount())
}

// TransferFarmToken funds a reward farm: the owner transfers amount of tokenID
// to the staking farm with a message describing the farm window.
func (s *Service) TransferFarmToken(ctx context.Context, tokenID, name string, amount domain.Amount, start, end domain.Timestamp) (domain.FarmView, error) {
	msg, err := json.Marshal(map[string]string{
		"name":       name,
		"start_date": fmt.Sprintf("%d", start),
		"end_date":   fmt.Sprintf("%d", end),
	})
	if err != nil {
		return domain.FarmView{}, fmt.Errorf("failed to encode farm message: %w", err)
	}

	args := domain.TokenTransferArgs{SenderID: s.contracts.Owner, Amount: amount, Msg: string(msg)}
	result, err := s.call(ctx, tokenID, s.contracts.FarmID, domain.MethodFtOnTransfer, args, domain.ZeroAmount())
	if err != nil {
		return domain.FarmView{}, err
	}

	var view domain.FarmView
	if err := json.Unmarshal(result.Value, &view); err != nil {
		return domain.FarmView{}, fmt.Errorf("failed to decode farm: %w", err)
	}
	s.logger.Infow("Reward farm funded", "farm_id", view.FarmID, "token_id", tokenID, "amount", amount)
	return view, nil
}

// CreateDefaultFarm funds a farm that starts a few seconds after the current
// block and runs for a fixed duration.
func (s *Service) CreateDefaultFarm(ctx context.Context, tokenID, name string, amount domain.Amount) (domain.FarmView, error) {
	block, err := s.ledger.Block(ctx)
	if err != nil {
		return domain.FarmView{}, fmt.Errorf("failed to read block: %w", err)
	}
	start := block.Timestamp + domain.Timestamp(farmStartDelay.Nanoseconds())
	end := start + domain.Timestamp(farmDuration.Nanoseconds())
	return s.TransferFarmToken(ctx, tokenID, name, amount, start, end)
}

func (s *Service) GetAccount(ctx context.Context, user string) (domain.AccountView, error) {
	var view domain.AccountView
	err := s.view(ctx, s.contracts.FarmID, domain.ViewGetAccount, domain.AccountArgs{AccountID: user}, &view)
	return view, err
}

func (s *Service) GetAccountStakedBalance(ctx context.Context, user string) (domain.Amount, error) {
	var amount domain.Amount
	err := s.view(ctx, s.contracts.FarmID, domain.ViewGetAccountStakedBalance, domain.AccountArgs{AccountID: user}, &amount)
	return amount, err
}

func (s *Service) GetAccountUnstakedBalance(ctx context.Context, user string) (domain.Amount, error) {
	var amount domain.Amount
	err := s.view(ctx, s.contracts.FarmID, domain.ViewGetAccountUnstakedBalance, domain.AccountArgs{AccountID: user}, &amount)
	return amount, err
}

func (s *Service) GetAccountTotalBalance(ctx context.Context, user string) (domain.Amount, error) {
	var amount domain.Amount
	err := s.view(ctx, s.contracts.FarmID, domain.ViewGetAccountTotalBalance, domain.AccountArgs{AccountID: user}, &amount)
	return amount, err
}

func (s *Service) IsAccountUnstakedBalanceAvailable(ctx context.Context, user string) (bool, error) {
	var available bool
	err := s.view(ctx, s.contracts.FarmID, domain.ViewIsAccountUnstakedBalanceAvailable, domain.AccountArgs{AccountID: user}, &available)
	return available, err
}

func (s *Service) GetPoolSummary(ctx context.Context) (domain.PoolSummary, error) {
	var summary domain.PoolSummary
	err := s.view(ctx, s.contracts.FarmID, domain.ViewGetPoolSummary, nil, &summary)
	return summary, err
}

func (s *Service) IsContractCanWithdraw(ctx context.Context) (bool, error) {
	var ok bool
	err := s.view(ctx, s.contracts.FarmID, domain.ViewIsContractCanWithdraw, nil, &ok)
	return ok, err
}

func (s *Service) GetActiveFarms(ctx context.Context) ([]domain.FarmView, error) {
	var farms []domain.FarmView
	err := s.view(ctx, s.contracts.FarmID, domain.ViewGetActiveFarms, nil, &farms)
	return farms, err
}

func (s *Service) GetFarms(ctx context.Context) ([]domain.FarmView, error) {
	var farms []domain.FarmView
	err := s.view(ctx, s.contracts.FarmID, domain.ViewGetFarms, nil, &farms)
	return farms, err
}

func (s *Service) GetUnclaimedReward(ctx context.Context, user string, farmID uint64) (domain.Amount, error) {
	var amount domain.Amount
	err := s.view(ctx, s.contracts.FarmID, domain.ViewGetUnclaimedReward, domain.UnclaimedRewardArgs{AccountID: user, FarmID: farmID}, &amount)
	return amount, err
}

// GetDelegation returns the farm's own record on the validator.
func (s *Service) GetDelegation(ctx context.Context) (domain.AccountView, error) {
	var view domain.AccountView
	err := s.view(ctx, s.contracts.ValidatorID, domain.ViewGetAccount, domain.AccountArgs{AccountID: s.contracts.FarmID}, &view)
	return view, err
}

func (s *Service) Block(ctx context.Context) (domain.BlockInfo, error) {
	return s.ledger.Block(ctx)
}

func (s *Service) CurrentEpoch(ctx context.Context) (uint64, error) {
	return s.ledger.CurrentEpoch(ctx)
}

// WaitEpoch fast-forwards the ledger to the next epoch.
func (s *Service) WaitEpoch(ctx context.Context) (uint64, error) {
	return s.advancer.AdvanceEpoch(ctx)
}

func (s *Service) WaitEpochs(ctx context.Context, n int) (uint64, error) {
	return s.advancer.AdvanceEpochs(ctx, n)
}

func (s *Service) AdvanceBlocks(ctx context.Context, n uint64) error {
	return s.ledger.AdvanceBlocks(ctx, n)
}

func (s *Service) record(ctx context.Context, req domain.CallRequest, result *domain.ExecutionResult, callErr error) {
	if s.journal == nil {
		return
	}

	entry := domain.JournalEntry{
		ID:        uuid.New().String(),
		RunID:     s.runID,
		Signer:    req.Signer,
		Receiver:  req.Receiver,
		Method:    req.Method,
		Args:      string(req.Args),
		Deposit:   req.Deposit.String(),
		Status:    domain.StatusSuccess,
		CreatedAt: time.Now(),
	}
	if result != nil {
		entry.GasBurnt = result.GasBurnt
	}
	if callErr != nil {
		entry.Status = domain.StatusFailure
		entry.ErrorCode = domain.ErrorCode(callErr)
		entry.Error = callErr.Error()
	}
	if epoch, err := s.ledger.CurrentEpoch(ctx); err == nil {
		entry.Epoch = epoch
	}

	s.mu.Lock()
	s.pending = append(s.pending, entry)
	full := len(s.pending) >= journalBatchSize
	s.mu.Unlock()

	if full {
		if err := s.Flush(ctx); err != nil {
			s.logger.Errorw("Failed to flush journal", "error", err)
		}
	}
}

// Flush writes buffered journal entries.
func (s *Service) Flush(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}

	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := s.journal.SaveBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to save journal batch: %w", err)
	}
	return nil
}

// JournalSummary reports how many calls of this run succeeded and failed.
func (s *Service) JournalSummary(ctx context.Context) (map[string]int64, error) {
	if s.journal == nil {
		return map[string]int64{}, nil
	}
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	return s.journal.CountByStatus(ctx, s.runID)
}

const accountsPageSize = 100

// GetAccounts lists every farm account, paging through get_accounts.
func (s *Service) GetAccounts(ctx context.Context) ([]domain.AccountView, error) {
	var all []domain.AccountView
	for from := uint64(0); ; from += accountsPageSize {
		var page []domain.AccountView
		args := domain.AccountsArgs{FromIndex: from, Limit: accountsPageSize}
		if err := s.view(ctx, s.contracts.FarmID, domain.ViewGetAccounts, args, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < accountsPageSize {
			return all, nil
		}
	}
}

func (s *Service) GetNumberOfAccounts(ctx context.Context) (int, error) {
	var n int
	err := s.view(ctx, s.contracts.FarmID, domain.ViewGetNumberOfAccounts, nil, &n)
	return n, err
}
