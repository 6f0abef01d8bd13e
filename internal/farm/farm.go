package farm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/rewards"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
)

// Validator is the subset of the validator ledger the farm delegates to. The
// farm is its only writer.
type Validator interface {
	Deposit(delegator string, amount domain.Amount) error
	DepositAndStake(delegator string, amount domain.Amount) error
	Stake(delegator string, amount domain.Amount) error
	Unstake(delegator string, amount domain.Amount) error
	Withdraw(delegator string, amount domain.Amount) error
	Account(delegator string) domain.Account
	CanWithdraw(delegator string) bool
}

type Clock interface {
	Epoch() uint64
	Now() uint64
}

type Config struct {
	AccountID       string
	ValidatorID     string
	Owner           string
	RewardFee       domain.Ratio
	NextRewardFee   domain.Ratio
	UnbondingEpochs uint64
}

// ForwardError reports a validator call that failed after the farm staged its
// own update. The staged update is never committed.
type ForwardError struct {
	Method    string
	Validator string
	Err       error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward %s to %s: %v", e.Method, e.Validator, e.Err)
}

func (e *ForwardError) Unwrap() []error {
	return []error{domain.ErrLedgerCallFailed, e.Err}
}

// Farm is the staking farm ledger: per-user balances pooled into a single
// delegation on the validator, plus the reward farms attached to it.
type Farm struct {
	mu          sync.RWMutex
	cfg         Config
	accounts    map[string]*domain.Account
	totalStaked domain.Amount
	validator   Validator
	clock       Clock
	rewards     *rewards.Registry
	logger      *logger.Logger
}

func New(cfg Config, validator Validator, clock Clock, registry *rewards.Registry, log *logger.Logger) (*Farm, error) {
	if cfg.AccountID == "" || cfg.Owner == "" {
		return nil, fmt.Errorf("%w: farm account and owner are required", domain.ErrInvalidArgument)
	}
	if err := cfg.RewardFee.Validate(); err != nil {
		return nil, fmt.Errorf("reward fee: %w", err)
	}
	if err := cfg.NextRewardFee.Validate(); err != nil {
		return nil, fmt.Errorf("next reward fee: %w", err)
	}
	if cfg.UnbondingEpochs == 0 {
		cfg.UnbondingEpochs = domain.DefaultUnbondingEpochs
	}

	return &Farm{
		cfg:       cfg,
		accounts:  make(map[string]*domain.Account),
		validator: validator,
		clock:     clock,
		rewards:   registry,
		logger:    log,
	}, nil
}

func (f *Farm) AccountID() string {
	return f.cfg.AccountID
}

func (f *Farm) Owner() string {
	return f.cfg.Owner
}

// update stages a change to the user's record, forwards it to the validator
// and commits only if the forward succeeded. The record is created on the
// first successful update. Callers hold f.mu.
func (f *Farm) update(user, method string, stage func(next *domain.Account) error, forward func() error) error {
	current := f.record(user)
	next := current.Clone()
	if err := stage(&next); err != nil {
		return err
	}

	if !next.StakedBalance.Eq(current.StakedBalance) {
		f.rewards.Settle(user, current.StakedBalance, f.totalStaked, f.clock.Now())
	}

	if err := forward(); err != nil {
		f.logger.Errorw("Validator rejected forwarded call, rolling back",
			"account_id", user,
			"method", method,
			"validator", f.cfg.ValidatorID,
			"error", err,
		)
		return &ForwardError{Method: method, Validator: f.cfg.ValidatorID, Err: err}
	}

	f.totalStaked = f.totalStaked.MustSub(current.StakedBalance).MustAdd(next.StakedBalance)
	acc, ok := f.accounts[user]
	if !ok {
		acc = &domain.Account{}
		f.accounts[user] = acc
	}
	*acc = next
	return nil
}

func (f *Farm) Deposit(user string, amount domain.Amount) error {
	if amount.IsZero() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.update(user, "deposit",
		func(next *domain.Account) error {
			unstaked, err := next.UnstakedBalance.Add(amount)
			if err != nil {
				return fmt.Errorf("deposit %s: %w", amount, err)
			}
			next.UnstakedBalance = unstaked
			return nil
		},
		func() error { return f.validator.Deposit(f.cfg.AccountID, amount) },
	)
	if err != nil {
		return err
	}

	f.logger.Infow("Deposit", "account_id", user, "amount", amount)
	return nil
}

// DepositAndStake deposits amount and stakes it as one forwarded call, so a
// validator failure leaves both ledgers untouched.
func (f *Farm) DepositAndStake(user string, amount domain.Amount) error {
	if amount.IsZero() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.update(user, "deposit_and_stake",
		func(next *domain.Account) error {
			if _, err := next.Total().Add(amount); err != nil {
				return fmt.Errorf("deposit %s: %w", amount, err)
			}
			staked, err := next.StakedBalance.Add(amount)
			if err != nil {
				return fmt.Errorf("stake %s: %w", amount, err)
			}
			next.StakedBalance = staked
			return nil
		},
		func() error { return f.validator.DepositAndStake(f.cfg.AccountID, amount) },
	)
	if err != nil {
		return err
	}

	f.logger.Infow("Deposit and stake", "account_id", user, "amount", amount)
	return nil
}

func (f *Farm) Stake(user string, amount domain.Amount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stakeLocked(user, amount)
}

func (f *Farm) StakeAll(user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stakeLocked(user, f.record(user).UnstakedBalance)
}

func (f *Farm) stakeLocked(user string, amount domain.Amount) error {
	if amount.IsZero() {
		return nil
	}
	err := f.update(user, "stake",
		func(next *domain.Account) error {
			if amount.Gt(next.UnstakedBalance) {
				return fmt.Errorf("%w: stake %s, unstaked %s", domain.ErrInsufficientUnstakedBalance, amount, next.UnstakedBalance)
			}
			staked, err := next.StakedBalance.Add(amount)
			if err != nil {
				return fmt.Errorf("stake %s: %w", amount, err)
			}
			next.UnstakedBalance = next.UnstakedBalance.MustSub(amount)
			next.StakedBalance = staked
			return nil
		},
		func() error { return f.validator.Stake(f.cfg.AccountID, amount) },
	)
	if err != nil {
		return err
	}

	f.logger.Infow("Stake", "account_id", user, "amount", amount)
	return nil
}

func (f *Farm) Unstake(user string, amount domain.Amount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unstakeLocked(user, amount)
}

func (f *Farm) UnstakeAll(user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unstakeLocked(user, f.record(user).StakedBalance)
}

func (f *Farm) unstakeLocked(user string, amount domain.Amount) error {
	if amount.IsZero() {
		return nil
	}
	epoch := f.clock.Epoch()
	err := f.update(user, "unstake",
		func(next *domain.Account) error {
			if amount.Gt(next.StakedBalance) {
				return fmt.Errorf("%w: unstake %s, staked %s", domain.ErrInsufficientStakedBalance, amount, next.StakedBalance)
			}
			next.StakedBalance = next.StakedBalance.MustSub(amount)
			next.UnstakedBalance = next.UnstakedBalance.MustAdd(amount)
			next.UnstakeEpoch = &epoch
			return nil
		},
		func() error { return f.validator.Unstake(f.cfg.AccountID, amount) },
	)
	if err != nil {
		return err
	}

	f.logger.Infow("Unstake", "account_id", user, "amount", amount, "epoch", epoch)
	return nil
}

func (f *Farm) Withdraw(user string, amount domain.Amount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.withdrawLocked(user, amount)
}

func (f *Farm) WithdrawAll(user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.withdrawLocked(user, f.record(user).UnstakedBalance)
}

func (f *Farm) withdrawLocked(user string, amount domain.Amount) error {
	if amount.IsZero() {
		return nil
	}
	epoch := f.clock.Epoch()
	err := f.update(user, "withdraw",
		func(next *domain.Account) error {
			if !next.Unlocked(epoch, f.cfg.UnbondingEpochs) {
				return fmt.Errorf("%w: unstaked at epoch %d, available at epoch %d, current epoch %d",
					domain.ErrWithdrawalLocked, *next.UnstakeEpoch, *next.UnstakeEpoch+f.cfg.UnbondingEpochs, epoch)
			}
			if amount.Gt(next.UnstakedBalance) {
				return fmt.Errorf("%w: withdraw %s, unstaked %s", domain.ErrInsufficientUnstakedBalance, amount, next.UnstakedBalance)
			}
			next.UnstakedBalance = next.UnstakedBalance.MustSub(amount)
			return nil
		},
		func() error { return f.validator.Withdraw(f.cfg.AccountID, amount) },
	)
	if err != nil {
		return err
	}

	f.logger.Infow("Withdraw", "account_id", user, "amount", amount)
	return nil
}

// Claim pays out the user's rewards from one farm.
func (f *Farm) Claim(user string, farmID uint64, tokenID, delegatorID string) (domain.Payout, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	staked := f.stakedOf(user)
	return f.rewards.Claim(user, farmID, tokenID, delegatorID, staked, f.totalStaked, f.clock.Now())
}

// ClaimAll pays out the user's rewards from every farm paying tokenID.
func (f *Farm) ClaimAll(user, tokenID, delegatorID string) ([]domain.Payout, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	staked := f.stakedOf(user)
	return f.rewards.ClaimAll(user, tokenID, delegatorID, staked, f.totalStaked, f.clock.Now())
}

func (f *Farm) StopFarm(caller string, farmID uint64) error {
	if caller != f.cfg.Owner {
		return fmt.Errorf("%w: only %s can stop farms", domain.ErrPermissionDenied, f.cfg.Owner)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rewards.StopFarm(farmID, f.totalStaked, f.clock.Now())
}

// OnTokenTransfer handles a transfer of tokenID from sender that funds a new
// reward farm described by msg.
func (f *Farm) OnTokenTransfer(tokenID, sender string, amount domain.Amount, msg string) (domain.FarmView, error) {
	return f.rewards.OnTokenTransfer(tokenID, sender, f.cfg.Owner, amount, msg)
}

func (f *Farm) UnclaimedReward(user string, farmID uint64) (domain.Amount, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rewards.Accrue(user, farmID, f.stakedOf(user), f.totalStaked, f.clock.Now())
}

func (f *Farm) ActiveFarms() []domain.FarmView {
	return f.rewards.ActiveFarms(f.clock.Now())
}

func (f *Farm) Farms() []domain.FarmView {
	return f.rewards.Farms(f.clock.Now())
}

func (f *Farm) record(user string) domain.Account {
	if acc, ok := f.accounts[user]; ok {
		return *acc
	}
	return domain.Account{}
}

func (f *Farm) stakedOf(user string) domain.Amount {
	return f.record(user).StakedBalance
}

// Account returns a copy of the user's record, zero-valued if unknown.
func (f *Farm) Account(user string) domain.Account {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if acc, ok := f.accounts[user]; ok {
		return acc.Clone()
	}
	return domain.Account{}
}

func (f *Farm) AccountView(user string) domain.AccountView {
	acc := f.Account(user)
	return domain.AccountView{
		AccountID:       user,
		UnstakedBalance: acc.UnstakedBalance,
		StakedBalance:   acc.StakedBalance,
		CanWithdraw:     acc.CanWithdraw(f.clock.Epoch(), f.cfg.UnbondingEpochs),
	}
}

func (f *Farm) StakedBalance(user string) domain.Amount {
	return f.Account(user).StakedBalance
}

func (f *Farm) UnstakedBalance(user string) domain.Amount {
	return f.Account(user).UnstakedBalance
}

func (f *Farm) TotalBalance(user string) domain.Amount {
	return f.Account(user).Total()
}

func (f *Farm) IsAccountUnstakedBalanceAvailable(user string) bool {
	return f.AccountView(user).CanWithdraw
}

// IsContractCanWithdraw reports whether the farm's own unstaked balance on the
// validator is unlocked.
func (f *Farm) IsContractCanWithdraw() bool {
	return f.validator.CanWithdraw(f.cfg.AccountID)
}

func (f *Farm) TotalStaked() domain.Amount {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.totalStaked
}

func (f *Farm) PoolSummary() domain.PoolSummary {
	return domain.PoolSummary{
		Owner:                 f.cfg.Owner,
		TotalStakedBalance:    f.TotalStaked(),
		RewardFeeFraction:     f.cfg.RewardFee,
		NextRewardFeeFraction: f.cfg.NextRewardFee,
		Farms:                 f.ActiveFarms(),
	}
}

// Accounts returns a consistent snapshot of every user record, taken under
// the farm lock together with the validator record of the farm.
func (f *Farm) Accounts() (map[string]domain.Account, domain.Account) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]domain.Account, len(f.accounts))
	for id, acc := range f.accounts {
		out[id] = acc.Clone()
	}
	return out, f.validator.Account(f.cfg.AccountID)
}

func (f *Farm) Users() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.accounts))
	for id := range f.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *Farm) NumberOfAccounts() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.accounts)
}

// AccountViews pages through accounts ordered by id.
func (f *Farm) AccountViews(fromIndex, limit int) []domain.AccountView {
	users := f.Users()
	if fromIndex < 0 || fromIndex >= len(users) || limit <= 0 {
		return []domain.AccountView{}
	}
	end := fromIndex + limit
	if end > len(users) {
		end = len(users)
	}

	views := make([]domain.AccountView, 0, end-fromIndex)
	for _, user := range users[fromIndex:end] {
		views = append(views, f.AccountView(user))
	}
	return views
}
