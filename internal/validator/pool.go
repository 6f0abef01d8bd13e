package validator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
)

// EpochSource exposes the current epoch.
type EpochSource interface {
	Epoch() uint64
}

// Pool is the validator-side ledger: the authoritative stake of each
// delegator. Share price is fixed at 1:1.
type Pool struct {
	mu              sync.RWMutex
	accounts        map[string]*domain.Account
	epochs          EpochSource
	unbondingEpochs uint64
	logger          *logger.Logger
}

func NewPool(epochs EpochSource, unbondingEpochs uint64, log *logger.Logger) *Pool {
	return &Pool{
		accounts:        make(map[string]*domain.Account),
		epochs:          epochs,
		unbondingEpochs: unbondingEpochs,
		logger:          log,
	}
}

func (p *Pool) UnbondingEpochs() uint64 {
	return p.unbondingEpochs
}

func (p *Pool) account(delegator string) *domain.Account {
	acc, ok := p.accounts[delegator]
	if !ok {
		acc = &domain.Account{}
		p.accounts[delegator] = acc
	}
	return acc
}

func (p *Pool) Deposit(delegator string, amount domain.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc := p.account(delegator)
	unstaked, err := acc.UnstakedBalance.Add(amount)
	if err != nil {
		return fmt.Errorf("deposit %s: %w", amount, err)
	}
	acc.UnstakedBalance = unstaked

	p.logger.Debugw("Validator deposit", "delegator", delegator, "amount", amount)
	return nil
}

// DepositAndStake credits amount and stakes it in one step. Either both
// balances move or neither does.
func (p *Pool) DepositAndStake(delegator string, amount domain.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc := p.account(delegator)
	staked, err := acc.StakedBalance.Add(amount)
	if err != nil {
		return fmt.Errorf("deposit and stake %s: %w", amount, err)
	}
	if _, err := acc.Total().Add(amount); err != nil {
		return fmt.Errorf("deposit and stake %s: %w", amount, err)
	}
	acc.StakedBalance = staked

	p.logger.Debugw("Validator deposit and stake", "delegator", delegator, "amount", amount)
	return nil
}

func (p *Pool) Stake(delegator string, amount domain.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc := p.account(delegator)
	if amount.Gt(acc.UnstakedBalance) {
		return fmt.Errorf("%w: stake %s, unstaked %s", domain.ErrInsufficientUnstakedBalance, amount, acc.UnstakedBalance)
	}
	staked, err := acc.StakedBalance.Add(amount)
	if err != nil {
		return fmt.Errorf("stake %s: %w", amount, err)
	}
	acc.UnstakedBalance = acc.UnstakedBalance.MustSub(amount)
	acc.StakedBalance = staked

	p.logger.Debugw("Validator stake", "delegator", delegator, "amount", amount)
	return nil
}

// Unstake moves amount back to the unstaked balance and restarts the
// unbonding clock for the whole unstaked balance, including any part that had
// already been waiting.
func (p *Pool) Unstake(delegator string, amount domain.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc := p.account(delegator)
	if amount.Gt(acc.StakedBalance) {
		return fmt.Errorf("%w: unstake %s, staked %s", domain.ErrInsufficientStakedBalance, amount, acc.StakedBalance)
	}
	unstaked, err := acc.UnstakedBalance.Add(amount)
	if err != nil {
		return fmt.Errorf("unstake %s: %w", amount, err)
	}
	acc.StakedBalance = acc.StakedBalance.MustSub(amount)
	acc.UnstakedBalance = unstaked
	epoch := p.epochs.Epoch()
	acc.UnstakeEpoch = &epoch

	p.logger.Debugw("Validator unstake", "delegator", delegator, "amount", amount, "epoch", epoch)
	return nil
}

func (p *Pool) Withdraw(delegator string, amount domain.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc := p.account(delegator)
	epoch := p.epochs.Epoch()
	if !acc.Unlocked(epoch, p.unbondingEpochs) {
		return fmt.Errorf("%w: unstaked at epoch %d, available at epoch %d, current epoch %d",
			domain.ErrWithdrawalLocked, *acc.UnstakeEpoch, *acc.UnstakeEpoch+p.unbondingEpochs, epoch)
	}
	if amount.Gt(acc.UnstakedBalance) {
		return fmt.Errorf("%w: withdraw %s, unstaked %s", domain.ErrInsufficientUnstakedBalance, amount, acc.UnstakedBalance)
	}
	acc.UnstakedBalance = acc.UnstakedBalance.MustSub(amount)

	p.logger.Debugw("Validator withdraw", "delegator", delegator, "amount", amount)
	return nil
}

// Account returns a copy of the delegator's record, zero-valued if unknown.
func (p *Pool) Account(delegator string) domain.Account {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if acc, ok := p.accounts[delegator]; ok {
		return acc.Clone()
	}
	return domain.Account{}
}

func (p *Pool) CanWithdraw(delegator string) bool {
	acc := p.Account(delegator)
	return acc.CanWithdraw(p.epochs.Epoch(), p.unbondingEpochs)
}

func (p *Pool) TotalStaked() domain.Amount {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := domain.ZeroAmount()
	for _, acc := range p.accounts {
		total = total.MustAdd(acc.StakedBalance)
	}
	return total
}

func (p *Pool) Delegators() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.accounts))
	for id := range p.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
