package scenario

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/application"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
)

// Invariant names, also used as metric labels.
const (
	InvariantBalanceSum      = "balance_sum"
	InvariantCrossLedger     = "cross_ledger"
	InvariantConservation    = "conservation"
	InvariantUnbondingLock   = "unbonding_lock"
	InvariantPoolTotalStaked = "pool_total_staked"
)

type Violation struct {
	Invariant string
	Detail    string
}

func (v Violation) String() string {
	return v.Invariant + ": " + v.Detail
}

// Snapshot is both ledgers read back at a settled point. Epoch is read last,
// so no view in the snapshot is from a later epoch.
type Snapshot struct {
	Accounts   map[string]domain.AccountView
	Totals     map[string]domain.Amount
	Delegation domain.AccountView
	PoolStaked domain.Amount
	Epoch      uint64
}

func takeSnapshot(ctx context.Context, svc *application.Service, tracked []string) (*Snapshot, error) {
	views, err := svc.GetAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	snap := &Snapshot{
		Accounts: make(map[string]domain.AccountView, len(views)),
		Totals:   make(map[string]domain.Amount, len(tracked)),
	}
	for _, v := range views {
		snap.Accounts[v.AccountID] = v
	}

	for _, user := range tracked {
		total, err := svc.GetAccountTotalBalance(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("failed to read total of %s: %w", user, err)
		}
		snap.Totals[user] = total
	}

	if snap.Delegation, err = svc.GetDelegation(ctx); err != nil {
		return nil, fmt.Errorf("failed to read delegation: %w", err)
	}
	summary, err := svc.GetPoolSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool summary: %w", err)
	}
	snap.PoolStaked = summary.TotalStakedBalance

	if snap.Epoch, err = svc.CurrentEpoch(ctx); err != nil {
		return nil, fmt.Errorf("failed to read epoch: %w", err)
	}
	return snap, nil
}

func (s *Snapshot) account(user string) domain.AccountView {
	if v, ok := s.Accounts[user]; ok {
		return v
	}
	return domain.AccountView{AccountID: user}
}

// delta is the value a step is allowed to move in or out of each account.
type delta struct {
	mu       sync.Mutex
	credit   map[string]domain.Amount
	debit    map[string]domain.Amount
	unstaked map[string]bool
}

func newDelta() *delta {
	return &delta{
		credit:   make(map[string]domain.Amount),
		debit:    make(map[string]domain.Amount),
		unstaked: make(map[string]bool),
	}
}

func (d *delta) add(user string, credit, debit domain.Amount, unstaked bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if !credit.IsZero() {
		if d.credit[user], err = d.credit[user].Add(credit); err != nil {
			return err
		}
	}
	if !debit.IsZero() {
		if d.debit[user], err = d.debit[user].Add(debit); err != nil {
			return err
		}
	}
	if unstaked {
		d.unstaked[user] = true
	}
	return nil
}

// check compares two settled snapshots around a step.
func check(before, after *Snapshot, d *delta) []Violation {
	var violations []Violation
	report := func(invariant, format string, args ...interface{}) {
		violations = append(violations, Violation{Invariant: invariant, Detail: fmt.Sprintf(format, args...)})
	}

	for user, total := range after.Totals {
		v := after.account(user)
		if !v.Total().Eq(total) {
			report(InvariantBalanceSum, "%s: staked %s + unstaked %s != total %s", user, v.StakedBalance, v.UnstakedBalance, total)
		}
	}

	staked, unstaked := domain.ZeroAmount(), domain.ZeroAmount()
	for _, v := range after.Accounts {
		staked = staked.MustAdd(v.StakedBalance)
		unstaked = unstaked.MustAdd(v.UnstakedBalance)
	}
	if !staked.Eq(after.Delegation.StakedBalance) {
		report(InvariantCrossLedger, "farm staked %s != validator staked %s", staked, after.Delegation.StakedBalance)
	}
	if !unstaked.Eq(after.Delegation.UnstakedBalance) {
		report(InvariantCrossLedger, "farm unstaked %s != validator unstaked %s", unstaked, after.Delegation.UnstakedBalance)
	}
	if !after.PoolStaked.Eq(after.Delegation.StakedBalance) {
		report(InvariantPoolTotalStaked, "pool total %s != validator staked %s", after.PoolStaked, after.Delegation.StakedBalance)
	}

	users := make(map[string]struct{}, len(after.Accounts))
	for user := range before.Accounts {
		users[user] = struct{}{}
	}
	for user := range after.Accounts {
		users[user] = struct{}{}
	}
	for _, user := range sortedKeys(users) {
		was := before.account(user).Total()
		now := after.account(user).Total()
		expected, err := was.Add(d.credit[user])
		if err == nil {
			expected, err = expected.Sub(d.debit[user])
		}
		if err != nil || !expected.Eq(now) {
			report(InvariantConservation, "%s: total moved from %s to %s, allowed +%s -%s", user, was, now, d.credit[user], d.debit[user])
		}
	}

	return violations
}

// unbondingWindow remembers when each user last unstaked and flags any
// account that reports a withdrawable balance before the delay has passed.
// The epoch before the step is recorded, which never exceeds the epoch the
// unstake actually ran in.
type unbondingWindow struct {
	epochs uint64
	since  map[string]uint64
}

func newUnbondingWindow(epochs uint64) *unbondingWindow {
	return &unbondingWindow{epochs: epochs, since: make(map[string]uint64)}
}

func (w *unbondingWindow) observe(before, after *Snapshot, d *delta) []Violation {
	for user := range d.unstaked {
		w.since[user] = before.Epoch
	}

	var violations []Violation
	for _, user := range sortedUsers(w.since) {
		since := w.since[user]
		if after.Epoch >= since+w.epochs {
			continue
		}
		if after.account(user).CanWithdraw {
			violations = append(violations, Violation{
				Invariant: InvariantUnbondingLock,
				Detail: fmt.Sprintf("%s can withdraw at epoch %d, unstaked at epoch %d with %d unbonding epochs",
					user, after.Epoch, since, w.epochs),
			})
		}
	}
	return violations
}

func sortedUsers(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
