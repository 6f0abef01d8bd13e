package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/application"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const defaultFarmName = "scenario farm"

type StepResult struct {
	Index    string        `json:"index"`
	Op       string        `json:"op"`
	User     string        `json:"user,omitempty"`
	Error    string        `json:"error,omitempty"`
	Expected bool          `json:"expected,omitempty"`
	Duration time.Duration `json:"duration"`
}

type Report struct {
	Name     string        `json:"name"`
	RunID    string        `json:"run_id"`
	Steps    []StepResult  `json:"steps"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

func (r *Report) Passed() bool {
	return r.Err == ""
}

// Runner drives one scenario against the staking farm behind svc and checks
// the ledger invariants after every step.
type Runner struct {
	service *application.Service
	logger  *logger.Logger

	mu      sync.Mutex
	results []StepResult
}

func NewRunner(service *application.Service, log *logger.Logger) *Runner {
	return &Runner{
		service: service,
		logger:  log,
	}
}

// Run executes the steps in order. It stops at the first unexpected error,
// failed expectation or invariant violation.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	start := time.Now()
	report := &Report{Name: sc.Name, RunID: r.service.RunID()}
	r.results = nil

	err := r.run(ctx, sc)

	report.Steps = r.results
	report.Duration = time.Since(start)
	if err != nil {
		report.Err = err.Error()
		r.logger.Errorw("Scenario failed", "scenario", sc.Name, "error", err)
	} else {
		r.logger.Infow("Scenario passed", "scenario", sc.Name, "steps", len(report.Steps), "duration", report.Duration)
	}

	if flushErr := r.service.Flush(ctx); flushErr != nil {
		r.logger.Errorw("Failed to flush journal", "scenario", sc.Name, "error", flushErr)
	}
	return report, err
}

func (r *Runner) run(ctx context.Context, sc *Scenario) error {
	if err := sc.Validate(); err != nil {
		return err
	}

	tracked := trackedUsers(sc)
	before, err := takeSnapshot(ctx, r.service, tracked)
	if err != nil {
		return err
	}
	window := newUnbondingWindow(r.service.UnbondingEpochs())

	for i, step := range sc.Steps {
		index := fmt.Sprintf("%d", i+1)
		d := newDelta()

		if step.Op == OpParallel {
			err = r.parallel(ctx, index, step, d)
		} else {
			err = r.step(ctx, index, step, d)
		}
		if err != nil {
			return fmt.Errorf("step %s (%s): %w", index, step.Op, err)
		}

		after, err := takeSnapshot(ctx, r.service, tracked)
		if err != nil {
			return fmt.Errorf("step %s (%s): %w", index, step.Op, err)
		}
		violations := check(before, after, d)
		violations = append(violations, window.observe(before, after, d)...)
		if len(violations) > 0 {
			details := make([]string, 0, len(violations))
			for _, v := range violations {
				metrics.RecordInvariantViolation(v.Invariant)
				details = append(details, v.String())
			}
			return fmt.Errorf("%w after step %s (%s): %s", ErrInvariantViolated, index, step.Op, strings.Join(details, "; "))
		}
		before = after
	}
	return nil
}

// parallel runs the sub-steps in one lane per user. Lanes run concurrently;
// steps within a lane keep their order.
func (r *Runner) parallel(ctx context.Context, index string, step Step, d *delta) error {
	lanes := make(map[string][]int)
	for i, sub := range step.Steps {
		lanes[sub.User] = append(lanes[sub.User], i)
	}
	users := make([]string, 0, len(lanes))
	for user := range lanes {
		users = append(users, user)
	}
	sort.Strings(users)

	g, gctx := errgroup.WithContext(ctx)
	for _, user := range users {
		lane := lanes[user]
		g.Go(func() error {
			for _, i := range lane {
				if err := r.step(gctx, fmt.Sprintf("%s.%d", index, i+1), step.Steps[i], d); err != nil {
					return fmt.Errorf("parallel step %d: %w", i+1, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// step executes one operation, matches its error against expect_error and
// checks its expectations.
func (r *Runner) step(ctx context.Context, index string, step Step, d *delta) error {
	start := time.Now()
	claimed, err := r.execute(ctx, step, d)

	result := StepResult{Index: index, Op: step.Op, User: step.User, Duration: time.Since(start)}
	if err != nil {
		result.Error = err.Error()
	}

	outcome := r.outcome(step, err)
	result.Expected = err != nil && outcome == nil
	r.record(result)
	metrics.RecordScenarioStep(step.Op, outcome == nil)

	if outcome != nil {
		return outcome
	}

	r.logger.Debugw("Step done", "index", index, "op", step.Op, "user", step.User, "error", err)

	if step.Expect != nil {
		return r.verify(ctx, step, claimed)
	}
	return nil
}

func (r *Runner) outcome(step Step, err error) error {
	switch {
	case step.ExpectError == "" && err != nil:
		return err
	case step.ExpectError != "" && err == nil:
		return fmt.Errorf("%w: wanted %s", ErrUnexpectedSuccess, step.ExpectError)
	case step.ExpectError != "" && domain.ErrorCode(err) != step.ExpectError:
		return fmt.Errorf("%w: wanted %s, got %v", ErrExpectationFailed, step.ExpectError, err)
	}
	return nil
}

func (r *Runner) record(result StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

// execute performs the operation and records in d the value it moves. The
// returned amount is the sum of claimed rewards.
func (r *Runner) execute(ctx context.Context, step Step, d *delta) (domain.Amount, error) {
	svc := r.service
	user := step.User
	none := domain.ZeroAmount()

	switch step.Op {
	case OpDeposit, OpDepositAndStake:
		amount := mustAmount(step.Amount)
		var err error
		if step.Op == OpDeposit {
			err = svc.Deposit(ctx, user, amount)
		} else {
			err = svc.DepositAndStake(ctx, user, amount)
		}
		if err != nil {
			return none, err
		}
		return none, d.add(user, amount, none, false)

	case OpStake:
		return none, svc.Stake(ctx, user, mustAmount(step.Amount))

	case OpStakeAll:
		return none, svc.StakeAll(ctx, user)

	case OpUnstake:
		amount := mustAmount(step.Amount)
		if err := svc.Unstake(ctx, user, amount); err != nil {
			return none, err
		}
		return none, d.add(user, none, none, !amount.IsZero())

	case OpUnstakeAll:
		staked, err := svc.GetAccountStakedBalance(ctx, user)
		if err != nil {
			return none, err
		}
		if err := svc.UnstakeAll(ctx, user); err != nil {
			return none, err
		}
		return none, d.add(user, none, none, !staked.IsZero())

	case OpWithdraw:
		amount := mustAmount(step.Amount)
		if err := svc.Withdraw(ctx, user, amount); err != nil {
			return none, err
		}
		return none, d.add(user, none, amount, false)

	case OpWithdrawAll:
		unstaked, err := svc.GetAccountUnstakedBalance(ctx, user)
		if err != nil {
			return none, err
		}
		if err := svc.WithdrawAll(ctx, user); err != nil {
			return none, err
		}
		return none, d.add(user, none, unstaked, false)

	case OpWaitEpochs:
		_, err := svc.WaitEpochs(ctx, step.Epochs)
		return none, err

	case OpAdvanceBlocks:
		return none, svc.AdvanceBlocks(ctx, step.Blocks)

	case OpCreateFarm:
		name := step.Name
		if name == "" {
			name = defaultFarmName
		}
		_, err := svc.CreateDefaultFarm(ctx, step.Token, name, mustAmount(step.Amount))
		return none, err

	case OpClaim:
		if step.Farm != nil {
			payout, err := svc.ClaimFarm(ctx, user, *step.Farm, step.Token, step.Delegator)
			return payout.Amount, err
		}
		payouts, err := svc.Claim(ctx, user, step.Token, step.Delegator)
		if err != nil {
			return none, err
		}
		amounts := make([]domain.Amount, 0, len(payouts))
		for _, p := range payouts {
			amounts = append(amounts, p.Amount)
		}
		return domain.SumAmounts(amounts...)

	case OpStopFarm:
		caller := user
		if caller == "" {
			caller = svc.Contracts().Owner
		}
		return none, svc.StopFarm(ctx, caller, *step.Farm)
	}

	return none, fmt.Errorf("%w: unknown op %q", ErrInvalidScenario, step.Op)
}

func (r *Runner) verify(ctx context.Context, step Step, claimed domain.Amount) error {
	exp := step.Expect
	svc := r.service
	var failures []string

	mismatch := func(field, want string, got domain.Amount) {
		if want == "" {
			return
		}
		if !mustAmount(want).Eq(got) {
			failures = append(failures, fmt.Sprintf("%s: want %s, got %s", field, mustAmount(want), got))
		}
	}

	if step.User != "" && (exp.Staked != "" || exp.Unstaked != "" || exp.CanWithdraw != nil) {
		account, err := svc.GetAccount(ctx, step.User)
		if err != nil {
			return err
		}
		mismatch("staked", exp.Staked, account.StakedBalance)
		mismatch("unstaked", exp.Unstaked, account.UnstakedBalance)
		if exp.CanWithdraw != nil && *exp.CanWithdraw != account.CanWithdraw {
			failures = append(failures, fmt.Sprintf("can_withdraw: want %t, got %t", *exp.CanWithdraw, account.CanWithdraw))
		}
	}

	if step.User != "" && exp.Total != "" {
		total, err := svc.GetAccountTotalBalance(ctx, step.User)
		if err != nil {
			return err
		}
		mismatch("total", exp.Total, total)
	}

	if exp.Unclaimed != "" {
		if step.Farm == nil || step.User == "" {
			return fmt.Errorf("%w: unclaimed needs user and farm", ErrInvalidScenario)
		}
		reward, err := svc.GetUnclaimedReward(ctx, step.User, *step.Farm)
		if err != nil {
			return err
		}
		mismatch("unclaimed", exp.Unclaimed, reward)
	}

	mismatch("claimed", exp.Claimed, claimed)

	if exp.ContractCanWithdraw != nil {
		ok, err := svc.IsContractCanWithdraw(ctx)
		if err != nil {
			return err
		}
		if ok != *exp.ContractCanWithdraw {
			failures = append(failures, fmt.Sprintf("contract_can_withdraw: want %t, got %t", *exp.ContractCanWithdraw, ok))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("%w: %s", ErrExpectationFailed, strings.Join(failures, "; "))
	}
	return nil
}

func trackedUsers(sc *Scenario) []string {
	seen := make(map[string]struct{})
	for _, u := range sc.Users {
		seen[u] = struct{}{}
	}
	var walk func(steps []Step)
	walk = func(steps []Step) {
		for _, st := range steps {
			if st.User != "" {
				seen[st.User] = struct{}{}
			}
			walk(st.Steps)
		}
	}
	walk(sc.Steps)
	return sortedKeys(seen)
}

// ServiceFactory builds the service a scenario runs against.
type ServiceFactory func(ctx context.Context, sc *Scenario) (*application.Service, error)

// RunAll runs scenarios concurrently, at most parallelism at a time. Every
// scenario runs to completion; the returned error joins all failures.
func RunAll(ctx context.Context, scenarios []*Scenario, factory ServiceFactory, parallelism int, log *logger.Logger) ([]*Report, error) {
	reports := make([]*Report, len(scenarios))
	errs := make([]error, len(scenarios))

	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}

	for i, sc := range scenarios {
		i, sc := i, sc
		g.Go(func() error {
			svc, err := factory(ctx, sc)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", sc.Name, err)
				reports[i] = &Report{Name: sc.Name, Err: err.Error()}
				return nil
			}
			runner := NewRunner(svc, log.WithFields(map[string]interface{}{"scenario": sc.Name}))
			reports[i], err = runner.Run(ctx, sc)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", sc.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return reports, errors.Join(errs...)
}
