package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/chain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/farm"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/rewards"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/validator"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/metrics"
)

const (
	defaultGas uint64 = 5_000_000_000_000
	tgas       uint64 = 1_000_000_000_000
)

// Gas burnt per method, in gas units. Forwarded calls pay for the receipt on
// the validator as well.
var gasTable = map[string]uint64{
	domain.MethodDeposit:         5 * tgas,
	domain.MethodDepositAndStake: 15 * tgas,
	domain.MethodStake:           10 * tgas,
	domain.MethodStakeAll:        10 * tgas,
	domain.MethodUnstake:         10 * tgas,
	domain.MethodUnstakeAll:      10 * tgas,
	domain.MethodWithdraw:        10 * tgas,
	domain.MethodWithdrawAll:     10 * tgas,
	domain.MethodClaim:           8 * tgas,
	domain.MethodStopFarm:        3 * tgas,
	domain.MethodFtOnTransfer:    6 * tgas,
}

// forwarded maps a farm method onto the validator method it forwards to.
var forwarded = map[string]string{
	domain.MethodDeposit:         domain.MethodDeposit,
	domain.MethodDepositAndStake: domain.MethodDepositAndStake,
	domain.MethodStake:           domain.MethodStake,
	domain.MethodStakeAll:        domain.MethodStake,
	domain.MethodUnstake:         domain.MethodUnstake,
	domain.MethodUnstakeAll:      domain.MethodUnstake,
	domain.MethodWithdraw:        domain.MethodWithdraw,
	domain.MethodWithdrawAll:     domain.MethodWithdraw,
}

// Sandbox is an in-process ledger hosting the validator and the staking farm
// on a simulated clock.
type Sandbox struct {
	clock       *chain.SimClock
	validator   *validator.Pool
	farm        *farm.Farm
	validatorID string
	farmID      string
	logger      *logger.Logger
}

func NewSandbox(chainCfg config.Chain, contracts config.Contracts, genesis time.Time, log *logger.Logger) (*Sandbox, error) {
	clock := chain.NewSimClock(genesis, chainCfg.BlockTime, chainCfg.EpochLength, chainCfg.EpochJitter)
	pool := validator.NewPool(clock, chainCfg.UnbondingEpochs, log.WithFields(map[string]interface{}{"contract": contracts.ValidatorID}))

	f, err := farm.New(farm.Config{
		AccountID:       contracts.FarmID,
		ValidatorID:     contracts.ValidatorID,
		Owner:           contracts.Owner,
		RewardFee:       domain.Ratio{Numerator: contracts.RewardFeeNumerator, Denominator: contracts.RewardFeeDenominator},
		NextRewardFee:   domain.Ratio{Numerator: contracts.NextRewardFeeNumerator, Denominator: contracts.NextRewardFeeDenominator},
		UnbondingEpochs: chainCfg.UnbondingEpochs,
	}, pool, clock, rewards.NewRegistry(log), log.WithFields(map[string]interface{}{"contract": contracts.FarmID}))
	if err != nil {
		return nil, fmt.Errorf("failed to create staking farm: %w", err)
	}

	log.Infow("Sandbox ledger ready",
		"validator", contracts.ValidatorID,
		"farm", contracts.FarmID,
		"owner", contracts.Owner,
		"epoch_length", chainCfg.EpochLength,
		"unbonding_epochs", chainCfg.UnbondingEpochs,
	)

	return &Sandbox{
		clock:       clock,
		validator:   pool,
		farm:        f,
		validatorID: contracts.ValidatorID,
		farmID:      contracts.FarmID,
		logger:      log,
	}, nil
}

func (s *Sandbox) Clock() *chain.SimClock {
	return s.clock
}

func (s *Sandbox) Farm() *farm.Farm {
	return s.farm
}

func (s *Sandbox) Validator() *validator.Pool {
	return s.validator
}

// Call executes a mutating method. Validation failures on the farm fail the
// whole call; a failure of the forwarded validator call is reported as a
// failed receipt under a successful top-level status, with the farm state
// rolled back.
func (s *Sandbox) Call(ctx context.Context, req domain.CallRequest) (*domain.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.call(req)
	if err != nil {
		return nil, err
	}
	metrics.RecordLedgerCall(req.Method, result.Err(req.Method) == nil, time.Since(start).Seconds())
	return result, nil
}

func (s *Sandbox) call(req domain.CallRequest) (*domain.ExecutionResult, error) {
	if req.Signer == "" {
		return nil, fmt.Errorf("%w: signer_id is required", domain.ErrInvalidArgument)
	}

	gas, ok := gasTable[req.Method]
	if !ok {
		gas = defaultGas
	}
	result := &domain.ExecutionResult{Status: domain.StatusSuccess, GasBurnt: gas}

	switch req.Receiver {
	case s.farmID:
	case s.validatorID:
		return failed(result, fmt.Errorf("%w: %s is only writable by %s", domain.ErrPermissionDenied, s.validatorID, s.farmID)), nil
	default:
		return failed(result, fmt.Errorf("%w: unknown receiver %q", domain.ErrInvalidArgument, req.Receiver)), nil
	}

	value, logs, err := s.dispatch(req)
	result.Logs = logs

	var fwd *farm.ForwardError
	switch {
	case errors.As(err, &fwd):
		result.Receipts = []domain.ReceiptOutcome{
			{Receiver: s.farmID, Method: req.Method, Status: domain.StatusSuccess},
			{Receiver: s.validatorID, Method: fwd.Method, Status: domain.StatusFailure, Failure: domain.NewExecutionError(fwd.Err)},
		}
		s.logger.Warnw("Forwarded call failed", "signer", req.Signer, "method", req.Method, "error", fwd.Err)
		return result, nil
	case err != nil:
		s.logger.Debugw("Call rejected", "signer", req.Signer, "method", req.Method, "error", err)
		return failed(result, err), nil
	}

	result.Receipts = []domain.ReceiptOutcome{{Receiver: s.farmID, Method: req.Method, Status: domain.StatusSuccess, Logs: logs}}
	if target, ok := forwarded[req.Method]; ok {
		result.Receipts = append(result.Receipts, domain.ReceiptOutcome{Receiver: s.validatorID, Method: target, Status: domain.StatusSuccess})
	}
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s result: %w", req.Method, err)
		}
		result.Value = raw
	}
	return result, nil
}

func failed(result *domain.ExecutionResult, err error) *domain.ExecutionResult {
	result.Status = domain.StatusFailure
	result.Failure = domain.NewExecutionError(err)
	return result
}

func decodeArgs(method string, raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) || errors.Is(err, domain.ErrAmountOverflow) {
			return fmt.Errorf("%s: %w", method, err)
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidArgument, method, err)
	}
	return nil
}

func (s *Sandbox) dispatch(req domain.CallRequest) (interface{}, []string, error) {
	user := req.Signer
	f := s.farm

	switch req.Method {
	case domain.MethodDeposit:
		if err := f.Deposit(user, req.Deposit); err != nil {
			return nil, nil, err
		}
		return nil, s.balanceLogs(user, "deposited", req.Deposit), nil

	case domain.MethodDepositAndStake:
		if err := f.DepositAndStake(user, req.Deposit); err != nil {
			return nil, nil, err
		}
		return nil, s.balanceLogs(user, "deposited and staked", req.Deposit), nil

	case domain.MethodStake, domain.MethodUnstake, domain.MethodWithdraw:
		var args domain.AmountArgs
		if err := decodeArgs(req.Method, req.Args, &args); err != nil {
			return nil, nil, err
		}
		var err error
		switch req.Method {
		case domain.MethodStake:
			err = f.Stake(user, args.Amount)
		case domain.MethodUnstake:
			err = f.Unstake(user, args.Amount)
		default:
			err = f.Withdraw(user, args.Amount)
		}
		if err != nil {
			return nil, nil, err
		}
		return nil, s.balanceLogs(user, pastTense(req.Method), args.Amount), nil

	case domain.MethodStakeAll:
		amount := f.UnstakedBalance(user)
		if err := f.StakeAll(user); err != nil {
			return nil, nil, err
		}
		return nil, s.balanceLogs(user, "staked", amount), nil

	case domain.MethodUnstakeAll:
		amount := f.StakedBalance(user)
		if err := f.UnstakeAll(user); err != nil {
			return nil, nil, err
		}
		return nil, s.balanceLogs(user, "unstaked", amount), nil

	case domain.MethodWithdrawAll:
		amount := f.UnstakedBalance(user)
		if err := f.WithdrawAll(user); err != nil {
			return nil, nil, err
		}
		return nil, s.balanceLogs(user, "withdrew", amount), nil

	case domain.MethodClaim:
		var args domain.ClaimArgs
		if err := decodeArgs(req.Method, req.Args, &args); err != nil {
			return nil, nil, err
		}
		if args.FarmID != nil {
			payout, err := f.Claim(user, *args.FarmID, args.TokenID, args.DelegatorID)
			if err != nil {
				return nil, nil, err
			}
			return []domain.Payout{payout}, claimLogs(user, payout), nil
		}
		payouts, err := f.ClaimAll(user, args.TokenID, args.DelegatorID)
		if err != nil {
			return nil, nil, err
		}
		return payouts, claimLogs(user, payouts...), nil

	case domain.MethodStopFarm:
		var args domain.FarmArgs
		if err := decodeArgs(req.Method, req.Args, &args); err != nil {
			return nil, nil, err
		}
		if err := f.StopFarm(user, args.FarmID); err != nil {
			return nil, nil, err
		}
		return nil, []string{fmt.Sprintf("Farm %d stopped", args.FarmID)}, nil

	case domain.MethodFtOnTransfer:
		var args domain.TokenTransferArgs
		if err := decodeArgs(req.Method, req.Args, &args); err != nil {
			return nil, nil, err
		}
		view, err := f.OnTokenTransfer(user, args.SenderID, args.Amount, args.Msg)
		if err != nil {
			return nil, nil, err
		}
		return view, []string{fmt.Sprintf("Farm %d created: %s of %s", view.FarmID, view.Amount, view.TokenID)}, nil
	}

	return nil, nil, fmt.Errorf("%w: %s", domain.ErrUnknownMethod, req.Method)
}

func pastTense(method string) string {
	switch method {
	case domain.MethodStake:
		return "staked"
	case domain.MethodUnstake:
		return "unstaked"
	default:
		return "withdrew"
	}
}

func (s *Sandbox) balanceLogs(user, action string, amount domain.Amount) []string {
	acc := s.farm.Account(user)
	return []string{
		fmt.Sprintf("@%s %s %s", user, action, amount),
		fmt.Sprintf("@%s unstaked balance is %s, staked balance is %s", user, acc.UnstakedBalance, acc.StakedBalance),
	}
}

func claimLogs(user string, payouts ...domain.Payout) []string {
	logs := make([]string, 0, len(payouts))
	for _, p := range payouts {
		logs = append(logs, fmt.Sprintf("@%s claimed %s %s for %s", user, p.Amount, p.TokenID, p.Receiver))
	}
	return logs
}

// View runs a read-only query against either contract.
func (s *Sandbox) View(ctx context.Context, req domain.ViewRequest) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics.RecordLedgerView(req.Method)

	var (
		value interface{}
		err   error
	)
	switch req.Receiver {
	case s.farmID:
		value, err = s.farmView(req)
	case s.validatorID:
		value, err = s.validatorView(req)
	default:
		err = fmt.Errorf("%w: unknown receiver %q", domain.ErrInvalidArgument, req.Receiver)
	}
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", req.Method, err)
	}
	return raw, nil
}

func (s *Sandbox) farmView(req domain.ViewRequest) (interface{}, error) {
	f := s.farm

	switch req.Method {
	case domain.ViewGetAccount,
		domain.ViewGetAccountStakedBalance,
		domain.ViewGetAccountUnstakedBalance,
		domain.ViewGetAccountTotalBalance,
		domain.ViewIsAccountUnstakedBalanceAvailable:
		var args domain.AccountArgs
		if err := decodeArgs(req.Method, req.Args, &args); err != nil {
			return nil, err
		}
		return accountView(req.Method, f.AccountView(args.AccountID)), nil

	case domain.ViewGetAccounts:
		var args domain.AccountsArgs
		if err := decodeArgs(req.Method, req.Args, &args); err != nil {
			return nil, err
		}
		return f.AccountViews(int(args.FromIndex), int(args.Limit)), nil
	case domain.ViewGetNumberOfAccounts:
		return f.NumberOfAccounts(), nil

	case domain.ViewGetTotalStakedBalance:
		return f.TotalStaked(), nil
	case domain.ViewGetPoolSummary:
		return f.PoolSummary(), nil
	case domain.ViewIsContractCanWithdraw:
		return f.IsContractCanWithdraw(), nil
	case domain.ViewGetActiveFarms:
		return f.ActiveFarms(), nil
	case domain.ViewGetFarms:
		return f.Farms(), nil

	case domain.ViewGetFarm:
		var args domain.FarmArgs
		if err := decodeArgs(req.Method, req.Args, &args); err != nil {
			return nil, err
		}
		for _, view := range f.Farms() {
			if view.FarmID == args.FarmID {
				return view, nil
			}
		}
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownFarm, args.FarmID)

	case domain.ViewGetUnclaimedReward:
		var args domain.UnclaimedRewardArgs
		if err := decodeArgs(req.Method, req.Args, &args); err != nil {
			return nil, err
		}
		return f.UnclaimedReward(args.AccountID, args.FarmID)
	}

	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownMethod, req.Method)
}

func (s *Sandbox) validatorView(req domain.ViewRequest) (interface{}, error) {
	switch req.Method {
	case domain.ViewGetAccount,
		domain.ViewGetAccountStakedBalance,
		domain.ViewGetAccountUnstakedBalance,
		domain.ViewGetAccountTotalBalance,
		domain.ViewIsAccountUnstakedBalanceAvailable:
		var args domain.AccountArgs
		if err := decodeArgs(req.Method, req.Args, &args); err != nil {
			return nil, err
		}
		acc := s.validator.Account(args.AccountID)
		return accountView(req.Method, domain.AccountView{
			AccountID:       args.AccountID,
			UnstakedBalance: acc.UnstakedBalance,
			StakedBalance:   acc.StakedBalance,
			CanWithdraw:     s.validator.CanWithdraw(args.AccountID),
		}), nil

	case domain.ViewGetTotalStakedBalance:
		return s.validator.TotalStaked(), nil
	}

	return nil, fmt.Errorf("%w: %s on %s", domain.ErrUnknownMethod, req.Method, s.validatorID)
}

func accountView(method string, view domain.AccountView) interface{} {
	switch method {
	case domain.ViewGetAccountStakedBalance:
		return view.StakedBalance
	case domain.ViewGetAccountUnstakedBalance:
		return view.UnstakedBalance
	case domain.ViewGetAccountTotalBalance:
		return view.Total()
	case domain.ViewIsAccountUnstakedBalanceAvailable:
		return view.CanWithdraw
	default:
		return view
	}
}

func (s *Sandbox) Block(ctx context.Context) (domain.BlockInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.BlockInfo{}, err
	}
	return s.clock.BlockInfo(), nil
}

func (s *Sandbox) CurrentEpoch(ctx context.Context) (uint64, error) {
	return s.clock.CurrentEpoch(ctx)
}

func (s *Sandbox) AdvanceBlocks(ctx context.Context, n uint64) error {
	return s.clock.AdvanceBlocks(ctx, n)
}

var _ domain.Ledger = (*Sandbox)(nil)
