package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/ledger"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/testutil"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	alice = "alice.test.near"
	bob   = "bob.test.near"
	token = "token.test.near"
)

func newMockService(t *testing.T, journal domain.JournalRepository) (*Service, *testutil.MockLedger) {
	t.Helper()
	log, _ := logger.New("debug", "test")
	contracts := testutil.TestContracts()
	chainCfg := testutil.TestChain()
	mockLedger := new(testutil.MockLedger)
	return NewService(mockLedger, journal, &contracts, &chainCfg, log), mockLedger
}

func newSandboxService(t *testing.T, journal domain.JournalRepository) (*Service, *ledger.Sandbox) {
	t.Helper()
	log, _ := logger.New("debug", "test")
	contracts := testutil.TestContracts()
	chainCfg := testutil.TestChain()
	sb, err := ledger.NewSandbox(chainCfg, contracts, testutil.Genesis, log)
	require.NoError(t, err)
	return NewService(sb, journal, &contracts, &chainCfg, log), sb
}

func TestService_StakeEncodesArguments(t *testing.T) {
	service, mockLedger := newMockService(t, nil)
	farmID := testutil.TestContracts().FarmID

	mockLedger.On("Call", mock.Anything, mock.MatchedBy(func(req domain.CallRequest) bool {
		return req.Signer == alice &&
			req.Receiver == farmID &&
			req.Method == domain.MethodStake &&
			string(req.Args) == `{"amount":"5"}` &&
			req.Deposit.IsZero() &&
			req.Gas == DefaultGas
	})).Return(testutil.SuccessResult(farmID), nil)

	require.NoError(t, service.Stake(context.Background(), alice, domain.AmountFromUint64(5)))
	mockLedger.AssertExpectations(t)
}

func TestService_DepositAttachesAmount(t *testing.T) {
	service, mockLedger := newMockService(t, nil)

	mockLedger.On("Call", mock.Anything, mock.MatchedBy(func(req domain.CallRequest) bool {
		return req.Method == domain.MethodDepositAndStake && req.Deposit.Eq(domain.Near(10)) && len(req.Args) == 0
	})).Return(testutil.SuccessResult(), nil)

	require.NoError(t, service.DepositAndStake(context.Background(), alice, domain.Near(10)))
	mockLedger.AssertExpectations(t)
}

func TestService_CallFailures(t *testing.T) {
	farmID := testutil.TestContracts().FarmID
	validatorID := testutil.TestContracts().ValidatorID

	tests := []struct {
		name   string
		result *domain.ExecutionResult
		err    error
		target error
	}{
		{
			name:   "top-level failure",
			result: testutil.FailureResult(domain.ErrInsufficientStakedBalance),
			target: domain.ErrInsufficientStakedBalance,
		},
		{
			name: "receipt failure under success",
			result: &domain.ExecutionResult{
				Status: domain.StatusSuccess,
				Receipts: []domain.ReceiptOutcome{
					{Receiver: farmID, Status: domain.StatusSuccess},
					{Receiver: validatorID, Status: domain.StatusFailure, Failure: domain.NewExecutionError(domain.ErrWithdrawalLocked)},
				},
			},
			target: domain.ErrWithdrawalLocked,
		},
		{
			name:   "transport error",
			err:    errors.New("connection refused"),
			target: domain.ErrLedgerCallFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, mockLedger := newMockService(t, nil)
			if tt.err != nil {
				mockLedger.On("Call", mock.Anything, mock.Anything).Return(nil, tt.err)
			} else {
				mockLedger.On("Call", mock.Anything, mock.Anything).Return(tt.result, nil)
			}

			err := service.Unstake(context.Background(), alice, domain.Near(1))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrLedgerCallFailed)
			assert.ErrorIs(t, err, tt.target)

			var callErr *domain.LedgerCallError
			require.True(t, errors.As(err, &callErr))
			assert.Equal(t, domain.MethodUnstake, callErr.Method)
		})
	}
}

func TestService_ViewDecodesResult(t *testing.T) {
	service, mockLedger := newMockService(t, nil)

	mockLedger.On("View", mock.Anything, domain.ViewRequest{
		Receiver: testutil.TestContracts().FarmID,
		Method:   domain.ViewGetAccountStakedBalance,
		Args:     testutil.MustJSON(t, domain.AccountArgs{AccountID: alice}),
	}).Return(json.RawMessage(`"42"`), nil)

	amount, err := service.GetAccountStakedBalance(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "42", amount.String())
	mockLedger.AssertExpectations(t)
}

func TestService_ViewErrors(t *testing.T) {
	service, mockLedger := newMockService(t, nil)

	mockLedger.On("View", mock.Anything, mock.MatchedBy(func(req domain.ViewRequest) bool {
		return req.Method == domain.ViewGetPoolSummary
	})).Return(nil, domain.ErrUnknownMethod)
	mockLedger.On("View", mock.Anything, mock.MatchedBy(func(req domain.ViewRequest) bool {
		return req.Method == domain.ViewIsContractCanWithdraw
	})).Return(json.RawMessage(`"not a bool"`), nil)

	_, err := service.GetPoolSummary(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnknownMethod)

	_, err = service.IsContractCanWithdraw(context.Background())
	assert.Error(t, err)
}

func TestService_DepositStakeUnstakeWithdraw(t *testing.T) {
	ctx := context.Background()
	service, sb := newSandboxService(t, nil)

	require.NoError(t, service.DepositAndStake(ctx, alice, domain.Near(10)))
	require.NoError(t, service.Unstake(ctx, alice, domain.Near(4)))

	available, err := service.IsAccountUnstakedBalanceAvailable(ctx, alice)
	require.NoError(t, err)
	assert.False(t, available)

	err = service.Withdraw(ctx, alice, domain.Near(4))
	assert.ErrorIs(t, err, domain.ErrWithdrawalLocked)

	blocks, err := service.WaitEpochs(ctx, int(domain.DefaultUnbondingEpochs))
	require.NoError(t, err)
	assert.Positive(t, blocks)

	epoch, err := service.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultUnbondingEpochs, epoch)

	available, err = service.IsAccountUnstakedBalanceAvailable(ctx, alice)
	require.NoError(t, err)
	assert.True(t, available)

	canWithdraw, err := service.IsContractCanWithdraw(ctx)
	require.NoError(t, err)
	assert.True(t, canWithdraw)

	require.NoError(t, service.Withdraw(ctx, alice, domain.Near(4)))

	account, err := service.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.Near(6).String(), account.StakedBalance.String())
	assert.True(t, account.UnstakedBalance.IsZero())

	total, err := service.GetAccountTotalBalance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.Near(6).String(), total.String())

	delegation, err := service.GetDelegation(ctx)
	require.NoError(t, err)
	assert.Equal(t, account.StakedBalance.String(), delegation.StakedBalance.String())
	assert.Equal(t, sb.Farm().TotalStaked().String(), delegation.StakedBalance.String())

	summary, err := service.GetPoolSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestContracts().Owner, summary.Owner)
	assert.Equal(t, domain.Near(6).String(), summary.TotalStakedBalance.String())
}

func TestService_AllVariants(t *testing.T) {
	ctx := context.Background()
	service, _ := newSandboxService(t, nil)

	require.NoError(t, service.Deposit(ctx, bob, domain.Near(3)))
	require.NoError(t, service.StakeAll(ctx, bob))
	require.NoError(t, service.UnstakeAll(ctx, bob))

	unstaked, err := service.GetAccountUnstakedBalance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.Near(3).String(), unstaked.String())

	_, err = service.WaitEpochs(ctx, int(domain.DefaultUnbondingEpochs))
	require.NoError(t, err)
	require.NoError(t, service.WithdrawAll(ctx, bob))

	account, err := service.GetAccount(ctx, bob)
	require.NoError(t, err)
	assert.True(t, account.Total().IsZero())
}

func TestService_RewardFarm(t *testing.T) {
	ctx := context.Background()
	service, _ := newSandboxService(t, nil)

	require.NoError(t, service.DepositAndStake(ctx, alice, domain.Near(10)))

	farm, err := service.CreateDefaultFarm(ctx, token, "test", domain.AmountFromUint64(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), farm.FarmID)
	assert.Equal(t, token, farm.TokenID)
	assert.Equal(t, farm.StartDate+domain.Timestamp(farmDuration.Nanoseconds()), farm.EndDate)

	// 3s delay plus 50s of the 100s window.
	require.NoError(t, service.AdvanceBlocks(ctx, 53))

	reward, err := service.GetUnclaimedReward(ctx, alice, farm.FarmID)
	require.NoError(t, err)
	assert.Equal(t, "500", reward.String())

	active, err := service.GetActiveFarms(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	payout, err := service.ClaimFarm(ctx, alice, farm.FarmID, token, "")
	require.NoError(t, err)
	assert.Equal(t, alice, payout.Receiver)
	assert.Equal(t, "500", payout.Amount.String())

	_, err = service.ClaimFarm(ctx, alice, farm.FarmID, token, "")
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	require.NoError(t, service.StopFarm(ctx, testutil.TestContracts().Owner, farm.FarmID))
	active, err = service.GetActiveFarms(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	farms, err := service.GetFarms(ctx)
	require.NoError(t, err)
	assert.Len(t, farms, 1)
}

func TestService_StopFarmRequiresOwner(t *testing.T) {
	ctx := context.Background()
	service, _ := newSandboxService(t, nil)

	farm, err := service.CreateDefaultFarm(ctx, token, "test", domain.AmountFromUint64(1000))
	require.NoError(t, err)

	err = service.StopFarm(ctx, alice, farm.FarmID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestService_JournalBatches(t *testing.T) {
	ctx := context.Background()
	journal := testutil.NewMemoryJournal()
	service, _ := newSandboxService(t, journal)

	require.NoError(t, service.DepositAndStake(ctx, alice, domain.Near(10)))
	assert.Error(t, service.Withdraw(ctx, alice, domain.Near(20)))

	entries, err := journal.FindByRun(ctx, service.RunID())
	require.NoError(t, err)
	assert.Empty(t, entries, "entries stay buffered until flushed")

	counts, err := service.JournalSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.StatusSuccess])
	assert.Equal(t, int64(1), counts[domain.StatusFailure])

	entries, err = journal.FindByRun(ctx, service.RunID())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, alice, e.Signer)
		if e.Status == domain.StatusFailure {
			assert.Equal(t, domain.CodeInsufficientUnstakedBalance, e.ErrorCode)
			assert.Equal(t, domain.MethodWithdraw, e.Method)
		} else {
			assert.Equal(t, domain.Near(10).String(), e.Deposit)
		}
	}
}

func TestService_JournalFlushesWhenFull(t *testing.T) {
	mockJournal := new(testutil.MockJournalRepository)
	service, mockLedger := newMockService(t, mockJournal)

	mockLedger.On("Call", mock.Anything, mock.Anything).Return(testutil.SuccessResult(), nil)
	mockLedger.On("CurrentEpoch", mock.Anything).Return(uint64(3), nil)
	mockJournal.On("SaveBatch", mock.Anything, mock.MatchedBy(func(entries []domain.JournalEntry) bool {
		return len(entries) == journalBatchSize && entries[0].Epoch == 3
	})).Return(nil).Once()

	for i := 0; i < journalBatchSize; i++ {
		require.NoError(t, service.StakeAll(context.Background(), alice))
	}

	mockJournal.AssertExpectations(t)
	require.NoError(t, service.Flush(context.Background()))
}

func TestService_FlushError(t *testing.T) {
	mockJournal := new(testutil.MockJournalRepository)
	service, mockLedger := newMockService(t, mockJournal)

	mockLedger.On("Call", mock.Anything, mock.Anything).Return(testutil.SuccessResult(), nil)
	mockLedger.On("CurrentEpoch", mock.Anything).Return(uint64(0), nil)
	mockJournal.On("SaveBatch", mock.Anything, mock.Anything).Return(errors.New("db down"))

	require.NoError(t, service.StakeAll(context.Background(), alice))
	assert.Error(t, service.Flush(context.Background()))
}

func TestService_MissingSigner(t *testing.T) {
	service, _ := newSandboxService(t, nil)

	err := service.Deposit(context.Background(), "", domain.Near(1))
	assert.ErrorIs(t, err, domain.ErrLedgerCallFailed)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
