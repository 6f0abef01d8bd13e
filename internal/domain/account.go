package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// DefaultUnbondingEpochs is the number of epochs an unstaked balance stays
// locked after the most recent unstake.
const DefaultUnbondingEpochs uint64 = 4

// Account is the balance record of one delegator on one ledger. A zero value
// is a valid, empty account.
type Account struct {
	StakedBalance   Amount
	UnstakedBalance Amount
	// UnstakeEpoch is the epoch of the most recent unstake, nil if none is pending.
	UnstakeEpoch *uint64
}

func (a Account) Total() Amount {
	return a.StakedBalance.MustAdd(a.UnstakedBalance)
}

// Unlocked reports whether the unbonding delay since the most recent unstake
// has passed at epoch. An account with no pending unstake is unlocked.
func (a Account) Unlocked(epoch, unbondingEpochs uint64) bool {
	if a.UnstakeEpoch == nil {
		return true
	}
	return epoch >= *a.UnstakeEpoch+unbondingEpochs
}

// CanWithdraw reports whether there is an unstaked balance and it is unlocked
// at epoch.
func (a Account) CanWithdraw(epoch, unbondingEpochs uint64) bool {
	return !a.UnstakedBalance.IsZero() && a.Unlocked(epoch, unbondingEpochs)
}

func (a Account) Clone() Account {
	out := a
	if a.UnstakeEpoch != nil {
		e := *a.UnstakeEpoch
		out.UnstakeEpoch = &e
	}
	return out
}

// AccountView is the public projection returned by get_account.
type AccountView struct {
	AccountID       string `json:"account_id"`
	UnstakedBalance Amount `json:"unstaked_balance"`
	StakedBalance   Amount `json:"staked_balance"`
	CanWithdraw     bool   `json:"can_withdraw"`
}

func (v AccountView) Total() Amount {
	return v.StakedBalance.MustAdd(v.UnstakedBalance)
}

type Ratio struct {
	Numerator   uint32 `json:"numerator"`
	Denominator uint32 `json:"denominator"`
}

func (r Ratio) Validate() error {
	if r.Denominator == 0 || r.Numerator > r.Denominator {
		return fmt.Errorf("%w: ratio %d/%d", ErrInvalidArgument, r.Numerator, r.Denominator)
	}
	return nil
}

// Timestamp is a nanosecond block timestamp, encoded as a decimal string.
type Timestamp uint64

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(t), 10))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: timestamps must be decimal strings", ErrInvalidArgument)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrInvalidArgument, s)
	}
	*t = Timestamp(v)
	return nil
}

type FarmView struct {
	FarmID    uint64    `json:"farm_id"`
	Name      string    `json:"name"`
	TokenID   string    `json:"token_id"`
	Amount    Amount    `json:"amount"`
	StartDate Timestamp `json:"start_date"`
	EndDate   Timestamp `json:"end_date"`
	Active    bool      `json:"active"`
}

// PoolSummary is a read-only projection of the staking farm. It has no
// storage of its own.
type PoolSummary struct {
	Owner                 string     `json:"owner"`
	TotalStakedBalance    Amount     `json:"total_staked_balance"`
	RewardFeeFraction     Ratio      `json:"reward_fee_fraction"`
	NextRewardFeeFraction Ratio      `json:"next_reward_fee_fraction"`
	Farms                 []FarmView `json:"farms"`
}

// Payout is a value transfer leaving the ledger model.
type Payout struct {
	Receiver string `json:"receiver"`
	TokenID  string `json:"token_id"`
	Amount   Amount `json:"amount"`
}
