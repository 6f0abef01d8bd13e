package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_CanWithdraw(t *testing.T) {
	var acc Account
	assert.True(t, acc.Unlocked(0, DefaultUnbondingEpochs), "fresh account has nothing locked")
	assert.False(t, acc.CanWithdraw(0, DefaultUnbondingEpochs), "nothing to withdraw")

	acc.UnstakedBalance = Near(5)
	assert.True(t, acc.CanWithdraw(0, DefaultUnbondingEpochs))

	epoch := uint64(10)
	acc.UnstakeEpoch = &epoch
	for e := uint64(10); e < 14; e++ {
		assert.False(t, acc.Unlocked(e, DefaultUnbondingEpochs), "epoch %d", e)
		assert.False(t, acc.CanWithdraw(e, DefaultUnbondingEpochs), "epoch %d", e)
	}
	assert.True(t, acc.CanWithdraw(14, DefaultUnbondingEpochs))
	assert.True(t, acc.CanWithdraw(20, DefaultUnbondingEpochs))

	acc.UnstakedBalance = ZeroAmount()
	assert.True(t, acc.Unlocked(20, DefaultUnbondingEpochs))
	assert.False(t, acc.CanWithdraw(20, DefaultUnbondingEpochs), "unlocked but empty")
}

func TestAccount_TotalAndClone(t *testing.T) {
	epoch := uint64(3)
	acc := Account{StakedBalance: Near(900), UnstakedBalance: Near(100), UnstakeEpoch: &epoch}
	assert.True(t, acc.Total().Eq(Near(1000)))

	clone := acc.Clone()
	*clone.UnstakeEpoch = 7
	assert.Equal(t, uint64(3), *acc.UnstakeEpoch)
}

func TestAccountView_JSON(t *testing.T) {
	view := AccountView{
		AccountID:       "alice.test.near",
		UnstakedBalance: Near(800),
		StakedBalance:   Near(200),
		CanWithdraw:     true,
	}

	data, err := json.Marshal(view)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "alice.test.near", raw["account_id"])
	assert.Equal(t, "800000000000000000000000000", raw["unstaked_balance"])
	assert.Equal(t, "200000000000000000000000000", raw["staked_balance"])
	assert.Equal(t, true, raw["can_withdraw"])
}

func TestFarmView_TimestampsAreStrings(t *testing.T) {
	view := FarmView{FarmID: 0, Name: "Test", TokenID: "token.test.near", Amount: Near(5), StartDate: 3, EndDate: 100, Active: true}

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"start_date":"3"`)
	assert.Contains(t, string(data), `"end_date":"100"`)

	var decoded FarmView
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, Timestamp(100), decoded.EndDate)
}

func TestRatio_Validate(t *testing.T) {
	assert.NoError(t, Ratio{Numerator: 1, Denominator: 2}.Validate())
	assert.Error(t, Ratio{Numerator: 1, Denominator: 0}.Validate())
	assert.Error(t, Ratio{Numerator: 3, Denominator: 2}.Validate())
}
