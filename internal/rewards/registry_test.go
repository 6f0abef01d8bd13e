package rewards

import (
	"testing"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "token.test.near"

func amt(n uint64) domain.Amount {
	return domain.AmountFromUint64(n)
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	log, _ := logger.New("debug", "test")
	return NewRegistry(log)
}

// newFarm creates farm 0 paying 1000 units over [100, 200].
func newFarm(t *testing.T, r *Registry) domain.FarmView {
	t.Helper()
	view, err := r.CreateFarm("bonus", token, amt(1000), 100, 200)
	require.NoError(t, err)
	return view
}

func TestRegistry_CreateFarm(t *testing.T) {
	r := newRegistry(t)

	first := newFarm(t, r)
	assert.Equal(t, uint64(0), first.FarmID)
	assert.Equal(t, "bonus", first.Name)
	assert.Equal(t, token, first.TokenID)
	assert.Equal(t, domain.Timestamp(100), first.StartDate)

	second, err := r.CreateFarm("second", token, amt(1), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.FarmID)
	assert.Len(t, r.Farms(0), 2)
}

func TestRegistry_CreateFarmValidation(t *testing.T) {
	tests := []struct {
		name    string
		farm    string
		tokenID string
		amount  domain.Amount
		start   uint64
		end     uint64
	}{
		{name: "empty window", farm: "f", tokenID: token, amount: amt(1), start: 10, end: 10},
		{name: "inverted window", farm: "f", tokenID: token, amount: amt(1), start: 20, end: 10},
		{name: "zero amount", farm: "f", tokenID: token, amount: amt(0), start: 0, end: 10},
		{name: "missing name", farm: "", tokenID: token, amount: amt(1), start: 0, end: 10},
		{name: "missing token", farm: "f", tokenID: "", amount: amt(1), start: 0, end: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry(t)
			_, err := r.CreateFarm(tt.farm, tt.tokenID, tt.amount, tt.start, tt.end)
			assert.ErrorIs(t, err, domain.ErrInvalidFarm)
			assert.Empty(t, r.Farms(0))
		})
	}
}

func TestRegistry_AccrualFollowsWindow(t *testing.T) {
	r := newRegistry(t)
	newFarm(t, r)
	r.Settle("alice.near", amt(0), amt(0), 100)

	tests := []struct {
		at       uint64
		expected uint64
	}{
		{at: 0, expected: 0},
		{at: 100, expected: 0},
		{at: 125, expected: 250},
		{at: 150, expected: 500},
		{at: 200, expected: 1000},
		{at: 1000, expected: 1000},
	}

	var prev domain.Amount
	for _, tt := range tests {
		got, err := r.Accrue("alice.near", 0, amt(10), amt(10), tt.at)
		require.NoError(t, err)
		assert.Equal(t, amt(tt.expected).String(), got.String(), "at %d", tt.at)
		assert.False(t, got.Lt(prev), "accrual must not decrease")
		prev = got
	}
}

func TestRegistry_AccrualIsStakeWeighted(t *testing.T) {
	r := newRegistry(t)
	newFarm(t, r)
	r.Settle("alice.near", amt(0), amt(0), 100)
	r.Settle("bob.near", amt(0), amt(0), 100)

	alice, err := r.Accrue("alice.near", 0, amt(30), amt(40), 200)
	require.NoError(t, err)
	bob, err := r.Accrue("bob.near", 0, amt(10), amt(40), 200)
	require.NoError(t, err)

	assert.Equal(t, "750", alice.String())
	assert.Equal(t, "250", bob.String())
}

func TestRegistry_StakeChangeMidWindow(t *testing.T) {
	r := newRegistry(t)
	newFarm(t, r)
	r.Settle("alice.near", amt(0), amt(0), 100)

	// alice alone for the first half, bob joins with an equal stake at 150.
	r.Settle("alice.near", amt(10), amt(10), 150)
	r.Settle("bob.near", amt(0), amt(10), 150)

	alice, err := r.Accrue("alice.near", 0, amt(10), amt(20), 200)
	require.NoError(t, err)
	bob, err := r.Accrue("bob.near", 0, amt(10), amt(20), 200)
	require.NoError(t, err)

	assert.Equal(t, "750", alice.String())
	assert.Equal(t, "250", bob.String())
}

func TestRegistry_RoundingNeverOverpays(t *testing.T) {
	r := newRegistry(t)
	_, err := r.CreateFarm("odd", token, amt(10), 0, 3)
	require.NoError(t, err)

	users := []string{"a.near", "b.near", "c.near"}
	for _, u := range users {
		r.Settle(u, amt(0), amt(0), 0)
	}

	total := domain.ZeroAmount()
	for now := uint64(1); now <= 3; now++ {
		for _, u := range users {
			r.Settle(u, amt(1), amt(3), now)
		}
	}
	for _, u := range users {
		payout, err := r.Claim(u, 0, token, "", amt(1), amt(3), 3)
		require.NoError(t, err)
		total = total.MustAdd(payout.Amount)
	}

	assert.False(t, total.Gt(amt(10)))
	assert.True(t, total.Gt(amt(6)))
}

func TestRegistry_Claim(t *testing.T) {
	r := newRegistry(t)
	newFarm(t, r)
	r.Settle("alice.near", amt(0), amt(0), 100)

	payout, err := r.Claim("alice.near", 0, token, "", amt(10), amt(10), 150)
	require.NoError(t, err)
	assert.Equal(t, domain.Payout{Receiver: "alice.near", TokenID: token, Amount: amt(500)}, payout)

	left, err := r.Accrue("alice.near", 0, amt(10), amt(10), 150)
	require.NoError(t, err)
	assert.True(t, left.IsZero())

	_, err = r.Claim("alice.near", 0, token, "", amt(10), amt(10), 150)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	payout, err = r.Claim("alice.near", 0, "", "owner.near", amt(10), amt(10), 300)
	require.NoError(t, err)
	assert.Equal(t, "owner.near", payout.Receiver)
	assert.Equal(t, "500", payout.Amount.String())
}

func TestRegistry_ClaimErrors(t *testing.T) {
	r := newRegistry(t)
	newFarm(t, r)

	_, err := r.Claim("alice.near", 7, token, "", amt(10), amt(10), 150)
	assert.ErrorIs(t, err, domain.ErrUnknownFarm)

	_, err = r.Claim("alice.near", 0, "other.near", "", amt(10), amt(10), 150)
	assert.ErrorIs(t, err, domain.ErrTokenMismatch)

	_, err = r.Accrue("alice.near", 3, amt(10), amt(10), 150)
	assert.ErrorIs(t, err, domain.ErrUnknownFarm)

	assert.ErrorIs(t, r.StopFarm(3, amt(0), 150), domain.ErrUnknownFarm)
}

func TestRegistry_ClaimAll(t *testing.T) {
	r := newRegistry(t)
	newFarm(t, r)
	_, err := r.CreateFarm("extra", token, amt(100), 100, 200)
	require.NoError(t, err)
	_, err = r.CreateFarm("foreign", "other.near", amt(100), 100, 200)
	require.NoError(t, err)
	r.Settle("alice.near", amt(0), amt(0), 100)

	payouts, err := r.ClaimAll("alice.near", token, "", amt(5), amt(5), 200)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	assert.Equal(t, "1000", payouts[0].Amount.String())
	assert.Equal(t, "100", payouts[1].Amount.String())

	_, err = r.ClaimAll("alice.near", token, "", amt(5), amt(5), 200)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	_, err = r.ClaimAll("alice.near", "missing.near", "", amt(5), amt(5), 200)
	assert.ErrorIs(t, err, domain.ErrUnknownFarm)

	foreign, err := r.Accrue("alice.near", 2, amt(5), amt(5), 200)
	require.NoError(t, err)
	assert.Equal(t, "100", foreign.String(), "other tokens are left alone")
}

func TestRegistry_StopFarm(t *testing.T) {
	r := newRegistry(t)
	newFarm(t, r)
	r.Settle("alice.near", amt(0), amt(0), 100)

	active := r.ActiveFarms(150)
	require.Len(t, active, 1)
	assert.True(t, active[0].Active)

	require.NoError(t, r.StopFarm(0, amt(10), 150))
	require.NoError(t, r.StopFarm(0, amt(10), 160), "stopping twice is a no-op")

	assert.Empty(t, r.ActiveFarms(150))
	view, err := r.Farm(0, 150)
	require.NoError(t, err)
	assert.False(t, view.Active)

	got, err := r.Accrue("alice.near", 0, amt(10), amt(10), 200)
	require.NoError(t, err)
	assert.Equal(t, "500", got.String(), "accrual stops at the stop time")

	payout, err := r.Claim("alice.near", 0, token, "", amt(10), amt(10), 200)
	require.NoError(t, err)
	assert.Equal(t, "500", payout.Amount.String())
}

func TestRegistry_ActiveFarms(t *testing.T) {
	r := newRegistry(t)
	newFarm(t, r)

	assert.Empty(t, r.ActiveFarms(50), "not started")
	assert.Len(t, r.ActiveFarms(100), 1)
	assert.Len(t, r.ActiveFarms(200), 1)
	assert.Empty(t, r.ActiveFarms(201), "ended")
}

func TestRegistry_NoStakeLeavesRewardsUndistributed(t *testing.T) {
	r := newRegistry(t)
	newFarm(t, r)

	// Nobody staked during [100, 150].
	r.Settle("alice.near", amt(0), amt(0), 150)
	got, err := r.Accrue("alice.near", 0, amt(10), amt(10), 200)
	require.NoError(t, err)
	assert.Equal(t, "500", got.String())
}

func TestOnTokenTransfer(t *testing.T) {
	r := newRegistry(t)

	view, err := r.OnTokenTransfer(token, "owner.near", "owner.near", amt(500),
		`{"name":"launch","start_date":"1000","end_date":"2000"}`)
	require.NoError(t, err)
	assert.Equal(t, "launch", view.Name)
	assert.Equal(t, domain.Timestamp(1000), view.StartDate)
	assert.Equal(t, domain.Timestamp(2000), view.EndDate)
	assert.Equal(t, "500", view.Amount.String())

	_, err = r.OnTokenTransfer(token, "mallory.near", "owner.near", amt(500),
		`{"name":"launch","start_date":"1000","end_date":"2000"}`)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestParseFarmMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantErr bool
	}{
		{name: "valid", msg: `{"name":"a","start_date":"1","end_date":"2"}`},
		{name: "not json", msg: `launch`, wantErr: true},
		{name: "numeric dates", msg: `{"name":"a","start_date":1,"end_date":2}`, wantErr: true},
		{name: "bad start", msg: `{"name":"a","start_date":"x","end_date":"2"}`, wantErr: true},
		{name: "bad end", msg: `{"name":"a","start_date":"1","end_date":"-2"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFarmMessage(tt.msg)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidFarm)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
