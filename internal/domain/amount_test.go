package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"Zero", "0", "0", nil},
		{"Plain integer", "1000", "1000", nil},
		{"Surrounding whitespace", " 42 ", "42", nil},
		{"Max u128", "340282366920938463463374607431768211455", "340282366920938463463374607431768211455", nil},
		{"Just above u128", "340282366920938463463374607431768211456", "", ErrAmountOverflow},
		{"Above u256", "1" + strings.Repeat("0", 81), "", ErrAmountOverflow},
		{"Empty", "", "", ErrInvalidAmount},
		{"Negative", "-1", "", ErrInvalidAmount},
		{"Decimal point", "1.5", "", ErrInvalidAmount},
		{"Hex", "0x10", "", ErrInvalidAmount},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAmount(tc.input)
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestNear(t *testing.T) {
	assert.Equal(t, "1000000000000000000000000", Near(1).String())
	assert.Equal(t, "1000000000000000000000000000", Near(1000).String())
	assert.True(t, Near(0).IsZero())
	assert.Panics(t, func() { Near(1 << 63) })
}

func TestAmount_Arithmetic(t *testing.T) {
	a := Near(1000)
	b := Near(200)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.True(t, sum.Eq(Near(1200)))

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.True(t, diff.Eq(Near(800)))

	_, err = b.Sub(a)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	max := MustParseAmount("340282366920938463463374607431768211455")
	_, err = max.Add(AmountFromUint64(1))
	assert.ErrorIs(t, err, ErrAmountOverflow)

	assert.True(t, b.Lt(a))
	assert.True(t, a.Gt(b))
	assert.Equal(t, 0, a.Cmp(Near(1000)))
	assert.True(t, MinAmount(a, b).Eq(b))
}

func TestAmount_MulDiv(t *testing.T) {
	got, err := AmountFromUint64(1000).MulDiv(AmountFromUint64(1), AmountFromUint64(3))
	require.NoError(t, err)
	assert.Equal(t, "333", got.String())

	// Intermediate product exceeds 128 bits but the result fits.
	max := MustParseAmount("340282366920938463463374607431768211455")
	got, err = max.MulDiv(max, max)
	require.NoError(t, err)
	assert.True(t, got.Eq(max))

	_, err = max.MulDiv(AmountFromUint64(2), AmountFromUint64(1))
	assert.ErrorIs(t, err, ErrAmountOverflow)

	_, err = max.MulDiv(AmountFromUint64(1), ZeroAmount())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSumAmounts(t *testing.T) {
	total, err := SumAmounts(Near(1), Near(2), Near(3))
	require.NoError(t, err)
	assert.True(t, total.Eq(Near(6)))

	total, err = SumAmounts()
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestAmount_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Amount Amount `json:"amount"`
	}{Near(5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"5000000000000000000000000"}`, string(data))

	var decoded struct {
		Amount Amount `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"123"}`), &decoded))
	assert.Equal(t, "123", decoded.Amount.String())

	// Numbers lose precision in text interchange and are rejected.
	err = json.Unmarshal([]byte(`{"amount":123}`), &decoded)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
