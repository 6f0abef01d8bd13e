package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Amount is an unsigned 128-bit token amount. It crosses every external
// boundary as a decimal string.
type Amount struct {
	v uint256.Int
}

var (
	maxAmount    = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
	yoctoPerNear = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(24))
)

func ZeroAmount() Amount {
	return Amount{}
}

func AmountFromUint64(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// Near converts whole NEAR into yocto units. Panics when the result does not
// fit in 128 bits.
func Near(n uint64) Amount {
	var a Amount
	a.v.Mul(uint256.NewInt(n), yoctoPerNear)
	if a.v.Gt(maxAmount) {
		panic(fmt.Sprintf("domain: %d NEAR overflows u128", n))
	}
	return a
}

// AmountFromUint256 narrows a 256-bit value, failing if it exceeds u128.
func AmountFromUint256(x *uint256.Int) (Amount, error) {
	if x.Gt(maxAmount) {
		return Amount{}, ErrAmountOverflow
	}
	var a Amount
	a.v.Set(x)
	return a, nil
}

func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return Amount{}, fmt.Errorf("%w: %q is not a decimal integer", ErrInvalidAmount, s)
		}
	}

	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrAmountOverflow, s)
	}
	return AmountFromUint256(v)
}

func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string {
	return a.v.Dec()
}

func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

func (a Amount) Lt(b Amount) bool {
	return a.v.Lt(&b.v)
}

func (a Amount) Gt(b Amount) bool {
	return a.v.Gt(&b.v)
}

func (a Amount) Eq(b Amount) bool {
	return a.v.Eq(&b.v)
}

// Uint256 returns a copy of the underlying value.
func (a Amount) Uint256() *uint256.Int {
	return new(uint256.Int).Set(&a.v)
}

func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow || out.v.Gt(maxAmount) {
		return Amount{}, ErrAmountOverflow
	}
	return out, nil
}

func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	if _, underflow := out.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, fmt.Errorf("%w: %s - %s underflows", ErrInvalidAmount, a, b)
	}
	return out, nil
}

// MustAdd and MustSub are for callers that have already checked bounds.
func (a Amount) MustAdd(b Amount) Amount {
	out, err := a.Add(b)
	if err != nil {
		panic(err)
	}
	return out
}

func (a Amount) MustSub(b Amount) Amount {
	out, err := a.Sub(b)
	if err != nil {
		panic(err)
	}
	return out
}

// MulDiv computes a*num/den rounding down.
func (a Amount) MulDiv(num, den Amount) (Amount, error) {
	if den.IsZero() {
		return Amount{}, fmt.Errorf("%w: division by zero", ErrInvalidAmount)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(&a.v, &num.v, &den.v)
	if overflow {
		return Amount{}, ErrAmountOverflow
	}
	return AmountFromUint256(out)
}

func MinAmount(a, b Amount) Amount {
	if a.Lt(b) {
		return a
	}
	return b
}

func SumAmounts(amounts ...Amount) (Amount, error) {
	total := ZeroAmount()
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return Amount{}, err
		}
	}
	return total, nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: amounts must be decimal strings", ErrInvalidAmount)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
