package fixed

import (
	"errors"
	"math/big"
)

// Wad is the fixed-point scale for rates and the exchange rate: 1.0 == 1e18.
// DoubleWad is the scale for the supply reward index: 1.0 == 1e36.
var (
	Wad       = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	DoubleWad = new(big.Int).Exp(big.NewInt(10), big.NewInt(36), nil)
)

var ErrNegativeAmount = errors.New("fixed: negative amount")

// MulWad computes a * b / 1e18 with truncating division. Truncation biases
// value toward the pool for every formula in the accrual and settlement
// paths, so dust accumulates in reserves and never leaks to users.
func MulWad(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, Wad)
}

// DivWad computes a * 1e18 / b, truncating. b must be nonzero.
func DivWad(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, Wad)
	return out.Quo(out, b)
}

// MulDiv computes a * b / denom, truncating. denom must be nonzero.
func MulDiv(a, b, denom *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, denom)
}

// MulDouble computes a * b / 1e36, truncating. Used when applying a
// reward-index delta to a deposited balance.
func MulDouble(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, DoubleWad)
}

// FromWholeUnits returns n token units scaled to base units at 18 decimals.
// Test and fixture helper.
func FromWholeUnits(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Wad)
}

// Clone returns a defensive copy. Nil is treated as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// CheckNonNegative returns ErrNegativeAmount if any value is negative.
// Negative intermediates are arithmetic faults and abort the whole event.
func CheckNonNegative(vals ...*big.Int) error {
	for _, v := range vals {
		if v != nil && v.Sign() < 0 {
			return ErrNegativeAmount
		}
	}
	return nil
}

// Min returns the smaller of a and b as a new value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b as a new value.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
