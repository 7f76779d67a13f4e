// internal/domain/amount.go
package domain

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Amounts are base units held in 256-bit unsigned integers. All arithmetic
// fails closed with an ArithmeticFault instead of wrapping.

// Zero returns a fresh zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Add returns x+y.
func Add(field string, x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, NewError(KindArithmeticFault, field, "addition overflow")
	}
	return z, nil
}

// Sub returns x-y.
func Sub(field string, x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, NewError(KindArithmeticFault, field, "subtraction underflow (%s - %s)", x.Dec(), y.Dec())
	}
	return z, nil
}

// Mul returns x*y.
func Mul(field string, x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, NewError(KindArithmeticFault, field, "multiplication overflow")
	}
	return z, nil
}

// CeilDiv returns ceil(x/y).
func CeilDiv(field string, x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, NewError(KindArithmeticFault, field, "division by zero")
	}
	q := new(uint256.Int).Div(x, y)
	if !new(uint256.Int).Mod(x, y).IsZero() {
		q.AddUint64(q, 1)
	}
	return q, nil
}

// MinAmount returns the smaller of x and y.
func MinAmount(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return x.Clone()
	}
	return y.Clone()
}

// ToDecimal converts base units into whole units.
func ToDecimal(x *uint256.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(x.ToBig(), -int32(decimals))
}

// FromDecimal converts whole units into base units, truncating any dust below
// one base unit. Negative values are rejected.
func FromDecimal(field string, d decimal.Decimal, decimals uint8) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, NewError(KindValidation, field, "negative amount %s", d.String())
	}
	base := d.Shift(int32(decimals)).Floor()
	z, overflow := uint256.FromBig(base.BigInt())
	if overflow {
		return nil, NewError(KindArithmeticFault, field, "amount %s does not fit in 256 bits", d.String())
	}
	return z, nil
}

// PercentOf returns floor(x * pct / 100).
func PercentOf(field string, x *uint256.Int, pct decimal.Decimal) (*uint256.Int, error) {
	if pct.IsNegative() {
		return nil, NewError(KindValidation, field, "negative percent %s", pct.String())
	}
	v := decimal.NewFromBigInt(x.ToBig(), 0).Mul(pct).Div(hundred).Floor()
	z, overflow := uint256.FromBig(v.BigInt())
	if overflow {
		return nil, NewError(KindArithmeticFault, field, "percent result overflow")
	}
	return z, nil
}

var hundred = decimal.NewFromInt(100)
