// Package money wraps exact decimal arithmetic for monetary amounts.
// Every balance comparison and mutation in the engine goes through this
// package; binary floating point is never used for money.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a monetary string cannot be parsed
// as an exact decimal.
var ErrInvalidAmount = errors.New("invalid amount")

// Parse converts the canonical string representation of an amount into
// an exact decimal.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// MustParse is Parse for trusted literals, panicking on malformed input.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic("money: " + s + " is not a valid amount")
	}
	return d
}

// Add returns a + b.
func Add(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b)
}

// Sub returns a - b.
func Sub(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b)
}

// Cmp compares two amounts: -1 if a < b, 0 if equal, +1 if a > b.
func Cmp(a, b decimal.Decimal) int {
	return a.Cmp(b)
}

// IsPositive reports whether the amount is strictly greater than zero.
func IsPositive(a decimal.Decimal) bool {
	return a.IsPositive()
}
