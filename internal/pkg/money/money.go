// Package money handles amounts stored as integer minor units (cents).
package money

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Format renders cents as a decimal string with two fraction digits.
func Format(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// Parse converts a decimal string ("12", "12.5", "12.50") into cents.
// More than two fraction digits are rejected rather than rounded.
func Parse(s string) (int64, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	r.Mul(r, big.NewRat(100, 1))
	if !r.IsInt() {
		return 0, fmt.Errorf("%w: %q has more than two decimals", ErrInvalidAmount, s)
	}
	n := r.Num()
	if !n.IsInt64() {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return n.Int64(), nil
}

// Percent returns pct percent of amount, rounded to the nearest cent.
func Percent(amount int64, pct float64) int64 {
	return int64(math.Round(float64(amount) * pct / 100))
}
