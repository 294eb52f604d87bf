// Package money holds the exact-decimal arithmetic used by the settlement
// engine. All amounts are shopspring decimals; binary floats never touch
// money. Rounding is round-half-up to the account's currency precision and
// happens at exactly one point in the settlement pipeline.
package money

import (
	"github.com/shopspring/decimal"
)

// Hundred is the share-space scale: percentages are expressed out of 100.
var Hundred = decimal.NewFromInt(100)

// AutoCloseThreshold is the minimum exposure amount that is still treated as
// open. A remainder below this closes the snapshot exactly.
var AutoCloseThreshold = decimal.RequireFromString("0.01")

// Epsilon is the tolerance used by the invariant auditor.
var Epsilon = decimal.RequireFromString("0.01")

func init() {
	// Share-space to capital-space conversion divides by the total share
	// percentage, which is frequently a non-terminating quotient (e.g. /3).
	// Keep enough digits that the single rounding point absorbs it.
	decimal.DivisionPrecision = 28
}

// RoundHalfUp rounds d to the given number of decimal places, half away from
// zero. Amounts in this system are non-negative, so this is round-half-up.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// Normalize returns the canonical fixed-precision string form of an amount,
// used when deriving idempotency keys so that "3", "3.0" and "3.00" collide.
func Normalize(d decimal.Decimal, places int32) string {
	return d.Round(places).StringFixed(places)
}

// ShareToCapital converts a share-space payment into the capital-space amount
// it pays down: payment * 100 / totalPct. The result is unrounded.
func ShareToCapital(payment, totalPct decimal.Decimal) decimal.Decimal {
	return payment.Mul(Hundred).Div(totalPct)
}

// CapitalToShare converts a capital-space amount into share space:
// amount * pct / 100. The result is unrounded.
func CapitalToShare(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(Hundred)
}

// WithinEpsilon reports whether |a-b| <= Epsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// MaxZero returns d if positive, zero otherwise.
func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
