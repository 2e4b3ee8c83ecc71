// Package numeric provides the fixed-point helpers that every monetary
// computation in the engine routes through. All values are base-10 decimals
// carried at 18 fraction digits using shopspring/decimal; float64 is never
// used for money or quantities.
//
// Rounding policy: amounts charged to the paying side (fees, reserved
// notional) round up so the exchange is never short; matched proceeds round
// half up to the nearest representable value.
package numeric

import "github.com/shopspring/decimal"

// Scale is the number of fraction digits carried by every monetary value.
const Scale = 18

// bpsDivisor converts basis points to a fraction: bps * 1e-4.
var bpsScale = int32(-4)

// MulCeil multiplies a and b and rounds the product up at Scale digits.
// Used for amounts the paying side is charged.
func MulCeil(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).RoundCeil(Scale)
}

// MulHalfUp multiplies a and b and rounds half up at Scale digits.
// Used for matched proceeds.
func MulHalfUp(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Round(Scale)
}

// SubFloor subtracts b from a, saturating at zero. Remaining quantities and
// hold balances are non-negative by invariant; saturation keeps rounding
// residue from ever driving them below zero.
func SubFloor(a, b decimal.Decimal) decimal.Decimal {
	r := a.Sub(b)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// IsMultipleOf reports whether v is an exact multiple of step.
// step must be positive.
func IsMultipleOf(v, step decimal.Decimal) bool {
	if !step.IsPositive() {
		return false
	}
	return v.Mod(step).IsZero()
}

// Fee computes a basis-points fee, rounded up: ceil(amount * bps / 10_000).
// The division by 10^4 is an exact exponent shift, so the only rounding is
// the final ceiling.
func Fee(amount decimal.Decimal, bps int64) decimal.Decimal {
	if bps == 0 || !amount.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(decimal.New(bps, bpsScale)).RoundCeil(Scale)
}
