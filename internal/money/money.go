// Package money holds the fee and total calculations. Everything here is
// pure: same input, same output, no I/O.
package money

import "math"

var (
	feeRate  = 0.029
	fixedFee = 0.30
)

// Configure overrides the default fee schedule. Called once at startup from
// config; tests rely on the defaults.
func Configure(rate, fixed float64) {
	feeRate = rate
	fixedFee = fixed
}

func FeeRate() float64 {
	return feeRate
}

func FixedFee() float64 {
	return fixedFee
}

// Round2 rounds to 2 decimal places, half away from zero. Applied at every
// computation boundary so repeated derivations cannot drift.
func Round2(v float64) float64 {
	if v < 0 {
		return -math.Floor(-v*100+0.5) / 100
	}
	return math.Floor(v*100+0.5) / 100
}

// ProcessingFee returns the fee charged on top of a base amount.
func ProcessingFee(base float64) float64 {
	return Round2(base*feeRate + fixedFee)
}

// TotalWithFee returns base plus its processing fee.
func TotalWithFee(base float64) float64 {
	return Round2(base + ProcessingFee(base))
}

// ClampBalance keeps a recomputed balance non-negative; overpayments never
// drive an order's balance below zero.
func ClampBalance(total, paid float64) float64 {
	balance := Round2(total - paid)
	if balance < 0 {
		return 0
	}
	return balance
}
