package model

import (
	"math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Round2 rounds an amount to cents, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns rate% of amount, rounded to cents.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(rate).Div(hundred))
}

// Float renders an amount as a float rounded to cents for JSON payloads.
func Float(d decimal.Decimal) float64 {
	return Round2(d).InexactFloat64()
}

// FromFloat converts a caller-supplied float. NaN and ±Inf are rejected
// because they cannot be represented as money.
func FromFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

// LineTotal derives qty × price.
func LineTotal(qty int, price decimal.Decimal) decimal.Decimal {
	return Round2(price.Mul(decimal.NewFromInt(int64(qty))))
}
