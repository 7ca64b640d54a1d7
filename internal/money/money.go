// Package money holds the rounding rules shared by every ledger computation.
// Amounts are decimal values in the fund's currency; binary floating point is
// never used for money.
package money

import "github.com/shopspring/decimal"

// Unit is the smallest amount the fund settles in.
var Unit = decimal.NewFromInt(25)

// ShareScale is the number of fractional digits kept when computing
// intermediate pro-rata quotients.
const ShareScale int32 = 10

// FloorToUnit returns the largest multiple of unit that is <= amount.
// Non-positive amounts (and a non-positive unit) yield zero.
func FloorToUnit(amount, unit decimal.Decimal) decimal.Decimal {
	if amount.Sign() <= 0 || unit.Sign() <= 0 {
		return decimal.Zero
	}
	q, _ := amount.QuoRem(unit, 0)
	return q.Mul(unit)
}

// Round2 rounds half-up to two decimals.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// DivFloor divides a by b keeping places fractional digits, truncating the
// rest. b must be non-zero.
func DivFloor(a, b decimal.Decimal, places int32) decimal.Decimal {
	q, _ := a.QuoRem(b, places)
	return q
}

// Sum adds up amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
