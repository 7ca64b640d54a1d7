package domain

import "github.com/shopspring/decimal"

// CeilingTier maps a savings interval [MinSavings, MaxSavings) to a borrowing
// multiplier. A nil MaxSavings makes the tier open-ended and a nil Cap means
// the ceiling is not capped.
type CeilingTier struct {
	Position   int              `json:"position" yaml:"position"`
	MinSavings decimal.Decimal  `json:"min_savings" yaml:"min_savings"`
	MaxSavings *decimal.Decimal `json:"max_savings,omitempty" yaml:"max_savings,omitempty"`
	Multiplier decimal.Decimal  `json:"multiplier" yaml:"multiplier"`
	Cap        *decimal.Decimal `json:"cap,omitempty" yaml:"cap,omitempty"`
}

// Contains reports whether savings falls inside the tier.
func (t CeilingTier) Contains(savings decimal.Decimal) bool {
	if savings.LessThan(t.MinSavings) {
		return false
	}
	return t.MaxSavings == nil || savings.LessThan(*t.MaxSavings)
}

func amountPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// DefaultCeilingTiers returns the fund's reference tier table.
func DefaultCeilingTiers() []CeilingTier {
	return []CeilingTier{
		{Position: 1, MinSavings: decimal.Zero, MaxSavings: amountPtr(500_000), Multiplier: decimal.NewFromInt(5), Cap: amountPtr(2_000_000)},
		{Position: 2, MinSavings: decimal.NewFromInt(500_000), MaxSavings: amountPtr(1_000_000), Multiplier: decimal.NewFromInt(4)},
		{Position: 3, MinSavings: decimal.NewFromInt(1_000_000), MaxSavings: amountPtr(1_500_000), Multiplier: decimal.NewFromInt(3)},
		{Position: 4, MinSavings: decimal.NewFromInt(1_500_000), MaxSavings: amountPtr(2_000_000), Multiplier: decimal.NewFromInt(2), Cap: amountPtr(4_000_000)},
		{Position: 5, MinSavings: decimal.NewFromInt(2_000_000), Multiplier: decimal.RequireFromString("1.5")},
	}
}
