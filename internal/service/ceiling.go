package service

import (
	"context"
	"sort"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// CeilingCalculator maps a member's savings to the maximum loan principal
// they may take. Its tier table is validated once, at construction.
type CeilingCalculator struct {
	tiers []domain.CeilingTier
}

// NewCeilingCalculator validates tiers and returns a calculator over them.
// Tiers must start at zero, be contiguous without overlap, and only the
// last one may be open-ended.
func NewCeilingCalculator(tiers []domain.CeilingTier) (*CeilingCalculator, error) {
	if len(tiers) == 0 {
		return nil, &domain.ErrInvalidTiers{Reason: "table is empty"}
	}

	sorted := make([]domain.CeilingTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinSavings.LessThan(sorted[j].MinSavings)
	})

	if !sorted[0].MinSavings.IsZero() {
		return nil, &domain.ErrInvalidTiers{Position: sorted[0].Position, Reason: "first tier must start at 0"}
	}

	last := len(sorted) - 1
	for i, t := range sorted {
		if t.Multiplier.Sign() <= 0 {
			return nil, &domain.ErrInvalidTiers{Position: t.Position, Reason: "multiplier must be positive"}
		}
		if t.Cap != nil && t.Cap.Sign() <= 0 {
			return nil, &domain.ErrInvalidTiers{Position: t.Position, Reason: "cap must be positive"}
		}
		if i == last {
			if t.MaxSavings != nil {
				return nil, &domain.ErrInvalidTiers{Position: t.Position, Reason: "last tier must be open-ended"}
			}
			continue
		}
		if t.MaxSavings == nil {
			return nil, &domain.ErrInvalidTiers{Position: t.Position, Reason: "only the last tier may be open-ended"}
		}
		if !t.MaxSavings.GreaterThan(t.MinSavings) {
			return nil, &domain.ErrInvalidTiers{Position: t.Position, Reason: "max savings must exceed min savings"}
		}
		if next := sorted[i+1]; !t.MaxSavings.Equal(next.MinSavings) {
			reason := "gap before next tier"
			if t.MaxSavings.GreaterThan(next.MinSavings) {
				reason = "overlaps next tier"
			}
			return nil, &domain.ErrInvalidTiers{Position: t.Position, Reason: reason}
		}
	}

	return &CeilingCalculator{tiers: sorted}, nil
}

// Compute returns the borrowing ceiling for savings: savings times the
// tier multiplier, capped by the tier cap when one is set. Non-positive
// savings yield zero.
func (c *CeilingCalculator) Compute(savings decimal.Decimal) decimal.Decimal {
	tier, ok := c.TierFor(savings)
	if !ok {
		return decimal.Zero
	}
	ceiling := savings.Mul(tier.Multiplier)
	if tier.Cap != nil && ceiling.GreaterThan(*tier.Cap) {
		ceiling = *tier.Cap
	}
	return ceiling
}

// TierFor returns the tier containing savings.
func (c *CeilingCalculator) TierFor(savings decimal.Decimal) (domain.CeilingTier, bool) {
	if savings.Sign() <= 0 {
		return domain.CeilingTier{}, false
	}
	for _, t := range c.tiers {
		if t.Contains(savings) {
			return t, true
		}
	}
	return domain.CeilingTier{}, false
}

// Tiers returns a copy of the validated table, ordered by lower bound.
func (c *CeilingCalculator) Tiers() []domain.CeilingTier {
	out := make([]domain.CeilingTier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// ComputeCeiling returns the borrowing ceiling for a savings amount.
func (s *FundService) ComputeCeiling(savings decimal.Decimal) (decimal.Decimal, error) {
	calc, err := s.calculator()
	if err != nil {
		return decimal.Zero, err
	}
	return calc.Compute(savings), nil
}

// MemberCeiling returns a member's current borrowing ceiling.
func (s *FundService) MemberCeiling(ctx context.Context, memberID string) (decimal.Decimal, error) {
	ctx, span := fundTracer.Start(ctx, "FundService.MemberCeiling")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))

	calc, err := s.calculator()
	if err != nil {
		return decimal.Zero, err
	}
	acc, err := s.store.GetMemberAccount(ctx, memberID)
	if err != nil {
		return decimal.Zero, err
	}
	return calc.Compute(acc.Savings), nil
}

// CeilingTiers returns the loaded tier table.
func (s *FundService) CeilingTiers() ([]domain.CeilingTier, error) {
	calc, err := s.calculator()
	if err != nil {
		return nil, err
	}
	return calc.Tiers(), nil
}
