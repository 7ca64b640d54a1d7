package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/money"
	"github.com/boddenberg/mutuelle-ledger/internal/port"

	"github.com/shopspring/decimal"
)

// PlanDistribution splits interest pro rata to savings across active
// members with positive savings, excluding excludedID. Each share is
// floored to unit; whatever is left over is the remainder. The partition is
// lossless: Sum(shares) + remainder == interest.
func PlanDistribution(interest decimal.Decimal, members []domain.MemberAccount, excludedID string, unit decimal.Decimal) *domain.Distribution {
	dist := &domain.Distribution{Total: interest, Remainder: decimal.Zero}
	if interest.Sign() <= 0 {
		dist.Total = decimal.Zero
		return dist
	}

	candidates := make([]domain.MemberAccount, 0, len(members))
	totalSavings := decimal.Zero
	for _, m := range members {
		if !m.Active || m.MemberID == excludedID || m.Savings.Sign() <= 0 {
			continue
		}
		candidates = append(candidates, m)
		totalSavings = totalSavings.Add(m.Savings)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].MemberID < candidates[j].MemberID })

	if len(candidates) == 0 {
		dist.Remainder = interest
		return dist
	}

	distributed := decimal.Zero
	for _, m := range candidates {
		raw := money.DivFloor(interest.Mul(m.Savings), totalSavings, money.ShareScale)
		share := money.FloorToUnit(raw, unit)
		dist.Shares = append(dist.Shares, domain.InterestShare{
			MemberID: m.MemberID,
			Savings:  m.Savings,
			Amount:   share,
		})
		distributed = distributed.Add(share)
	}
	dist.Remainder = interest.Sub(distributed)
	return dist
}

// redistribute applies PlanDistribution inside tx: shares are credited to
// member savings with an INTEREST transaction each, the remainder goes to
// the pooled cash reserve.
func (s *FundService) redistribute(ctx context.Context, tx port.LedgerTx, interest decimal.Decimal, excludedID string, parent *domain.Transaction, period *domain.Period) (*domain.Distribution, error) {
	if interest.Sign() <= 0 {
		return PlanDistribution(interest, nil, excludedID, s.cfg.RoundingUnit), nil
	}

	members, err := tx.ListActiveMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list beneficiaries: %w", err)
	}
	dist := PlanDistribution(interest, members, excludedID, s.cfg.RoundingUnit)

	for _, share := range dist.Shares {
		if share.Amount.Sign() <= 0 {
			continue
		}
		if err := tx.Credit(ctx, share.MemberID, domain.FieldSavings, share.Amount); err != nil {
			return nil, err
		}
		record := stamp(&domain.Transaction{
			MemberID:    share.MemberID,
			ParentID:    parent.ID,
			Type:        domain.TxInterest,
			Direction:   domain.Credit,
			Amount:      share.Amount,
			Description: fmt.Sprintf("interest share from loan to %s", excludedID),
		}, period)
		if err := tx.RecordTransaction(ctx, record); err != nil {
			return nil, err
		}
	}

	if dist.Remainder.Sign() > 0 {
		if err := tx.CreditPool(ctx, domain.PoolCashReserve, dist.Remainder); err != nil {
			return nil, err
		}
	}
	return dist, nil
}
