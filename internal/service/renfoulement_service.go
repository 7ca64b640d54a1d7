package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/money"
	"github.com/boddenberg/mutuelle-ledger/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// planAssessment computes the per-member levy for a period. The payout
// total is split over the compliant members, but the resulting unit is
// charged to every active member.
func (s *FundService) planAssessment(period *domain.Period, compliant, active int) *domain.Assessment {
	a := &domain.Assessment{
		PeriodID:                period.ID,
		TotalToDistribute:       period.PayoutTotal(),
		BaseMembersCount:        compliant,
		UnitAmount:              decimal.Zero,
		DistributedMembersCount: active,
		ExpectedTotal:           decimal.Zero,
	}
	if a.TotalToDistribute.Sign() <= 0 {
		a.SkipReason = domain.SkipNothingToRecover
		return a
	}
	if compliant == 0 {
		return a
	}

	perMember := a.TotalToDistribute.DivRound(decimal.NewFromInt(int64(compliant)), 2)
	a.UnitAmount = money.FloorToUnit(perMember, s.cfg.RoundingUnit)
	if a.UnitAmount.Sign() <= 0 {
		a.UnitAmount = decimal.Zero
		a.SkipReason = domain.SkipUnitBelowMinimum
		return a
	}
	a.ExpectedTotal = a.UnitAmount.Mul(decimal.NewFromInt(int64(active)))
	return a
}

// lookupPeriod fetches the period and any assessment already recorded for it.
func (s *FundService) lookupPeriod(ctx context.Context, periodID string) (*domain.Period, *domain.Assessment, error) {
	var (
		period   *domain.Period
		existing *domain.Assessment
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p, err := s.periods.GetPeriod(gCtx, periodID)
		if err != nil {
			return fmt.Errorf("period %s: %w", periodID, err)
		}
		period = p
		return nil
	})

	g.Go(func() error {
		a, err := s.store.AssessmentForPeriod(gCtx, periodID)
		if err != nil {
			return fmt.Errorf("assessment lookup: %w", err)
		}
		existing = a
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return period, existing, nil
}

// AssessRenfoulementForPeriod levies the period's payouts on the members.
// A period is assessed at most once. When there is nothing to recover the
// returned assessment has Applied false and nothing is written.
func (s *FundService) AssessRenfoulementForPeriod(ctx context.Context, periodID string) (assessment *domain.Assessment, err error) {
	ctx, span := fundTracer.Start(ctx, "FundService.AssessRenfoulementForPeriod")
	defer span.End()
	span.SetAttributes(attribute.String("period.id", periodID))
	start := time.Now()
	defer func() { s.observe(span, "assess_renfoulement", start, err) }()

	if _, err := s.calculator(); err != nil {
		return nil, err
	}

	period, existing, err := s.lookupPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if period.PayoutTotal().Sign() <= 0 {
		return s.planAssessment(period, 0, 0), nil
	}
	if existing != nil {
		return nil, domain.NewLedgerError(domain.KindAlreadyAssessed,
			"period %s was assessed on %s", periodID, existing.CreatedAt.Format(time.RFC3339))
	}

	err = s.store.Atomically(ctx, func(tx port.LedgerTx) error {
		if _, err := tx.PooledAccount(ctx); err != nil {
			return err
		}
		// Re-checked under the unit so two concurrent assessments cannot both apply.
		prior, err := tx.AssessmentForPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if prior != nil {
			return domain.NewLedgerError(domain.KindAlreadyAssessed, "period %s", periodID)
		}

		compliant, err := tx.ListCompliantMembers(ctx)
		if err != nil {
			return err
		}
		if len(compliant) == 0 {
			return domain.NewLedgerError(domain.KindNoCompliantMembers,
				"no compliant member to base the levy of period %s on", periodID)
		}
		active, err := tx.ListActiveMembers(ctx)
		if err != nil {
			return err
		}

		assessment = s.planAssessment(period, len(compliant), len(active))
		if assessment.SkipReason != "" {
			return nil
		}

		for _, m := range active {
			if err := tx.Credit(ctx, m.MemberID, domain.FieldUnpaidRenfoulement, assessment.UnitAmount); err != nil {
				return err
			}
			record := &domain.Transaction{
				MemberID:    m.MemberID,
				PeriodID:    period.ID,
				SessionID:   period.LatestSessionID,
				Type:        domain.TxRenfoulement,
				Direction:   domain.Debit,
				Amount:      assessment.UnitAmount,
				Description: fmt.Sprintf("renfoulement levy for period %s", period.ID),
			}
			if err := tx.RecordTransaction(ctx, record); err != nil {
				return err
			}
		}
		if err := tx.CreditPool(ctx, domain.PoolUnpaidRenfoulementTotal, assessment.ExpectedTotal); err != nil {
			return err
		}

		assessment.Applied = true
		return tx.SaveAssessment(ctx, assessment)
	})
	if err != nil {
		return nil, err
	}

	if assessment.Applied {
		s.metrics.AddRenfoulement(assessment.ExpectedTotal.InexactFloat64())
		s.logger.Info("renfoulement assessed",
			zap.String("period_id", periodID),
			zap.String("unit", assessment.UnitAmount.String()),
			zap.Int("compliant_members", assessment.BaseMembersCount),
			zap.Int("levied_members", assessment.DistributedMembersCount),
			zap.String("expected_total", assessment.ExpectedTotal.String()),
		)
	} else {
		s.logger.Info("renfoulement skipped",
			zap.String("period_id", periodID),
			zap.String("reason", assessment.SkipReason),
		)
	}
	return assessment, nil
}

// AssessCurrentPeriod assesses the period currently open.
func (s *FundService) AssessCurrentPeriod(ctx context.Context) (*domain.Assessment, error) {
	period, err := s.currentPeriod(ctx)
	if err != nil {
		return nil, err
	}
	return s.AssessRenfoulementForPeriod(ctx, period.ID)
}

// SimulateRenfoulementForPeriod computes the levy a period would produce
// without writing anything.
func (s *FundService) SimulateRenfoulementForPeriod(ctx context.Context, periodID string) (*domain.Assessment, error) {
	ctx, span := fundTracer.Start(ctx, "FundService.SimulateRenfoulementForPeriod")
	defer span.End()
	span.SetAttributes(attribute.String("period.id", periodID))

	if _, err := s.calculator(); err != nil {
		return nil, err
	}

	period, _, err := s.lookupPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if period.PayoutTotal().Sign() <= 0 {
		return s.planAssessment(period, 0, 0), nil
	}

	var compliant, active []domain.MemberAccount
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		compliant, err = s.store.ListCompliantMembers(gCtx)
		return err
	})
	g.Go(func() error {
		var err error
		active, err = s.store.ListActiveMembers(gCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(compliant) == 0 {
		return nil, domain.NewLedgerError(domain.KindNoCompliantMembers,
			"no compliant member to base the levy of period %s on", periodID)
	}

	a := s.planAssessment(period, len(compliant), len(active))
	if a.SkipReason == "" {
		a.SkipReason = domain.SkipSimulation
	}
	return a, nil
}

// RenfoulementHistory returns every applied assessment together with a
// simulation of the open period when it has not been assessed yet.
func (s *FundService) RenfoulementHistory(ctx context.Context) (*domain.RenfoulementHistory, error) {
	ctx, span := fundTracer.Start(ctx, "FundService.RenfoulementHistory")
	defer span.End()

	if _, err := s.calculator(); err != nil {
		return nil, err
	}

	past, err := s.store.ListAssessments(ctx)
	if err != nil {
		return nil, err
	}
	history := &domain.RenfoulementHistory{Assessments: past}

	period, err := s.currentPeriod(ctx)
	if errors.Is(err, domain.ErrNoActivePeriod) {
		return history, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range past {
		if past[i].PeriodID == period.ID {
			return history, nil
		}
	}

	current, err := s.SimulateRenfoulementForPeriod(ctx, period.ID)
	if errors.Is(err, domain.ErrNoCompliantMembers) {
		return history, nil
	}
	if err != nil {
		return nil, err
	}
	history.Current = current
	return history, nil
}

// PayRenfoulement settles part or all of a member's renfoulement debt. The
// payment replenishes the pooled solidarity fund.
func (s *FundService) PayRenfoulement(ctx context.Context, memberID string, amount decimal.Decimal) (record *domain.Transaction, err error) {
	ctx, span := fundTracer.Start(ctx, "FundService.PayRenfoulement")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))
	start := time.Now()
	defer func() { s.observe(span, "pay_renfoulement", start, err) }()

	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	period, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	err = s.store.Atomically(ctx, func(tx port.LedgerTx) error {
		if _, err := tx.PooledAccount(ctx); err != nil {
			return err
		}
		acc, err := tx.MemberAccount(ctx, memberID)
		if err != nil {
			return err
		}
		if acc.UnpaidRegistration.Sign() > 0 {
			return domain.NewLedgerError(domain.KindNotCompliant,
				"member %s must settle the registration fee first", memberID)
		}
		if acc.UnpaidRenfoulement.Sign() <= 0 {
			return domain.NewLedgerError(domain.KindNoDebt, "member %s owes no renfoulement", memberID)
		}
		if amount.GreaterThan(acc.UnpaidRenfoulement) {
			return domain.NewLedgerError(domain.KindOverPayment,
				"payment %s exceeds debt %s", amount.StringFixed(2), acc.UnpaidRenfoulement.StringFixed(2))
		}

		if err := tx.Debit(ctx, memberID, domain.FieldUnpaidRenfoulement, amount); err != nil {
			return err
		}
		if err := tx.DebitPool(ctx, domain.PoolUnpaidRenfoulementTotal, amount); err != nil {
			return err
		}
		if err := tx.CreditPool(ctx, domain.PoolSolidarity, amount); err != nil {
			return err
		}
		record = stamp(&domain.Transaction{
			MemberID:  memberID,
			Type:      domain.TxRenfoulement,
			Direction: domain.Credit,
			Amount:    amount,
		}, period)
		return tx.RecordTransaction(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}
