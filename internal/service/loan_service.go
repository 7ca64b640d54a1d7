package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/money"
	"github.com/boddenberg/mutuelle-ledger/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// IssueLoan lends amount to a member. The interest is deducted up front and
// redistributed to the other savers; the member receives the net amount and
// owes the full principal.
func (s *FundService) IssueLoan(ctx context.Context, memberID string, amount decimal.Decimal) (receipt *domain.LoanReceipt, err error) {
	ctx, span := fundTracer.Start(ctx, "FundService.IssueLoan")
	defer span.End()
	span.SetAttributes(
		attribute.String("member.id", memberID),
		attribute.String("loan.amount", amount.String()),
	)
	start := time.Now()
	defer func() { s.observe(span, "issue_loan", start, err) }()

	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	calc, err := s.calculator()
	if err != nil {
		return nil, err
	}
	period, err := s.currentPeriod(ctx)
	if err != nil {
		return nil, err
	}

	err = s.store.Atomically(ctx, func(tx port.LedgerTx) error {
		// Pool row first; SQL stores lock it before any member row.
		pool, err := tx.PooledAccount(ctx)
		if err != nil {
			return err
		}
		acc, err := tx.MemberAccount(ctx, memberID)
		if err != nil {
			return err
		}
		if !acc.IsActive() {
			return domain.NewLedgerError(domain.KindAccountInactive, "member %s is inactive", memberID)
		}
		if acc.Savings.Sign() <= 0 {
			return domain.NewLedgerError(domain.KindNoSavings, "member %s has no savings", memberID)
		}
		if acc.HasActiveLoan() {
			return domain.NewLedgerError(domain.KindLoanAlreadyActive,
				"member %s still owes %s", memberID, acc.Borrowed.StringFixed(2))
		}

		ceiling := calc.Compute(acc.Savings)
		if amount.GreaterThan(ceiling) {
			return domain.NewLedgerError(domain.KindCeilingExceeded,
				"requested %s, ceiling is %s", amount.StringFixed(2), ceiling.StringFixed(2))
		}

		interest := money.Round2(amount.Mul(s.cfg.InterestRate))
		if pool.Savings.LessThan(amount) {
			return domain.NewLedgerError(domain.KindInsufficientPoolFunds,
				"pool savings %s cannot cover %s", pool.Savings.StringFixed(2), amount.StringFixed(2))
		}

		if err := tx.Credit(ctx, memberID, domain.FieldBorrowed, amount); err != nil {
			return err
		}
		if err := tx.DebitPool(ctx, domain.PoolSavings, amount); err != nil {
			return err
		}
		if err := tx.CreditPool(ctx, domain.PoolBorrowedOut, amount); err != nil {
			return err
		}

		net := amount.Sub(interest)
		loanTx := stamp(&domain.Transaction{
			MemberID:    memberID,
			Type:        domain.TxLoan,
			Direction:   domain.Debit,
			Amount:      net,
			Description: fmt.Sprintf("loan of %s, net of interest", amount.StringFixed(2)),
		}, period)
		if err := tx.RecordTransaction(ctx, loanTx); err != nil {
			return err
		}
		interestTx := stamp(&domain.Transaction{
			MemberID:    memberID,
			ParentID:    loanTx.ID,
			Type:        domain.TxInterest,
			Direction:   domain.Credit,
			Amount:      interest,
			Description: "loan interest withheld for redistribution",
		}, period)
		if err := tx.RecordTransaction(ctx, interestTx); err != nil {
			return err
		}

		dist, err := s.redistribute(ctx, tx, interest, memberID, interestTx, period)
		if err != nil {
			return err
		}

		receipt = &domain.LoanReceipt{
			MemberID:     memberID,
			Amount:       amount,
			Interest:     interest,
			NetDisbursed: net,
			Ceiling:      ceiling,
			Distribution: dist,
			Transactions: []domain.Transaction{*loanTx, *interestTx},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddInterest(
		receipt.Distribution.Distributed().InexactFloat64(),
		receipt.Distribution.Remainder.InexactFloat64(),
	)
	s.logger.Info("loan issued",
		zap.String("member_id", memberID),
		zap.String("amount", amount.String()),
		zap.String("interest", receipt.Interest.String()),
		zap.Int("beneficiaries", len(receipt.Distribution.Shares)),
		zap.String("to_reserve", receipt.Distribution.Remainder.String()),
	)
	return receipt, nil
}

// RepayLoan reduces a member's outstanding principal and returns the money
// to the pool.
func (s *FundService) RepayLoan(ctx context.Context, memberID string, amount decimal.Decimal) (record *domain.Transaction, err error) {
	ctx, span := fundTracer.Start(ctx, "FundService.RepayLoan")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))
	start := time.Now()
	defer func() { s.observe(span, "repay_loan", start, err) }()

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
		if !acc.HasActiveLoan() {
			return domain.NewLedgerError(domain.KindNoActiveLoan, "member %s has no loan", memberID)
		}
		if amount.GreaterThan(acc.Borrowed) {
			return domain.NewLedgerError(domain.KindRepaymentExceedsDebt,
				"repayment %s exceeds debt %s", amount.StringFixed(2), acc.Borrowed.StringFixed(2))
		}

		if err := tx.Debit(ctx, memberID, domain.FieldBorrowed, amount); err != nil {
			return err
		}
		if err := tx.CreditPool(ctx, domain.PoolSavings, amount); err != nil {
			return err
		}
		if err := tx.DebitPool(ctx, domain.PoolBorrowedOut, amount); err != nil {
			return err
		}

		record = stamp(&domain.Transaction{
			MemberID:  memberID,
			Type:      domain.TxRepayment,
			Direction: domain.Credit,
			Amount:    amount,
		}, period)
		return tx.RecordTransaction(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("loan repaid",
		zap.String("member_id", memberID),
		zap.String("amount", amount.String()),
	)
	return record, nil
}
