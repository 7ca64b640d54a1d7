package service

import (
	"context"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Savings
// ============================================================

// AddSaving deposits amount into a member's savings and the pool.
func (s *FundService) AddSaving(ctx context.Context, memberID string, amount decimal.Decimal) (record *domain.Transaction, err error) {
	ctx, span := fundTracer.Start(ctx, "FundService.AddSaving")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))
	start := time.Now()
	defer func() { s.observe(span, "add_saving", start, err) }()

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
		if !acc.IsActive() {
			return domain.NewLedgerError(domain.KindAccountInactive, "member %s is inactive", memberID)
		}
		if err := tx.Credit(ctx, memberID, domain.FieldSavings, amount); err != nil {
			return err
		}
		if err := tx.CreditPool(ctx, domain.PoolSavings, amount); err != nil {
			return err
		}
		record = stamp(&domain.Transaction{
			MemberID:  memberID,
			Type:      domain.TxSaving,
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

// WithdrawSaving pays amount out of a member's savings.
func (s *FundService) WithdrawSaving(ctx context.Context, memberID string, amount decimal.Decimal) (record *domain.Transaction, err error) {
	ctx, span := fundTracer.Start(ctx, "FundService.WithdrawSaving")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))
	start := time.Now()
	defer func() { s.observe(span, "withdraw_saving", start, err) }()

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
		if err := tx.Debit(ctx, memberID, domain.FieldSavings, amount); err != nil {
			return err
		}
		if err := tx.DebitPool(ctx, domain.PoolSavings, amount); err != nil {
			return err
		}
		record = stamp(&domain.Transaction{
			MemberID:  memberID,
			Type:      domain.TxWithdrawal,
			Direction: domain.Debit,
			Amount:    amount,
		}, period)
		return tx.RecordTransaction(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ============================================================
// Dues
// ============================================================

// PayRegistrationFee settles part or all of a member's registration fee.
// The fee joins the pooled savings.
func (s *FundService) PayRegistrationFee(ctx context.Context, memberID string, amount decimal.Decimal) (record *domain.Transaction, err error) {
	ctx, span := fundTracer.Start(ctx, "FundService.PayRegistrationFee")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))
	start := time.Now()
	defer func() { s.observe(span, "pay_registration_fee", start, err) }()

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
		if acc.UnpaidRegistration.Sign() <= 0 {
			return domain.NewLedgerError(domain.KindNoDebt, "member %s owes no registration fee", memberID)
		}
		if amount.GreaterThan(acc.UnpaidRegistration) {
			return domain.NewLedgerError(domain.KindOverPayment,
				"payment %s exceeds unpaid fee %s", amount.StringFixed(2), acc.UnpaidRegistration.StringFixed(2))
		}

		if err := tx.Debit(ctx, memberID, domain.FieldUnpaidRegistration, amount); err != nil {
			return err
		}
		if err := tx.DebitPool(ctx, domain.PoolUnpaidRegistrationTotal, amount); err != nil {
			return err
		}
		if err := tx.CreditPool(ctx, domain.PoolSavings, amount); err != nil {
			return err
		}
		record = stamp(&domain.Transaction{
			MemberID:  memberID,
			Type:      domain.TxRegistrationFee,
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

// PaySolidarity records a solidarity contribution. It first settles any
// unpaid solidarity dues; the whole amount joins the pooled solidarity fund.
func (s *FundService) PaySolidarity(ctx context.Context, memberID string, amount decimal.Decimal) (record *domain.Transaction, err error) {
	ctx, span := fundTracer.Start(ctx, "FundService.PaySolidarity")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))
	start := time.Now()
	defer func() { s.observe(span, "pay_solidarity", start, err) }()

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
		if settled := decimal.Min(amount, acc.UnpaidSolidarity); settled.Sign() > 0 {
			if err := tx.Debit(ctx, memberID, domain.FieldUnpaidSolidarity, settled); err != nil {
				return err
			}
		}
		if err := tx.Credit(ctx, memberID, domain.FieldSolidarity, amount); err != nil {
			return err
		}
		if err := tx.CreditPool(ctx, domain.PoolSolidarity, amount); err != nil {
			return err
		}
		record = stamp(&domain.Transaction{
			MemberID:  memberID,
			Type:      domain.TxSolidarity,
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

// ============================================================
// Membership
// ============================================================

// RegisterMember opens an account owing the configured registration fee.
func (s *FundService) RegisterMember(ctx context.Context, memberID string) (acc *domain.MemberAccount, err error) {
	ctx, span := fundTracer.Start(ctx, "FundService.RegisterMember")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))
	start := time.Now()
	defer func() { s.observe(span, "register_member", start, err) }()

	if memberID == "" {
		return nil, &domain.ErrValidation{Field: "member_id", Message: "must not be empty"}
	}
	if _, err := s.calculator(); err != nil {
		return nil, err
	}

	fee := s.cfg.RegistrationFee
	err = s.store.Atomically(ctx, func(tx port.LedgerTx) error {
		if _, err := tx.PooledAccount(ctx); err != nil {
			return err
		}
		acc = &domain.MemberAccount{
			MemberID:           memberID,
			Savings:            decimal.Zero,
			UnpaidRegistration: fee,
			Solidarity:         decimal.Zero,
			UnpaidSolidarity:   decimal.Zero,
			Borrowed:           decimal.Zero,
			UnpaidRenfoulement: decimal.Zero,
			Active:             true,
		}
		if err := tx.CreateMemberAccount(ctx, acc); err != nil {
			return err
		}
		if fee.Sign() > 0 {
			return tx.CreditPool(ctx, domain.PoolUnpaidRegistrationTotal, fee)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("member registered",
		zap.String("member_id", memberID),
		zap.String("registration_fee", fee.String()),
	)
	return s.store.GetMemberAccount(ctx, memberID)
}

// DeactivateMember withdraws a member from the fund. The account and its
// balances are kept.
func (s *FundService) DeactivateMember(ctx context.Context, memberID string) (err error) {
	ctx, span := fundTracer.Start(ctx, "FundService.DeactivateMember")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))
	start := time.Now()
	defer func() { s.observe(span, "deactivate_member", start, err) }()

	if _, err := s.calculator(); err != nil {
		return err
	}

	err = s.store.Atomically(ctx, func(tx port.LedgerTx) error {
		acc, err := tx.MemberAccount(ctx, memberID)
		if err != nil {
			return err
		}
		if !acc.IsActive() {
			return nil
		}
		return tx.SetMemberActive(ctx, memberID, false)
	})
	if err != nil {
		return err
	}

	s.logger.Info("member deactivated", zap.String("member_id", memberID))
	return nil
}

// ============================================================
// Reads
// ============================================================

func (s *FundService) GetMemberAccount(ctx context.Context, memberID string) (*domain.MemberAccount, error) {
	ctx, span := fundTracer.Start(ctx, "FundService.GetMemberAccount")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))

	return s.store.GetMemberAccount(ctx, memberID)
}

func (s *FundService) GetPooledAccount(ctx context.Context) (*domain.PooledAccount, error) {
	ctx, span := fundTracer.Start(ctx, "FundService.GetPooledAccount")
	defer span.End()

	return s.store.GetPooledAccount(ctx)
}

// ListTransactions returns the audit log, oldest first.
func (s *FundService) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	ctx, span := fundTracer.Start(ctx, "FundService.ListTransactions")
	defer span.End()
	span.SetAttributes(
		attribute.String("filter.member_id", filter.MemberID),
		attribute.String("filter.period_id", filter.PeriodID),
	)

	return s.store.ListTransactions(ctx, filter)
}
