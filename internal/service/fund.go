// Package service provides the business logic layer (use cases).
// FundService owns the fund's accounting rules: borrowing ceilings, loans,
// interest redistribution, renfoulement and member account movements.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/observability"
	"github.com/boddenberg/mutuelle-ledger/internal/money"
	"github.com/boddenberg/mutuelle-ledger/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var fundTracer = otel.Tracer("service/fund")

// FundConfig is the fund's accounting configuration, supplied at startup.
type FundConfig struct {
	// InterestRate is the flat loan interest as a fraction (0.03 for 3%).
	InterestRate decimal.Decimal
	// RegistrationFee is owed by every newly registered member.
	RegistrationFee decimal.Decimal
	// RoundingUnit is the smallest amount the fund settles in.
	RoundingUnit decimal.Decimal
	// Tiers seed the ceiling table when the store holds none.
	Tiers []domain.CeilingTier
}

// DefaultFundConfig returns the fund's reference configuration.
func DefaultFundConfig() FundConfig {
	return FundConfig{
		InterestRate:    decimal.RequireFromString("0.03"),
		RegistrationFee: decimal.NewFromInt(25_000),
		RoundingUnit:    money.Unit,
		Tiers:           domain.DefaultCeilingTiers(),
	}
}

// FundService orchestrates ledger operations over a LedgerStore. Every
// mutating operation runs as a single atomic unit of work.
type FundService struct {
	store   port.LedgerStore
	periods port.PeriodProvider
	cfg     FundConfig
	metrics *observability.Metrics
	logger  *zap.Logger

	mu      sync.RWMutex
	ceiling *CeilingCalculator
}

// NewFundService creates the fund service. Initialize must be called before
// any operation.
func NewFundService(store port.LedgerStore, periods port.PeriodProvider, cfg FundConfig, metrics *observability.Metrics, logger *zap.Logger) *FundService {
	if cfg.RoundingUnit.Sign() <= 0 {
		cfg.RoundingUnit = money.Unit
	}
	return &FundService{
		store:   store,
		periods: periods,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Initialize ensures the pooled account exists, seeds the tier table if the
// store has none, and loads it. It is safe to call more than once.
func (s *FundService) Initialize(ctx context.Context) error {
	ctx, span := fundTracer.Start(ctx, "FundService.Initialize")
	defer span.End()

	if err := s.store.EnsurePooledAccount(ctx); err != nil {
		return fmt.Errorf("initialize pooled account: %w", err)
	}

	tiers, err := s.store.ListTiers(ctx)
	if err != nil {
		return fmt.Errorf("load ceiling tiers: %w", err)
	}
	if len(tiers) == 0 {
		tiers = numberTiers(s.cfg.Tiers)
		if _, err := NewCeilingCalculator(tiers); err != nil {
			return err
		}
		if err := s.store.SaveTiers(ctx, tiers); err != nil {
			return fmt.Errorf("seed ceiling tiers: %w", err)
		}
		s.logger.Info("ceiling tiers seeded", zap.Int("tiers", len(tiers)))
	}

	calc, err := NewCeilingCalculator(tiers)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ceiling = calc
	s.mu.Unlock()

	s.logger.Info("fund initialized", zap.Int("ceiling_tiers", len(tiers)))
	return nil
}

// Ready reports whether Initialize has completed.
func (s *FundService) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ceiling != nil
}

// Ping checks the backing store.
func (s *FundService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *FundService) calculator() (*CeilingCalculator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ceiling == nil {
		return nil, domain.ErrNotInitialized
	}
	return s.ceiling, nil
}

// begin checks that the service is initialized and resolves the period that
// a mutating operation stamps its transactions with.
func (s *FundService) begin(ctx context.Context) (*domain.Period, error) {
	if _, err := s.calculator(); err != nil {
		return nil, err
	}
	return s.currentPeriod(ctx)
}

func (s *FundService) currentPeriod(ctx context.Context) (*domain.Period, error) {
	p, err := s.periods.CurrentPeriod(ctx)
	if err != nil {
		return nil, fmt.Errorf("current period: %w", err)
	}
	return p, nil
}

// observe records the outcome of an operation on metrics, logs and span.
func (s *FundService) observe(span trace.Span, operation string, start time.Time, err error) {
	outcome := observability.OutcomeSuccess
	switch kind, isRule := domain.KindOf(err); {
	case err == nil:
	case isRule:
		outcome = observability.OutcomeRejected
		s.metrics.IncrRejection(string(kind))
		span.SetStatus(codes.Error, string(kind))
		s.logger.Debug("operation rejected",
			zap.String("operation", operation),
			zap.String("kind", string(kind)),
			zap.String("error", err.Error()),
		)
	default:
		outcome = observability.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("operation failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
	}
	s.metrics.RecordOperation(operation, outcome, time.Since(start))
}

func requirePositive(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return domain.NewLedgerError(domain.KindInvalidAmount, "amount must be positive, got %s", amount)
	}
	if !amount.Equal(amount.Truncate(2)) {
		return domain.NewLedgerError(domain.KindInvalidAmount, "amount %s is finer than a cent", amount)
	}
	return nil
}

func numberTiers(tiers []domain.CeilingTier) []domain.CeilingTier {
	out := make([]domain.CeilingTier, len(tiers))
	copy(out, tiers)
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}

func stamp(tx *domain.Transaction, p *domain.Period) *domain.Transaction {
	tx.PeriodID = p.ID
	tx.SessionID = p.LatestSessionID
	return tx
}
