// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// LedgerTx is the view of the ledger available inside one atomic unit of
// work. Reads of accounts through it see the unit's own pending writes, and
// in SQL-backed stores lock the row until the unit ends.
type LedgerTx interface {
	MemberAccount(ctx context.Context, memberID string) (*domain.MemberAccount, error)
	PooledAccount(ctx context.Context) (*domain.PooledAccount, error)

	Credit(ctx context.Context, memberID string, field domain.MemberField, amount decimal.Decimal) error
	Debit(ctx context.Context, memberID string, field domain.MemberField, amount decimal.Decimal) error
	CreditPool(ctx context.Context, field domain.PoolField, amount decimal.Decimal) error
	DebitPool(ctx context.Context, field domain.PoolField, amount decimal.Decimal) error

	RecordTransaction(ctx context.Context, tx *domain.Transaction) error

	// ListActiveMembers and ListCompliantMembers return accounts ordered by
	// member id.
	ListActiveMembers(ctx context.Context) ([]domain.MemberAccount, error)
	ListCompliantMembers(ctx context.Context) ([]domain.MemberAccount, error)

	CreateMemberAccount(ctx context.Context, acc *domain.MemberAccount) error
	SetMemberActive(ctx context.Context, memberID string, active bool) error

	SaveAssessment(ctx context.Context, a *domain.Assessment) error
	AssessmentForPeriod(ctx context.Context, periodID string) (*domain.Assessment, error)
}

// LedgerStore persists member accounts, the pooled account, the transaction
// log and reference data. Atomically runs fn as a single all-or-nothing
// unit: if fn returns an error, none of its writes are visible afterwards.
type LedgerStore interface {
	Atomically(ctx context.Context, fn func(tx LedgerTx) error) error

	GetMemberAccount(ctx context.Context, memberID string) (*domain.MemberAccount, error)
	GetPooledAccount(ctx context.Context) (*domain.PooledAccount, error)
	ListActiveMembers(ctx context.Context) ([]domain.MemberAccount, error)
	ListCompliantMembers(ctx context.Context) ([]domain.MemberAccount, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	AssessmentForPeriod(ctx context.Context, periodID string) (*domain.Assessment, error)
	// ListAssessments returns every recorded assessment ordered by creation time.
	ListAssessments(ctx context.Context) ([]domain.Assessment, error)

	// EnsurePooledAccount creates the pooled account if it does not exist.
	EnsurePooledAccount(ctx context.Context) error
	ListTiers(ctx context.Context) ([]domain.CeilingTier, error)
	SaveTiers(ctx context.Context, tiers []domain.CeilingTier) error

	Ping(ctx context.Context) error
	Close() error
}

// PeriodProvider answers questions about accounting periods. It is owned by
// the session/period subsystem, which this module does not manage.
type PeriodProvider interface {
	// CurrentPeriod returns domain.ErrNoActivePeriod when no period is open.
	CurrentPeriod(ctx context.Context) (*domain.Period, error)
	GetPeriod(ctx context.Context, periodID string) (*domain.Period, error)
}

// PeriodWriter lets administrators record period totals in stores that hold
// periods locally.
type PeriodWriter interface {
	UpsertPeriod(ctx context.Context, p *domain.Period) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	SetWithTTL(key string, value T, ttl time.Duration)
	Delete(key string)
}
