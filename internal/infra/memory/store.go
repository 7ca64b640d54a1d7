// Package memory provides an in-process ledger store. A single mutex
// serializes every unit of work; writes are staged on copies and only
// published when the unit succeeds.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is a thread-safe in-memory port.LedgerStore.
type Store struct {
	mu sync.Mutex

	members     map[string]*domain.MemberAccount
	pool        *domain.PooledAccount
	txs         []domain.Transaction
	assessments map[string]*domain.Assessment
	tiers       []domain.CeilingTier

	now func() time.Time
}

var _ port.LedgerStore = (*Store)(nil)

// New creates an empty store. The pooled account does not exist until
// EnsurePooledAccount is called.
func New() *Store {
	return &Store{
		members:     make(map[string]*domain.MemberAccount),
		assessments: make(map[string]*domain.Assessment),
		now:         time.Now,
	}
}

// Atomically runs fn under the store lock and commits its staged writes
// only if fn returns nil.
func (s *Store) Atomically(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, members: make(map[string]*domain.MemberAccount)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) GetMemberAccount(_ context.Context, memberID string) (*domain.MemberAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.members[memberID]
	if !ok {
		return nil, domain.NewLedgerError(domain.KindAccountNotFound, "member %s", memberID)
	}
	cp := *acc
	return &cp, nil
}

func (s *Store) GetPooledAccount(_ context.Context) (*domain.PooledAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil {
		return nil, errPoolMissing
	}
	cp := *s.pool
	return &cp, nil
}

func (s *Store) ListActiveMembers(_ context.Context) ([]domain.MemberAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterMembers(s.members, nil, (*domain.MemberAccount).IsActive), nil
}

func (s *Store) ListCompliantMembers(_ context.Context) ([]domain.MemberAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterMembers(s.members, nil, (*domain.MemberAccount).Compliant), nil
}

// ListTransactions returns matching transactions in insertion order.
func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Transaction, 0)
	skipped := 0
	for i := range s.txs {
		if !filter.Matches(&s.txs[i]) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, s.txs[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) AssessmentForPeriod(_ context.Context, periodID string) (*domain.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assessments[periodID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAssessments(_ context.Context) ([]domain.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Assessment, 0, len(s.assessments))
	for _, a := range s.assessments {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PeriodID < out[j].PeriodID
	})
	return out, nil
}

func (s *Store) EnsurePooledAccount(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil {
		s.pool = &domain.PooledAccount{UpdatedAt: s.now()}
	}
	return nil
}

func (s *Store) ListTiers(_ context.Context) ([]domain.CeilingTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.CeilingTier, len(s.tiers))
	copy(out, s.tiers)
	return out, nil
}

func (s *Store) SaveTiers(_ context.Context, tiers []domain.CeilingTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers = make([]domain.CeilingTier, len(tiers))
	copy(s.tiers, tiers)
	return nil
}

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

var errPoolMissing = errors.New("memory: pooled account not initialized")

func filterMembers(base, staged map[string]*domain.MemberAccount, keep func(*domain.MemberAccount) bool) []domain.MemberAccount {
	out := make([]domain.MemberAccount, 0, len(base))
	seen := make(map[string]struct{}, len(staged))
	for id, acc := range staged {
		seen[id] = struct{}{}
		if keep(acc) {
			out = append(out, *acc)
		}
	}
	for id, acc := range base {
		if _, ok := seen[id]; ok {
			continue
		}
		if keep(acc) {
			out = append(out, *acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out
}

// ============================================================
// Unit of work
// ============================================================

type memTx struct {
	store *Store

	members     map[string]*domain.MemberAccount
	pool        *domain.PooledAccount
	txs         []domain.Transaction
	assessments []*domain.Assessment
}

func (t *memTx) member(memberID string) (*domain.MemberAccount, error) {
	if acc, ok := t.members[memberID]; ok {
		return acc, nil
	}
	base, ok := t.store.members[memberID]
	if !ok {
		return nil, domain.NewLedgerError(domain.KindAccountNotFound, "member %s", memberID)
	}
	cp := *base
	t.members[memberID] = &cp
	return &cp, nil
}

func (t *memTx) pooled() (*domain.PooledAccount, error) {
	if t.pool != nil {
		return t.pool, nil
	}
	if t.store.pool == nil {
		return nil, errPoolMissing
	}
	cp := *t.store.pool
	t.pool = &cp
	return t.pool, nil
}

func (t *memTx) MemberAccount(_ context.Context, memberID string) (*domain.MemberAccount, error) {
	acc, err := t.member(memberID)
	if err != nil {
		return nil, err
	}
	cp := *acc
	return &cp, nil
}

func (t *memTx) PooledAccount(_ context.Context) (*domain.PooledAccount, error) {
	p, err := t.pooled()
	if err != nil {
		return nil, err
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) Credit(_ context.Context, memberID string, field domain.MemberField, amount decimal.Decimal) error {
	acc, err := t.member(memberID)
	if err != nil {
		return err
	}
	return acc.Credit(field, amount)
}

func (t *memTx) Debit(_ context.Context, memberID string, field domain.MemberField, amount decimal.Decimal) error {
	acc, err := t.member(memberID)
	if err != nil {
		return err
	}
	return acc.Debit(field, amount)
}

func (t *memTx) CreditPool(_ context.Context, field domain.PoolField, amount decimal.Decimal) error {
	p, err := t.pooled()
	if err != nil {
		return err
	}
	return p.Credit(field, amount)
}

func (t *memTx) DebitPool(_ context.Context, field domain.PoolField, amount decimal.Decimal) error {
	p, err := t.pooled()
	if err != nil {
		return err
	}
	return p.Debit(field, amount)
}

func (t *memTx) RecordTransaction(_ context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = t.store.now()
	}
	t.txs = append(t.txs, *tx)
	return nil
}

func (t *memTx) ListActiveMembers(_ context.Context) ([]domain.MemberAccount, error) {
	return filterMembers(t.store.members, t.members, (*domain.MemberAccount).IsActive), nil
}

func (t *memTx) ListCompliantMembers(_ context.Context) ([]domain.MemberAccount, error) {
	return filterMembers(t.store.members, t.members, (*domain.MemberAccount).Compliant), nil
}

func (t *memTx) CreateMemberAccount(_ context.Context, acc *domain.MemberAccount) error {
	if _, ok := t.members[acc.MemberID]; ok {
		return domain.NewLedgerError(domain.KindAccountExists, "member %s", acc.MemberID)
	}
	if _, ok := t.store.members[acc.MemberID]; ok {
		return domain.NewLedgerError(domain.KindAccountExists, "member %s", acc.MemberID)
	}
	now := t.store.now()
	cp := *acc
	cp.CreatedAt, cp.UpdatedAt = now, now
	t.members[acc.MemberID] = &cp
	return nil
}

func (t *memTx) SetMemberActive(_ context.Context, memberID string, active bool) error {
	acc, err := t.member(memberID)
	if err != nil {
		return err
	}
	acc.Active = active
	return nil
}

func (t *memTx) SaveAssessment(_ context.Context, a *domain.Assessment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t.store.now()
	}
	cp := *a
	t.assessments = append(t.assessments, &cp)
	return nil
}

func (t *memTx) AssessmentForPeriod(ctx context.Context, periodID string) (*domain.Assessment, error) {
	for _, a := range t.assessments {
		if a.PeriodID == periodID {
			cp := *a
			return &cp, nil
		}
	}
	if a, ok := t.store.assessments[periodID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

// commit publishes staged writes. Called with the store lock held.
func (t *memTx) commit() {
	now := t.store.now()
	for id, acc := range t.members {
		acc.UpdatedAt = now
		t.store.members[id] = acc
	}
	if t.pool != nil {
		t.pool.Version++
		t.pool.UpdatedAt = now
		t.store.pool = t.pool
	}
	t.store.txs = append(t.store.txs, t.txs...)
	for _, a := range t.assessments {
		t.store.assessments[a.PeriodID] = a
	}
}
