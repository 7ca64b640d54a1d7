package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sqlTx stages account mutations in memory and writes them back in flush.
// Rows are read with SELECT ... FOR UPDATE the first time they are touched.
type sqlTx struct {
	db  *gorm.DB
	now func() time.Time

	pool        *domain.PooledAccount
	poolVersion int64
	poolDirty   bool

	members map[string]*domain.MemberAccount
	dirty   map[string]bool
	created map[string]bool
}

func newSQLTx(db *gorm.DB, now func() time.Time) *sqlTx {
	return &sqlTx{
		db:      db,
		now:     now,
		members: make(map[string]*domain.MemberAccount),
		dirty:   make(map[string]bool),
		created: make(map[string]bool),
	}
}

func (t *sqlTx) locking(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *sqlTx) pooled(ctx context.Context) (*domain.PooledAccount, error) {
	if t.pool != nil {
		return t.pool, nil
	}
	var row poolRow
	err := t.locking(ctx).First(&row, poolRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errPoolMissing
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: lock pooled account: %w", err)
	}
	p := row.toDomain()
	t.pool = &p
	t.poolVersion = row.Version
	return t.pool, nil
}

func (t *sqlTx) member(ctx context.Context, memberID string) (*domain.MemberAccount, error) {
	if acc, ok := t.members[memberID]; ok {
		return acc, nil
	}
	// Lock order: pooled account first, then members.
	if _, err := t.pooled(ctx); err != nil {
		return nil, err
	}
	var row memberRow
	err := t.locking(ctx).First(&row, "member_id = ?", memberID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewLedgerError(domain.KindAccountNotFound, "member %s", memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: lock member %s: %w", memberID, err)
	}
	acc := row.toDomain()
	t.members[memberID] = &acc
	return &acc, nil
}

func (t *sqlTx) MemberAccount(ctx context.Context, memberID string) (*domain.MemberAccount, error) {
	acc, err := t.member(ctx, memberID)
	if err != nil {
		return nil, err
	}
	cp := *acc
	return &cp, nil
}

func (t *sqlTx) PooledAccount(ctx context.Context) (*domain.PooledAccount, error) {
	p, err := t.pooled(ctx)
	if err != nil {
		return nil, err
	}
	cp := *p
	return &cp, nil
}

func (t *sqlTx) Credit(ctx context.Context, memberID string, field domain.MemberField, amount decimal.Decimal) error {
	acc, err := t.member(ctx, memberID)
	if err != nil {
		return err
	}
	if err := acc.Credit(field, amount); err != nil {
		return err
	}
	t.dirty[memberID] = true
	return nil
}

func (t *sqlTx) Debit(ctx context.Context, memberID string, field domain.MemberField, amount decimal.Decimal) error {
	acc, err := t.member(ctx, memberID)
	if err != nil {
		return err
	}
	if err := acc.Debit(field, amount); err != nil {
		return err
	}
	t.dirty[memberID] = true
	return nil
}

func (t *sqlTx) CreditPool(ctx context.Context, field domain.PoolField, amount decimal.Decimal) error {
	p, err := t.pooled(ctx)
	if err != nil {
		return err
	}
	if err := p.Credit(field, amount); err != nil {
		return err
	}
	t.poolDirty = true
	return nil
}

func (t *sqlTx) DebitPool(ctx context.Context, field domain.PoolField, amount decimal.Decimal) error {
	p, err := t.pooled(ctx)
	if err != nil {
		return err
	}
	if err := p.Debit(field, amount); err != nil {
		return err
	}
	t.poolDirty = true
	return nil
}

func (t *sqlTx) RecordTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = t.now()
	}
	row := transactionRowFrom(tx)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("sqlstore: record transaction: %w", err)
	}
	return nil
}

func (t *sqlTx) ListActiveMembers(ctx context.Context) ([]domain.MemberAccount, error) {
	rows, err := t.activeRows(ctx)
	if err != nil {
		return nil, err
	}
	return mergeMembers(rows, t.members, (*domain.MemberAccount).IsActive), nil
}

func (t *sqlTx) ListCompliantMembers(ctx context.Context) ([]domain.MemberAccount, error) {
	rows, err := t.activeRows(ctx)
	if err != nil {
		return nil, err
	}
	return mergeMembers(rows, t.members, (*domain.MemberAccount).Compliant), nil
}

func (t *sqlTx) activeRows(ctx context.Context) ([]memberRow, error) {
	var rows []memberRow
	err := t.db.WithContext(ctx).Where("active = ?", true).Order("member_id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list active members: %w", err)
	}
	return rows, nil
}

func (t *sqlTx) CreateMemberAccount(ctx context.Context, acc *domain.MemberAccount) error {
	if _, ok := t.members[acc.MemberID]; ok {
		return domain.NewLedgerError(domain.KindAccountExists, "member %s", acc.MemberID)
	}
	if _, err := t.pooled(ctx); err != nil {
		return err
	}
	var count int64
	if err := t.db.WithContext(ctx).Model(&memberRow{}).Where("member_id = ?", acc.MemberID).Count(&count).Error; err != nil {
		return fmt.Errorf("sqlstore: check member %s: %w", acc.MemberID, err)
	}
	if count > 0 {
		return domain.NewLedgerError(domain.KindAccountExists, "member %s", acc.MemberID)
	}
	cp := *acc
	now := t.now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	t.members[acc.MemberID] = &cp
	t.created[acc.MemberID] = true
	return nil
}

func (t *sqlTx) SetMemberActive(ctx context.Context, memberID string, active bool) error {
	acc, err := t.member(ctx, memberID)
	if err != nil {
		return err
	}
	acc.Active = active
	t.dirty[memberID] = true
	return nil
}

func (t *sqlTx) SaveAssessment(ctx context.Context, a *domain.Assessment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t.now()
	}
	row := assessmentRow{
		ID:                      a.ID,
		PeriodID:                a.PeriodID,
		TotalToDistribute:       a.TotalToDistribute,
		BaseMembersCount:        a.BaseMembersCount,
		UnitAmount:              a.UnitAmount,
		DistributedMembersCount: a.DistributedMembersCount,
		ExpectedTotal:           a.ExpectedTotal,
		CreatedAt:               a.CreatedAt,
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("sqlstore: save assessment: %w", err)
	}
	return nil
}

func (t *sqlTx) AssessmentForPeriod(ctx context.Context, periodID string) (*domain.Assessment, error) {
	return assessmentForPeriod(ctx, t.db, periodID)
}

// flush writes staged members and the pooled account. The pooled account
// update is conditional on the version read at lock time.
func (t *sqlTx) flush(ctx context.Context) error {
	now := t.now()
	ids := make([]string, 0, len(t.members))
	for id := range t.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		acc := t.members[id]
		switch {
		case t.created[id]:
			row := memberRowFrom(acc)
			if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
				return fmt.Errorf("sqlstore: create member %s: %w", id, err)
			}
		case t.dirty[id]:
			err := t.db.WithContext(ctx).Model(&memberRow{}).
				Where("member_id = ?", id).
				Updates(map[string]any{
					"savings":             acc.Savings,
					"unpaid_registration": acc.UnpaidRegistration,
					"solidarity":          acc.Solidarity,
					"unpaid_solidarity":   acc.UnpaidSolidarity,
					"borrowed":            acc.Borrowed,
					"unpaid_renfoulement": acc.UnpaidRenfoulement,
					"active":              acc.Active,
					"updated_at":          now,
				}).Error
			if err != nil {
				return fmt.Errorf("sqlstore: update member %s: %w", id, err)
			}
		}
	}

	if !t.poolDirty {
		return nil
	}
	p := t.pool
	res := t.db.WithContext(ctx).Model(&poolRow{}).
		Where("id = ? AND version = ?", poolRowID, t.poolVersion).
		Updates(map[string]any{
			"savings":                   p.Savings,
			"solidarity":                p.Solidarity,
			"borrowed_out":              p.BorrowedOut,
			"unpaid_registration_total": p.UnpaidRegistrationTotal,
			"unpaid_renfoulement_total": p.UnpaidRenfoulementTotal,
			"cash_reserve":              p.CashReserve,
			"version":                   t.poolVersion + 1,
			"updated_at":                now,
		})
	if res.Error != nil {
		return fmt.Errorf("sqlstore: update pooled account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}

// mergeMembers overlays staged accounts on stored rows, keeps those matching
// keep, and orders the result by member id.
func mergeMembers(rows []memberRow, staged map[string]*domain.MemberAccount, keep func(*domain.MemberAccount) bool) []domain.MemberAccount {
	out := make([]domain.MemberAccount, 0, len(rows))
	for i := range rows {
		if _, ok := staged[rows[i].MemberID]; ok {
			continue
		}
		acc := rows[i].toDomain()
		if keep(&acc) {
			out = append(out, acc)
		}
	}
	for _, acc := range staged {
		if keep(acc) {
			out = append(out, *acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out
}
