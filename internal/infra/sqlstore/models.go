package sqlstore

import (
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// poolRowID is the primary key of the single pooled account row.
const poolRowID = 1

type memberRow struct {
	MemberID           string          `gorm:"primaryKey;size:64"`
	Savings            decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	UnpaidRegistration decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Solidarity         decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	UnpaidSolidarity   decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Borrowed           decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	UnpaidRenfoulement decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Active             bool            `gorm:"not null;index"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (memberRow) TableName() string { return "member_accounts" }

type poolRow struct {
	ID                      uint            `gorm:"primaryKey"`
	Savings                 decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Solidarity              decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	BorrowedOut             decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	UnpaidRegistrationTotal decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	UnpaidRenfoulementTotal decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CashReserve             decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Version                 int64           `gorm:"not null"`
	UpdatedAt               time.Time
}

func (poolRow) TableName() string { return "pooled_accounts" }

type transactionRow struct {
	Seq         uint64          `gorm:"primaryKey;autoIncrement"`
	ID          string          `gorm:"size:36;uniqueIndex"`
	MemberID    string          `gorm:"size:64;index"`
	PeriodID    string          `gorm:"size:64;index"`
	SessionID   string          `gorm:"size:64"`
	ParentID    string          `gorm:"size:36;index"`
	Type        string          `gorm:"size:32;index"`
	Direction   string          `gorm:"size:8"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Description string          `gorm:"size:255"`
	CreatedAt   time.Time
}

func (transactionRow) TableName() string { return "ledger_transactions" }

type assessmentRow struct {
	ID                      string          `gorm:"primaryKey;size:36"`
	PeriodID                string          `gorm:"size:64;uniqueIndex"`
	TotalToDistribute       decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	BaseMembersCount        int             `gorm:"not null"`
	UnitAmount              decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	DistributedMembersCount int             `gorm:"not null"`
	ExpectedTotal           decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CreatedAt               time.Time
}

func (assessmentRow) TableName() string { return "renfoulement_assessments" }

type tierRow struct {
	Position   int                 `gorm:"primaryKey;autoIncrement:false"`
	MinSavings decimal.Decimal     `gorm:"type:numeric(20,4);not null"`
	MaxSavings decimal.NullDecimal `gorm:"type:numeric(20,4)"`
	Multiplier decimal.Decimal     `gorm:"type:numeric(10,4);not null"`
	Cap        decimal.NullDecimal `gorm:"type:numeric(20,4)"`
}

func (tierRow) TableName() string { return "ceiling_tiers" }

type periodRow struct {
	ID                  string          `gorm:"primaryKey;size:64"`
	Name                string          `gorm:"size:128"`
	Current             bool            `gorm:"column:is_current;not null;index"`
	AssistanceTotal     decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	RecurringEventTotal decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	LatestSessionID     string          `gorm:"size:64"`
	UpdatedAt           time.Time
}

func (periodRow) TableName() string { return "accounting_periods" }

// AutoMigrate creates or updates every ledger table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&memberRow{},
		&poolRow{},
		&transactionRow{},
		&assessmentRow{},
		&tierRow{},
		&periodRow{},
	)
}

// ============================================================
// Conversions
// ============================================================

func (r *memberRow) toDomain() domain.MemberAccount {
	return domain.MemberAccount{
		MemberID:           r.MemberID,
		Savings:            r.Savings,
		UnpaidRegistration: r.UnpaidRegistration,
		Solidarity:         r.Solidarity,
		UnpaidSolidarity:   r.UnpaidSolidarity,
		Borrowed:           r.Borrowed,
		UnpaidRenfoulement: r.UnpaidRenfoulement,
		Active:             r.Active,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func memberRowFrom(a *domain.MemberAccount) memberRow {
	return memberRow{
		MemberID:           a.MemberID,
		Savings:            a.Savings,
		UnpaidRegistration: a.UnpaidRegistration,
		Solidarity:         a.Solidarity,
		UnpaidSolidarity:   a.UnpaidSolidarity,
		Borrowed:           a.Borrowed,
		UnpaidRenfoulement: a.UnpaidRenfoulement,
		Active:             a.Active,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func (r *poolRow) toDomain() domain.PooledAccount {
	return domain.PooledAccount{
		Savings:                 r.Savings,
		Solidarity:              r.Solidarity,
		BorrowedOut:             r.BorrowedOut,
		UnpaidRegistrationTotal: r.UnpaidRegistrationTotal,
		UnpaidRenfoulementTotal: r.UnpaidRenfoulementTotal,
		CashReserve:             r.CashReserve,
		Version:                 r.Version,
		UpdatedAt:               r.UpdatedAt,
	}
}

func (r *transactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:          r.ID,
		MemberID:    r.MemberID,
		PeriodID:    r.PeriodID,
		SessionID:   r.SessionID,
		ParentID:    r.ParentID,
		Type:        domain.TransactionType(r.Type),
		Direction:   domain.Direction(r.Direction),
		Amount:      r.Amount,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
}

func transactionRowFrom(t *domain.Transaction) transactionRow {
	return transactionRow{
		ID:          t.ID,
		MemberID:    t.MemberID,
		PeriodID:    t.PeriodID,
		SessionID:   t.SessionID,
		ParentID:    t.ParentID,
		Type:        string(t.Type),
		Direction:   string(t.Direction),
		Amount:      t.Amount,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}
}

func (r *assessmentRow) toDomain() *domain.Assessment {
	return &domain.Assessment{
		ID:                      r.ID,
		PeriodID:                r.PeriodID,
		TotalToDistribute:       r.TotalToDistribute,
		BaseMembersCount:        r.BaseMembersCount,
		UnitAmount:              r.UnitAmount,
		DistributedMembersCount: r.DistributedMembersCount,
		ExpectedTotal:           r.ExpectedTotal,
		Applied:                 true,
		CreatedAt:               r.CreatedAt,
	}
}

func (r *tierRow) toDomain() domain.CeilingTier {
	t := domain.CeilingTier{
		Position:   r.Position,
		MinSavings: r.MinSavings,
		Multiplier: r.Multiplier,
	}
	if r.MaxSavings.Valid {
		v := r.MaxSavings.Decimal
		t.MaxSavings = &v
	}
	if r.Cap.Valid {
		v := r.Cap.Decimal
		t.Cap = &v
	}
	return t
}

func tierRowFrom(t *domain.CeilingTier) tierRow {
	r := tierRow{
		Position:   t.Position,
		MinSavings: t.MinSavings,
		Multiplier: t.Multiplier,
	}
	if t.MaxSavings != nil {
		r.MaxSavings = decimal.NewNullDecimal(*t.MaxSavings)
	}
	if t.Cap != nil {
		r.Cap = decimal.NewNullDecimal(*t.Cap)
	}
	return r
}

func (r *periodRow) toDomain() *domain.Period {
	return &domain.Period{
		ID:                  r.ID,
		Name:                r.Name,
		Current:             r.Current,
		AssistanceTotal:     r.AssistanceTotal,
		RecurringEventTotal: r.RecurringEventTotal,
		LatestSessionID:     r.LatestSessionID,
	}
}
