package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Member accounts
// ============================================================

// MemberField names one monetary balance of a member account.
type MemberField string

const (
	FieldSavings            MemberField = "savings"
	FieldUnpaidRegistration MemberField = "unpaid_registration"
	FieldSolidarity         MemberField = "solidarity"
	FieldUnpaidSolidarity   MemberField = "unpaid_solidarity"
	FieldBorrowed           MemberField = "borrowed"
	FieldUnpaidRenfoulement MemberField = "unpaid_renfoulement"
)

// MemberAccount holds a member's balances. Every balance is >= 0.
// Accounts are never deleted, only deactivated.
type MemberAccount struct {
	MemberID           string          `json:"member_id"`
	Savings            decimal.Decimal `json:"savings"`
	UnpaidRegistration decimal.Decimal `json:"unpaid_registration"`
	Solidarity         decimal.Decimal `json:"solidarity"`
	UnpaidSolidarity   decimal.Decimal `json:"unpaid_solidarity"`
	Borrowed           decimal.Decimal `json:"borrowed"`
	UnpaidRenfoulement decimal.Decimal `json:"unpaid_renfoulement"`
	Active             bool            `json:"active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Balance returns a pointer to the balance named by field, or nil when the
// field is unknown.
func (a *MemberAccount) Balance(field MemberField) *decimal.Decimal {
	switch field {
	case FieldSavings:
		return &a.Savings
	case FieldUnpaidRegistration:
		return &a.UnpaidRegistration
	case FieldSolidarity:
		return &a.Solidarity
	case FieldUnpaidSolidarity:
		return &a.UnpaidSolidarity
	case FieldBorrowed:
		return &a.Borrowed
	case FieldUnpaidRenfoulement:
		return &a.UnpaidRenfoulement
	}
	return nil
}

// Credit adds amount to field.
func (a *MemberAccount) Credit(field MemberField, amount decimal.Decimal) error {
	bal := a.Balance(field)
	if bal == nil {
		return &ErrValidation{Field: string(field), Message: "unknown member balance"}
	}
	if amount.Sign() < 0 {
		return NewLedgerError(KindInvalidAmount, "credit amount must not be negative: %s", amount)
	}
	*bal = bal.Add(amount)
	return nil
}

// Debit subtracts amount from field, refusing to go below zero.
func (a *MemberAccount) Debit(field MemberField, amount decimal.Decimal) error {
	bal := a.Balance(field)
	if bal == nil {
		return &ErrValidation{Field: string(field), Message: "unknown member balance"}
	}
	if amount.Sign() < 0 {
		return NewLedgerError(KindInvalidAmount, "debit amount must not be negative: %s", amount)
	}
	if bal.LessThan(amount) {
		return NewLedgerError(KindInsufficientFunds,
			"member %s %s has %s, %s required", a.MemberID, field, bal.StringFixed(2), amount.StringFixed(2))
	}
	*bal = bal.Sub(amount)
	return nil
}

// IsActive reports whether the member takes part in the fund.
func (a *MemberAccount) IsActive() bool {
	return a.Active
}

// HasActiveLoan reports whether the member owes loan principal.
func (a *MemberAccount) HasActiveLoan() bool {
	return a.Borrowed.Sign() > 0
}

// Compliant reports whether the member has no outstanding registration or
// solidarity dues. Only active members can be compliant.
func (a *MemberAccount) Compliant() bool {
	return a.Active && a.UnpaidRegistration.Sign() == 0 && a.UnpaidSolidarity.Sign() == 0
}

// ============================================================
// Pooled account
// ============================================================

// PoolField names one monetary balance of the pooled account.
type PoolField string

const (
	PoolSavings                 PoolField = "savings"
	PoolSolidarity              PoolField = "solidarity"
	PoolBorrowedOut             PoolField = "borrowed_out"
	PoolUnpaidRegistrationTotal PoolField = "unpaid_registration_total"
	PoolUnpaidRenfoulementTotal PoolField = "unpaid_renfoulement_total"
	PoolCashReserve             PoolField = "cash_reserve"
)

// PooledAccount is the fund-wide account. There is exactly one per fund.
type PooledAccount struct {
	Savings                 decimal.Decimal `json:"savings"`
	Solidarity              decimal.Decimal `json:"solidarity"`
	BorrowedOut             decimal.Decimal `json:"borrowed_out"`
	UnpaidRegistrationTotal decimal.Decimal `json:"unpaid_registration_total"`
	UnpaidRenfoulementTotal decimal.Decimal `json:"unpaid_renfoulement_total"`
	CashReserve             decimal.Decimal `json:"cash_reserve"`
	Version                 int64           `json:"version"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// Balance returns a pointer to the balance named by field, or nil.
func (p *PooledAccount) Balance(field PoolField) *decimal.Decimal {
	switch field {
	case PoolSavings:
		return &p.Savings
	case PoolSolidarity:
		return &p.Solidarity
	case PoolBorrowedOut:
		return &p.BorrowedOut
	case PoolUnpaidRegistrationTotal:
		return &p.UnpaidRegistrationTotal
	case PoolUnpaidRenfoulementTotal:
		return &p.UnpaidRenfoulementTotal
	case PoolCashReserve:
		return &p.CashReserve
	}
	return nil
}

// Credit adds amount to field.
func (p *PooledAccount) Credit(field PoolField, amount decimal.Decimal) error {
	bal := p.Balance(field)
	if bal == nil {
		return &ErrValidation{Field: string(field), Message: "unknown pool balance"}
	}
	if amount.Sign() < 0 {
		return NewLedgerError(KindInvalidAmount, "credit amount must not be negative: %s", amount)
	}
	*bal = bal.Add(amount)
	return nil
}

// Debit subtracts amount from field. A pool balance never goes negative.
func (p *PooledAccount) Debit(field PoolField, amount decimal.Decimal) error {
	bal := p.Balance(field)
	if bal == nil {
		return &ErrValidation{Field: string(field), Message: "unknown pool balance"}
	}
	if amount.Sign() < 0 {
		return NewLedgerError(KindInvalidAmount, "debit amount must not be negative: %s", amount)
	}
	if bal.LessThan(amount) {
		return NewLedgerError(KindInsufficientPoolFunds,
			"pool %s has %s, %s required", field, bal.StringFixed(2), amount.StringFixed(2))
	}
	*bal = bal.Sub(amount)
	return nil
}
