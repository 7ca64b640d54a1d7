package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger movement.
type TransactionType string

const (
	TxSaving          TransactionType = "SAVING"
	TxWithdrawal      TransactionType = "WITHDRAWAL"
	TxLoan            TransactionType = "LOAN"
	TxRepayment       TransactionType = "REPAYMENT"
	TxInterest        TransactionType = "INTEREST"
	TxRenfoulement    TransactionType = "RENFOULEMENT"
	TxRegistrationFee TransactionType = "REGISTRATION_FEE"
	TxSolidarity      TransactionType = "SOLIDARITY"
)

// Direction is relative to the member: CREDIT means money towards the
// member's accounts, DEBIT means money owed or paid out of them.
type Direction string

const (
	Credit Direction = "CREDIT"
	Debit  Direction = "DEBIT"
)

// Transaction is an immutable, append-only audit record of one movement.
type Transaction struct {
	ID          string          `json:"id"`
	MemberID    string          `json:"member_id"`
	PeriodID    string          `json:"period_id"`
	SessionID   string          `json:"session_id,omitempty"`
	ParentID    string          `json:"parent_id,omitempty"`
	Type        TransactionType `json:"type"`
	Direction   Direction       `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TransactionFilter narrows a transaction listing. Zero values match all.
type TransactionFilter struct {
	MemberID string
	PeriodID string
	Type     TransactionType
	Limit    int
	Offset   int
}

// Matches reports whether tx satisfies the filter, ignoring paging.
func (f TransactionFilter) Matches(tx *Transaction) bool {
	if f.MemberID != "" && tx.MemberID != f.MemberID {
		return false
	}
	if f.PeriodID != "" && tx.PeriodID != f.PeriodID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	return true
}
