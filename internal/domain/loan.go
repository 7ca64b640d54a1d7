package domain

import "github.com/shopspring/decimal"

// InterestShare is one beneficiary's part of a redistributed interest.
type InterestShare struct {
	MemberID string          `json:"member_id"`
	Savings  decimal.Decimal `json:"savings"`
	Amount   decimal.Decimal `json:"amount"`
}

// Distribution is the outcome of redistributing a loan's interest.
// Sum(Shares.Amount) + Remainder == Total.
type Distribution struct {
	Total     decimal.Decimal `json:"total"`
	Shares    []InterestShare `json:"shares"`
	Remainder decimal.Decimal `json:"remainder"`
}

// Distributed returns the sum of all shares.
func (d *Distribution) Distributed() decimal.Decimal {
	sum := decimal.Zero
	for _, s := range d.Shares {
		sum = sum.Add(s.Amount)
	}
	return sum
}

// LoanReceipt describes an issued loan.
type LoanReceipt struct {
	MemberID     string          `json:"member_id"`
	Amount       decimal.Decimal `json:"amount"`
	Interest     decimal.Decimal `json:"interest"`
	NetDisbursed decimal.Decimal `json:"net_disbursed"`
	Ceiling      decimal.Decimal `json:"ceiling"`
	Distribution *Distribution   `json:"distribution"`
	Transactions []Transaction   `json:"transactions"`
}
