package service_test

import (
	"context"
	"testing"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

func loanFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.seed(t,
		saver("alice", 600_000),
		saver("bruno", 1_500_000),
		saver("chloe", 500_000),
	)
	return f
}

func TestIssueLoan_ReferenceExample(t *testing.T) {
	f := loanFixture(t)
	ctx := context.Background()

	receipt, err := f.svc.IssueLoan(ctx, "alice", dec(2_000_000))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	assertAmount(t, "ceiling", receipt.Ceiling, 2_400_000)
	assertAmount(t, "interest", receipt.Interest, 60_000)
	assertAmount(t, "net", receipt.NetDisbursed, 1_940_000)

	if len(receipt.Distribution.Shares) != 2 {
		t.Fatalf("expected 2 beneficiaries, got %d", len(receipt.Distribution.Shares))
	}
	assertAmount(t, "remainder", receipt.Distribution.Remainder, 0)

	assertAmount(t, "alice borrowed", f.member(t, "alice").Borrowed, 2_000_000)
	assertAmount(t, "alice savings", f.member(t, "alice").Savings, 600_000)
	assertAmount(t, "bruno savings", f.member(t, "bruno").Savings, 1_545_000)
	assertAmount(t, "chloe savings", f.member(t, "chloe").Savings, 515_000)

	pool := f.pool(t)
	assertAmount(t, "pool savings", pool.Savings, 600_000)
	assertAmount(t, "pool borrowed out", pool.BorrowedOut, 2_000_000)
	assertAmount(t, "pool reserve", pool.CashReserve, 0)
}

func TestIssueLoan_Conservation(t *testing.T) {
	f := loanFixture(t)
	ctx := context.Background()

	before := f.pool(t)
	if _, err := f.svc.IssueLoan(ctx, "chloe", dec(1_000_000)); err != nil {
		t.Fatal(err)
	}
	after := f.pool(t)

	if !before.Savings.Add(before.BorrowedOut).Equal(after.Savings.Add(after.BorrowedOut)) {
		t.Errorf("pool savings + borrowed out changed: %s+%s -> %s+%s",
			before.Savings, before.BorrowedOut, after.Savings, after.BorrowedOut)
	}
}

func TestIssueLoan_CeilingExceeded(t *testing.T) {
	f := loanFixture(t)

	_, err := f.svc.IssueLoan(context.Background(), "alice", dec(2_500_000))
	assertKind(t, err, domain.ErrCeilingExceeded)
	assertAmount(t, "alice borrowed", f.member(t, "alice").Borrowed, 0)
}

func TestIssueLoan_SingleActiveLoan(t *testing.T) {
	f := loanFixture(t)
	ctx := context.Background()

	if _, err := f.svc.IssueLoan(ctx, "alice", dec(100_000)); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.IssueLoan(ctx, "alice", dec(100_000))
	assertKind(t, err, domain.ErrLoanAlreadyActive)
	assertAmount(t, "alice borrowed", f.member(t, "alice").Borrowed, 100_000)
}

func TestIssueLoan_Rejections(t *testing.T) {
	f := loanFixture(t)
	f.seed(t,
		domain.MemberAccount{MemberID: "dora", Active: true},
		domain.MemberAccount{MemberID: "eli", Savings: dec(1000), Active: false},
	)
	ctx := context.Background()

	tests := []struct {
		name   string
		member string
		amount string
		want   *domain.LedgerError
	}{
		{"zero amount", "alice", "0", domain.ErrInvalidAmount},
		{"negative amount", "alice", "-10", domain.ErrInvalidAmount},
		{"sub-cent amount", "alice", "1000.001", domain.ErrInvalidAmount},
		{"unknown member", "ghost", "1000", domain.ErrAccountNotFound},
		{"no savings", "dora", "1000", domain.ErrNoSavings},
		{"inactive", "eli", "1000", domain.ErrAccountInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.IssueLoan(ctx, tt.member, decimal.RequireFromString(tt.amount))
			assertKind(t, err, tt.want)
		})
	}
}

func TestIssueLoan_InsufficientPoolFundsLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.seed(t, saver("alice", 400_000), saver("bruno", 100_000))
	ctx := context.Background()

	// Ceiling is 2,000,000 but the pool only holds 500,000.
	_, err := f.svc.IssueLoan(ctx, "alice", dec(1_000_000))
	assertKind(t, err, domain.ErrInsufficientPoolFunds)

	assertAmount(t, "alice borrowed", f.member(t, "alice").Borrowed, 0)
	assertAmount(t, "bruno savings", f.member(t, "bruno").Savings, 100_000)
	assertAmount(t, "pool savings", f.pool(t).Savings, 500_000)

	txs, err := f.svc.ListTransactions(ctx, domain.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 0 {
		t.Errorf("expected no transactions, got %d", len(txs))
	}
}

func TestIssueLoan_RecordsLinkedTransactions(t *testing.T) {
	f := loanFixture(t)
	ctx := context.Background()

	receipt, err := f.svc.IssueLoan(ctx, "alice", dec(2_000_000))
	if err != nil {
		t.Fatal(err)
	}
	loanTx, interestTx := receipt.Transactions[0], receipt.Transactions[1]
	if loanTx.Type != domain.TxLoan || loanTx.Direction != domain.Debit {
		t.Errorf("unexpected loan record: %+v", loanTx)
	}
	assertAmount(t, "loan record amount", loanTx.Amount, 1_940_000)
	if loanTx.PeriodID != testPeriod || loanTx.SessionID != "session-6" {
		t.Errorf("loan record not stamped with the current period: %+v", loanTx)
	}

	interest, err := f.svc.ListTransactions(ctx, domain.TransactionFilter{Type: domain.TxInterest})
	if err != nil {
		t.Fatal(err)
	}
	if len(interest) != 3 {
		t.Fatalf("expected borrower + 2 beneficiary interest records, got %d", len(interest))
	}
	for _, tx := range interest {
		if tx.MemberID == "alice" {
			continue
		}
		if tx.ParentID != interestTx.ID {
			t.Errorf("beneficiary record %s not linked to %s", tx.ID, interestTx.ID)
		}
	}
}

func TestRepayLoan(t *testing.T) {
	f := loanFixture(t)
	ctx := context.Background()

	_, err := f.svc.RepayLoan(ctx, "alice", dec(1000))
	assertKind(t, err, domain.ErrNoActiveLoan)

	if _, err := f.svc.IssueLoan(ctx, "alice", dec(200_000)); err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.RepayLoan(ctx, "alice", dec(200_001))
	assertKind(t, err, domain.ErrRepaymentExceedsDebt)

	if _, err := f.svc.RepayLoan(ctx, "alice", dec(150_000)); err != nil {
		t.Fatal(err)
	}
	assertAmount(t, "borrowed after partial", f.member(t, "alice").Borrowed, 50_000)

	record, err := f.svc.RepayLoan(ctx, "alice", dec(50_000))
	if err != nil {
		t.Fatal(err)
	}
	if record.Type != domain.TxRepayment || record.Direction != domain.Credit {
		t.Errorf("unexpected repayment record: %+v", record)
	}

	pool := f.pool(t)
	assertAmount(t, "pool borrowed out", pool.BorrowedOut, 0)
	assertAmount(t, "pool savings", pool.Savings, 2_600_000)

	// Fully repaid: a new loan is allowed.
	if _, err := f.svc.IssueLoan(ctx, "alice", dec(100_000)); err != nil {
		t.Errorf("expected new loan after repayment, got %v", err)
	}
}

func TestIssueLoan_SingleOtherSaver(t *testing.T) {
	f := newFixture(t)
	f.seed(t, saver("borrower", 100_000), saver("m1", 100_000))

	// 303 of interest goes to m1 alone: 300 credited, 3 to the reserve.
	receipt, err := f.svc.IssueLoan(context.Background(), "borrower", dec(10_100))
	if err != nil {
		t.Fatal(err)
	}
	if len(receipt.Distribution.Shares) != 1 || receipt.Distribution.Shares[0].MemberID != "m1" {
		t.Fatalf("expected m1 as sole beneficiary, got %+v", receipt.Distribution.Shares)
	}
	assertAmount(t, "m1 share", receipt.Distribution.Shares[0].Amount, 300)
	assertAmount(t, "remainder", receipt.Distribution.Remainder, 3)
	assertAmount(t, "m1 savings", f.member(t, "m1").Savings, 100_300)
	assertAmount(t, "reserve", f.pool(t).CashReserve, 3)
}
