package service_test

import (
	"context"
	"testing"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/money"
	"github.com/boddenberg/mutuelle-ledger/internal/service"

	"github.com/shopspring/decimal"
)

func TestPlanDistribution_ReferenceExample(t *testing.T) {
	members := []domain.MemberAccount{
		saver("m2", 100_000),
		saver("m1", 300_000),
		saver("borrower", 900_000),
	}

	dist := service.PlanDistribution(dec(1000), members, "borrower", money.Unit)

	if len(dist.Shares) != 2 {
		t.Fatalf("expected 2 shares, got %d", len(dist.Shares))
	}
	if dist.Shares[0].MemberID != "m1" || dist.Shares[1].MemberID != "m2" {
		t.Errorf("shares must be ordered by member id: %+v", dist.Shares)
	}
	assertAmount(t, "m1 share", dist.Shares[0].Amount, 750)
	assertAmount(t, "m2 share", dist.Shares[1].Amount, 250)
	assertAmount(t, "remainder", dist.Remainder, 0)
}

func TestPlanDistribution_RemainderIsLossless(t *testing.T) {
	tests := []struct {
		name     string
		interest string
		savings  []int64
	}{
		{"thirds", "100", []int64{1, 1, 1}},
		{"odd interest", "60000.37", []int64{125_000, 310_000, 7}},
		{"below unit", "24", []int64{50, 50}},
		{"many members", "98765.43", []int64{3, 5, 7, 11, 13, 17, 19, 23}},
		{"single saver", "1010.37", []int64{42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var members []domain.MemberAccount
			for i, s := range tt.savings {
				members = append(members, saver(string(rune('a'+i)), s))
			}
			interest := decimal.RequireFromString(tt.interest)

			dist := service.PlanDistribution(interest, members, "", money.Unit)

			if dist.Remainder.Sign() < 0 {
				t.Errorf("negative remainder %s", dist.Remainder)
			}
			if !dist.Distributed().Add(dist.Remainder).Equal(interest) {
				t.Errorf("shares %s + remainder %s != %s", dist.Distributed(), dist.Remainder, interest)
			}
			for _, s := range dist.Shares {
				if !money.FloorToUnit(s.Amount, money.Unit).Equal(s.Amount) {
					t.Errorf("share %s is not a multiple of %s", s.Amount, money.Unit)
				}
			}
		})
	}
}

func TestPlanDistribution_SingleCandidate(t *testing.T) {
	members := []domain.MemberAccount{saver("borrower", 900_000), saver("m1", 42)}

	dist := service.PlanDistribution(decimal.RequireFromString("1010.37"), members, "borrower", money.Unit)

	if len(dist.Shares) != 1 || dist.Shares[0].MemberID != "m1" {
		t.Fatalf("expected a single share for m1, got %+v", dist.Shares)
	}
	assertAmount(t, "m1 share", dist.Shares[0].Amount, 1000)
	if !dist.Remainder.Equal(decimal.RequireFromString("10.37")) {
		t.Errorf("remainder: expected 10.37, got %s", dist.Remainder)
	}
}

func TestPlanDistribution_NoCandidates(t *testing.T) {
	members := []domain.MemberAccount{
		saver("borrower", 500_000),
		saver("empty", 0),
		{MemberID: "gone", Savings: dec(10_000), Active: false},
	}

	dist := service.PlanDistribution(dec(900), members, "borrower", money.Unit)

	if len(dist.Shares) != 0 {
		t.Errorf("expected no shares, got %+v", dist.Shares)
	}
	assertAmount(t, "remainder", dist.Remainder, 900)
}

func TestPlanDistribution_ZeroInterest(t *testing.T) {
	dist := service.PlanDistribution(decimal.Zero, []domain.MemberAccount{saver("m1", 100)}, "", money.Unit)
	if len(dist.Shares) != 0 || !dist.Remainder.IsZero() || !dist.Total.IsZero() {
		t.Errorf("expected empty distribution, got %+v", dist)
	}
}

func TestIssueLoan_RemainderGoesToReserve(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		saver("borrower", 100_000),
		saver("m1", 100_000),
		saver("m2", 100_000),
		saver("m3", 100_000),
	)

	// 303 of interest: 101 each floors to 100, leaving 3.
	receipt, err := f.svc.IssueLoan(context.Background(), "borrower", dec(10_100))
	if err != nil {
		t.Fatal(err)
	}
	assertAmount(t, "interest", receipt.Interest, 303)
	assertAmount(t, "remainder", receipt.Distribution.Remainder, 3)
	assertAmount(t, "reserve", f.pool(t).CashReserve, 3)
	assertAmount(t, "m1 savings", f.member(t, "m1").Savings, 100_100)

	if s := f.metrics.Snapshot(); s.InterestDistributed != 300 || s.InterestToReserve != 3 {
		t.Errorf("unexpected interest metrics: %+v", s)
	}
}
