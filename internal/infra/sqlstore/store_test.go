package sqlstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/resilience"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/sqlstore"
	"github.com/boddenberg/mutuelle-ledger/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, members ...string) *sqlstore.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	s, err := sqlstore.Open(sqlstore.DriverSQLite, dsn, sqlstore.Options{
		Retry: resilience.Config{MaxRetries: 3, MaxConcurrency: 4},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.EnsurePooledAccount(ctx))
	require.NoError(t, s.Atomically(ctx, func(tx port.LedgerTx) error {
		for _, id := range members {
			if err := tx.CreateMemberAccount(ctx, &domain.MemberAccount{MemberID: id, Active: true}); err != nil {
				return err
			}
		}
		return nil
	}))
	return s
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestEnsurePooledAccount_Idempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsurePooledAccount(ctx))
	require.NoError(t, s.EnsurePooledAccount(ctx))

	pool, err := s.GetPooledAccount(ctx)
	require.NoError(t, err)
	require.True(t, pool.Savings.IsZero())
}

func TestAtomically_CommitAndVersion(t *testing.T) {
	s := setupStore(t, "m1")
	ctx := context.Background()

	require.NoError(t, s.Atomically(ctx, func(tx port.LedgerTx) error {
		if err := tx.Credit(ctx, "m1", domain.FieldSavings, decimal.RequireFromString("600000.50")); err != nil {
			return err
		}
		if err := tx.CreditPool(ctx, domain.PoolSavings, decimal.RequireFromString("600000.50")); err != nil {
			return err
		}
		return tx.RecordTransaction(ctx, &domain.Transaction{
			MemberID: "m1", PeriodID: "2024", Type: domain.TxSaving, Direction: domain.Credit,
			Amount: decimal.RequireFromString("600000.50"),
		})
	}))

	acc, err := s.GetMemberAccount(ctx, "m1")
	require.NoError(t, err)
	require.True(t, acc.Savings.Equal(decimal.RequireFromString("600000.50")), "savings %s", acc.Savings)

	pool, err := s.GetPooledAccount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pool.Version)

	txs, err := s.ListTransactions(ctx, domain.TransactionFilter{PeriodID: "2024"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, domain.TxSaving, txs[0].Type)
	require.NotEmpty(t, txs[0].ID)
}

func TestAtomically_RollsBackEverything(t *testing.T) {
	s := setupStore(t, "m1")
	ctx := context.Background()

	err := s.Atomically(ctx, func(tx port.LedgerTx) error {
		require.NoError(t, tx.Credit(ctx, "m1", domain.FieldSavings, dec(100)))
		require.NoError(t, tx.RecordTransaction(ctx, &domain.Transaction{MemberID: "m1", Type: domain.TxSaving, Direction: domain.Credit, Amount: dec(100)}))
		return tx.DebitPool(ctx, domain.PoolSavings, dec(1))
	})
	require.True(t, errors.Is(err, domain.ErrInsufficientPoolFunds), "got %v", err)

	acc, err := s.GetMemberAccount(ctx, "m1")
	require.NoError(t, err)
	require.True(t, acc.Savings.IsZero())

	txs, err := s.ListTransactions(ctx, domain.TransactionFilter{})
	require.NoError(t, err)
	require.Empty(t, txs)
}

func TestGetMemberAccount_NotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.GetMemberAccount(context.Background(), "ghost")
	require.True(t, errors.Is(err, domain.ErrAccountNotFound), "got %v", err)
}

func TestCreateMemberAccount_Duplicate(t *testing.T) {
	s := setupStore(t, "m1")
	ctx := context.Background()
	err := s.Atomically(ctx, func(tx port.LedgerTx) error {
		return tx.CreateMemberAccount(ctx, &domain.MemberAccount{MemberID: "m1", Active: true})
	})
	require.True(t, errors.Is(err, domain.ErrAccountExists), "got %v", err)
}

func TestListCompliantMembers(t *testing.T) {
	s := setupStore(t, "c", "a", "b")
	ctx := context.Background()

	require.NoError(t, s.Atomically(ctx, func(tx port.LedgerTx) error {
		if err := tx.Credit(ctx, "b", domain.FieldUnpaidRegistration, dec(25000)); err != nil {
			return err
		}
		return tx.SetMemberActive(ctx, "c", false)
	}))

	compliant, err := s.ListCompliantMembers(ctx)
	require.NoError(t, err)
	require.Len(t, compliant, 1)
	require.Equal(t, "a", compliant[0].MemberID)

	active, err := s.ListActiveMembers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "a", active[0].MemberID)
	require.Equal(t, "b", active[1].MemberID)
}

func TestConcurrentUnitsDoNotLoseUpdates(t *testing.T) {
	s := setupStore(t, "m1")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Atomically(ctx, func(tx port.LedgerTx) error {
				if err := tx.Credit(ctx, "m1", domain.FieldSavings, dec(25)); err != nil {
					return err
				}
				return tx.CreditPool(ctx, domain.PoolSavings, dec(25))
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	acc, err := s.GetMemberAccount(ctx, "m1")
	require.NoError(t, err)
	require.True(t, acc.Savings.Equal(dec(500)), "savings %s", acc.Savings)

	pool, err := s.GetPooledAccount(ctx)
	require.NoError(t, err)
	require.True(t, pool.Savings.Equal(dec(500)), "pool %s", pool.Savings)
	require.Equal(t, int64(20), pool.Version)
}

func TestTiers_RoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTiers(ctx, domain.DefaultCeilingTiers()))
	require.NoError(t, s.SaveTiers(ctx, domain.DefaultCeilingTiers()))

	tiers, err := s.ListTiers(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 5)
	require.NotNil(t, tiers[0].Cap)
	require.True(t, tiers[0].Cap.Equal(dec(2_000_000)))
	require.Nil(t, tiers[4].MaxSavings)
	require.True(t, tiers[4].Multiplier.Equal(decimal.RequireFromString("1.5")))
}

func TestAssessment_OnePerPeriod(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	got, err := s.AssessmentForPeriod(ctx, "2024")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.Atomically(ctx, func(tx port.LedgerTx) error {
		return tx.SaveAssessment(ctx, &domain.Assessment{PeriodID: "2024", UnitAmount: dec(325), BaseMembersCount: 3, DistributedMembersCount: 5})
	}))

	got, err = s.AssessmentForPeriod(ctx, "2024")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.UnitAmount.Equal(dec(325)))
	require.Equal(t, 5, got.DistributedMembersCount)
}

func TestListAssessments_OrderedByCreation(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	empty, err := s.ListAssessments(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)

	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Atomically(ctx, func(tx port.LedgerTx) error {
		if err := tx.SaveAssessment(ctx, &domain.Assessment{PeriodID: "2025", UnitAmount: dec(100), CreatedAt: base.AddDate(1, 0, 0)}); err != nil {
			return err
		}
		return tx.SaveAssessment(ctx, &domain.Assessment{PeriodID: "2024", UnitAmount: dec(325), CreatedAt: base})
	}))

	list, err := s.ListAssessments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "2024", list[0].PeriodID)
	require.Equal(t, "2025", list[1].PeriodID)
	require.True(t, list[0].Applied)
	require.True(t, list[0].UnitAmount.Equal(dec(325)))
}

func TestPeriods_UpsertAndCurrent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.CurrentPeriod(ctx)
	require.True(t, errors.Is(err, domain.ErrNoActivePeriod))

	require.NoError(t, s.UpsertPeriod(ctx, &domain.Period{ID: "2024", Current: true, AssistanceTotal: dec(800)}))
	require.NoError(t, s.UpsertPeriod(ctx, &domain.Period{ID: "2025", Current: true, RecurringEventTotal: dec(200)}))

	cur, err := s.CurrentPeriod(ctx)
	require.NoError(t, err)
	require.Equal(t, "2025", cur.ID)

	old, err := s.GetPeriod(ctx, "2024")
	require.NoError(t, err)
	require.False(t, old.Current)
	require.True(t, old.AssistanceTotal.Equal(dec(800)))

	_, err = s.GetPeriod(ctx, "1999")
	require.True(t, errors.Is(err, domain.ErrPeriodNotFound))
}
