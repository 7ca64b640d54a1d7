package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/cache"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/client"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/observability"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/resilience"

	"go.uber.org/zap"
)

func newPeriodClient(t *testing.T, handler http.HandlerFunc) (*client.PeriodClient, *observability.Metrics) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := cache.New[*domain.Period](time.Minute)
	t.Cleanup(c.Close)

	metrics := observability.NewMetrics()
	pc := client.NewPeriodClient(
		srv.Client(),
		srv.URL,
		resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
		c,
		time.Minute,
		metrics,
		zap.NewNop(),
	)
	return pc, metrics
}

func TestPeriodClient_GetPeriodIsCached(t *testing.T) {
	var calls atomic.Int32
	pc, metrics := newPeriodClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/periods/2024-S1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"2024-S1","name":"First semester","current":true,"assistance_total":"600","recurring_event_total":400,"latest_session_id":"s-6"}`))
	})
	ctx := context.Background()

	p, err := pc.GetPeriod(ctx, "2024-S1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.PayoutTotal().IntPart() != 1000 || p.LatestSessionID != "s-6" {
		t.Errorf("unexpected period: %+v", p)
	}

	if _, err := pc.GetPeriod(ctx, "2024-S1"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls.Load())
	}
	if s := metrics.Snapshot(); s.PeriodCacheHitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %v", s.PeriodCacheHitRate)
	}
}

func TestPeriodClient_CurrentNotFound(t *testing.T) {
	var calls atomic.Int32
	pc, _ := newPeriodClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	})

	_, err := pc.CurrentPeriod(context.Background())
	if !errors.Is(err, domain.ErrNoActivePeriod) {
		t.Fatalf("expected NO_ACTIVE_PERIOD, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("a 404 must not be retried, got %d calls", calls.Load())
	}
}

func TestPeriodClient_GetPeriodNotFound(t *testing.T) {
	pc, _ := newPeriodClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := pc.GetPeriod(context.Background(), "1999")
	if !errors.Is(err, domain.ErrPeriodNotFound) {
		t.Fatalf("expected PERIOD_NOT_FOUND, got %v", err)
	}
}

func TestPeriodClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	pc, _ := newPeriodClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"2024-S1","current":true}`))
	})

	p, err := pc.CurrentPeriod(context.Background())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if p.ID != "2024-S1" {
		t.Errorf("unexpected period: %+v", p)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestPeriodClient_ExternalError(t *testing.T) {
	pc, metrics := newPeriodClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := pc.GetPeriod(context.Background(), "2024-S1")
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if ext.Service != "periods" {
		t.Errorf("unexpected service %q", ext.Service)
	}
	if metrics.Snapshot().ExternalErrors == 0 {
		t.Error("expected external error to be counted")
	}
}

func TestPeriodClient_Invalidate(t *testing.T) {
	var calls atomic.Int32
	pc, _ := newPeriodClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"id":"2024-S1","current":true}`))
	})
	ctx := context.Background()

	if _, err := pc.CurrentPeriod(ctx); err != nil {
		t.Fatal(err)
	}
	pc.Invalidate("2024-S1")
	if _, err := pc.CurrentPeriod(ctx); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected refetch after invalidate, got %d calls", calls.Load())
	}
}
