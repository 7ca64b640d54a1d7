package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/handler"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/cache"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/client"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/observability"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/resilience"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/sqlstore"
	"github.com/boddenberg/mutuelle-ledger/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const periodJSON = `{"id":"2024-S1","name":"First semester","current":true,` +
	`"assistance_total":"600","recurring_event_total":"400","latest_session_id":"session-6"}`

type apiClient struct {
	t       *testing.T
	baseURL string
	http    *http.Client
}

func (c *apiClient) call(method, path, token string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		c.t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (c *apiClient) mustCall(method, path, token string, body any, want int, out any) {
	c.t.Helper()
	if got := c.call(method, path, token, body, out); got != want {
		c.t.Fatalf("%s %s: expected %d, got %d", method, path, want, got)
	}
}

// TestIntegration_FullFlow runs the reference scenario over HTTP against a
// SQLite ledger and a mock period service.
func TestIntegration_FullFlow(t *testing.T) {
	// --- Mock period service ---
	periodServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/periods/current", "/v1/periods/2024-S1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(periodJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	defer periodServer.Close()

	// --- Build the application ---
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	retry := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}

	store, err := sqlstore.Open(sqlstore.DriverSQLite,
		fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		sqlstore.Options{Retry: retry, Logger: logger})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	periodCache := cache.New[*domain.Period](time.Minute)
	defer periodCache.Close()
	periods := client.NewPeriodClient(&http.Client{Timeout: 5 * time.Second}, periodServer.URL,
		retry, periodCache, time.Minute, metrics, logger)

	fund := service.NewFundService(store, periods, service.DefaultFundConfig(), metrics, logger)
	if err := fund.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	auth := handler.NewAuthenticator("integration-secret")
	limiter := handler.NewRateLimiter(1000, 1000)
	defer limiter.Close()
	router := handler.NewRouter(fund, nil, auth, limiter, metrics, logger)
	server := httptest.NewServer(router)
	defer server.Close()

	api := &apiClient{t: t, baseURL: server.URL, http: server.Client()}
	admin, err := auth.Sign("treasurer", handler.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	// --- Members join, pay their fee and save ---
	savings := map[string]int64{"alice": 600_000, "bruno": 1_500_000, "chloe": 500_000}
	for _, id := range []string{"alice", "bruno", "chloe"} {
		api.mustCall(http.MethodPost, "/v1/admin/members", admin, map[string]string{"member_id": id}, http.StatusCreated, nil)
		api.mustCall(http.MethodPost, "/v1/members/"+id+"/registration-fee", admin, map[string]any{"amount": 25000}, http.StatusCreated, nil)
		api.mustCall(http.MethodPost, "/v1/members/"+id+"/savings", admin, map[string]any{"amount": savings[id]}, http.StatusCreated, nil)
	}

	var before domain.PooledAccount
	api.mustCall(http.MethodGet, "/v1/pool", admin, nil, http.StatusOK, &before)
	if !before.Savings.Equal(decimal.NewFromInt(2_675_000)) {
		t.Fatalf("expected pool savings 2675000, got %s", before.Savings)
	}

	// --- Alice borrows against her ceiling ---
	alice, err := auth.Sign("alice", handler.RoleMember, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	var ceiling struct {
		Ceiling decimal.Decimal `json:"ceiling"`
	}
	api.mustCall(http.MethodGet, "/v1/members/alice/ceiling", alice, nil, http.StatusOK, &ceiling)
	if !ceiling.Ceiling.Equal(decimal.NewFromInt(2_400_000)) {
		t.Fatalf("expected ceiling 2400000, got %s", ceiling.Ceiling)
	}

	if code := api.call(http.MethodPost, "/v1/members/alice/loans", alice, map[string]any{"amount": 2_500_000}, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("loan above ceiling: expected 422, got %d", code)
	}

	var receipt domain.LoanReceipt
	api.mustCall(http.MethodPost, "/v1/members/alice/loans", alice, map[string]any{"amount": 2_000_000}, http.StatusCreated, &receipt)
	if !receipt.Interest.Equal(decimal.NewFromInt(60_000)) || !receipt.NetDisbursed.Equal(decimal.NewFromInt(1_940_000)) {
		t.Errorf("unexpected receipt: interest=%s net=%s", receipt.Interest, receipt.NetDisbursed)
	}

	for id, want := range map[string]int64{"bruno": 1_545_000, "chloe": 515_000, "alice": 600_000} {
		var acc domain.MemberAccount
		api.mustCall(http.MethodGet, "/v1/members/"+id, admin, nil, http.StatusOK, &acc)
		if !acc.Savings.Equal(decimal.NewFromInt(want)) {
			t.Errorf("%s: expected savings %d, got %s", id, want, acc.Savings)
		}
	}

	var after domain.PooledAccount
	api.mustCall(http.MethodGet, "/v1/pool", admin, nil, http.StatusOK, &after)
	if !after.Savings.Add(after.BorrowedOut).Equal(before.Savings.Add(before.BorrowedOut)) {
		t.Errorf("pool not conserved: before %s+%s, after %s+%s",
			before.Savings, before.BorrowedOut, after.Savings, after.BorrowedOut)
	}

	// --- Period close: renfoulement ---
	var assessment domain.Assessment
	api.mustCall(http.MethodPost, "/v1/admin/periods/2024-S1/renfoulement", admin, nil, http.StatusCreated, &assessment)
	if !assessment.UnitAmount.Equal(decimal.NewFromInt(325)) || assessment.DistributedMembersCount != 3 {
		t.Errorf("unexpected assessment: %+v", assessment)
	}
	if code := api.call(http.MethodPost, "/v1/admin/periods/2024-S1/renfoulement", admin, nil, nil); code != http.StatusConflict {
		t.Errorf("second assessment: expected 409, got %d", code)
	}

	api.mustCall(http.MethodPost, "/v1/members/alice/renfoulement", alice, map[string]any{"amount": 325}, http.StatusCreated, nil)

	// --- Audit trail and stats ---
	var txs domain.ListResponse[domain.Transaction]
	api.mustCall(http.MethodGet, "/v1/members/alice/transactions?type=RENFOULEMENT", alice, nil, http.StatusOK, &txs)
	if len(txs.Data) != 2 {
		t.Errorf("expected levy and payment entries, got %d", len(txs.Data))
	}
	for _, tx := range txs.Data {
		if tx.PeriodID != "2024-S1" {
			t.Errorf("transaction %s not stamped with the period: %q", tx.ID, tx.PeriodID)
		}
	}

	var stats domain.LedgerStats
	api.mustCall(http.MethodGet, "/v1/admin/stats", admin, nil, http.StatusOK, &stats)
	if stats.OperationsSucceeded == 0 || stats.InterestDistributed != 60_000 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
