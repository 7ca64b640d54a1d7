package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/infra/observability"
	"github.com/boddenberg/mutuelle-ledger/internal/port"
	"github.com/boddenberg/mutuelle-ledger/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
// periods may be nil when accounting periods are owned by a remote service;
// limiter may be nil to disable rate limiting.
func NewRouter(
	fund *service.FundService,
	periods port.PeriodWriter,
	auth *Authenticator,
	limiter *RateLimiter,
	metrics *observability.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(fund))
	r.Get("/readyz", readyzHandler(fund))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware(logger))
		}
		r.Use(JWTAuthMiddleware(auth, logger))

		// Fund-wide reads
		r.Get("/pool", poolHandler(fund, logger))
		r.Get("/ceiling", ceilingHandler(fund, logger))
		r.Get("/ceiling/tiers", ceilingTiersHandler(fund, logger))

		// Member accounts
		r.Route("/members/{memberId}", func(r chi.Router) {
			r.Use(RequireSelfOrAdmin(logger))

			r.Get("/", memberAccountHandler(fund, logger))
			r.Get("/ceiling", memberCeilingHandler(fund, logger))
			r.Get("/transactions", memberTransactionsHandler(fund, logger))

			r.Post("/savings", addSavingHandler(fund, logger))
			r.Post("/withdrawals", withdrawSavingHandler(fund, logger))
			r.Post("/registration-fee", payRegistrationFeeHandler(fund, logger))
			r.Post("/solidarity", paySolidarityHandler(fund, logger))
			r.Post("/renfoulement", payRenfoulementHandler(fund, logger))

			r.Post("/loans", issueLoanHandler(fund, logger))
			r.Post("/loans/repayments", repayLoanHandler(fund, logger))
		})

		// Administration
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin(logger))

			r.Post("/members", registerMemberHandler(fund, logger))
			r.Delete("/members/{memberId}", deactivateMemberHandler(fund, logger))
			r.Get("/transactions", transactionsHandler(fund, logger))
			r.Get("/stats", statsHandler(metrics))
			r.Get("/renfoulement/history", renfoulementHistoryHandler(fund, logger))

			r.Route("/periods/{periodId}", func(r chi.Router) {
				if periods != nil {
					r.Put("/", upsertPeriodHandler(periods, logger))
				}
				r.Post("/renfoulement", assessRenfoulementHandler(fund, logger))
				r.Get("/renfoulement/simulation", simulateRenfoulementHandler(fund, logger))
			})
		})
	})

	return r
}

// ============================================================
// Operational endpoints
// ============================================================

func healthzHandler(fund *service.FundService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "mutuelle-ledger", Status: "healthy", LastChecked: now},
		}

		if fund != nil {
			start := time.Now()
			err := fund.Ping(r.Context())
			status := "healthy"
			if err != nil {
				status = "unhealthy"
			}
			services = append(services, domain.ServiceHealth{
				Name: "ledger-store", Status: status,
				LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overallStatus := "healthy"
		code := http.StatusOK
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				code = http.StatusServiceUnavailable
				break
			}
		}

		writeJSON(w, code, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler(fund *service.FundService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if fund == nil || !fund.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func statsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
