package handler

import (
	"net/http"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func poolHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/pool")
		defer span.End()

		pool, err := fund.GetPooledAccount(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, pool)
	}
}

// ceilingHandler previews the ceiling for an arbitrary savings amount,
// GET /v1/ceiling?savings=500000.
func ceilingHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/ceiling")
		defer span.End()

		raw := r.URL.Query().Get("savings")
		savings, err := decimal.NewFromString(raw)
		if err != nil {
			handleServiceError(w, &domain.ErrValidation{Field: "savings", Message: "must be a decimal amount"}, logger)
			return
		}

		ceiling, err := fund.ComputeCeiling(savings)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"savings": savings,
			"ceiling": ceiling,
		})
	}
}

func ceilingTiersHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tiers, err := fund.CeilingTiers()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tiers": tiers})
	}
}
