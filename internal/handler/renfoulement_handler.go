package handler

import (
	"net/http"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/port"
	"github.com/boddenberg/mutuelle-ledger/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Renfoulement
// ============================================================

func assessRenfoulementHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/periods/{periodId}/renfoulement")
		defer span.End()

		periodID := chi.URLParam(r, "periodId")
		span.SetAttributes(attribute.String("period.id", periodID))

		a, err := fund.AssessRenfoulementForPeriod(ctx, periodID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		status := http.StatusCreated
		if !a.Applied {
			status = http.StatusOK
		}
		writeJSON(w, status, a)
	}
}

func simulateRenfoulementHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/periods/{periodId}/renfoulement/simulation")
		defer span.End()

		a, err := fund.SimulateRenfoulementForPeriod(ctx, chi.URLParam(r, "periodId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func renfoulementHistoryHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/renfoulement/history")
		defer span.End()

		history, err := fund.RenfoulementHistory(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func payRenfoulementHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return movementHandler("POST /v1/members/{memberId}/renfoulement", fund.PayRenfoulement, logger)
}

// ============================================================
// Accounting periods held locally
// ============================================================

type upsertPeriodRequest struct {
	Name                string          `json:"name"`
	Current             bool            `json:"current"`
	AssistanceTotal     decimal.Decimal `json:"assistance_total"`
	RecurringEventTotal decimal.Decimal `json:"recurring_event_total"`
	LatestSessionID     string          `json:"latest_session_id"`
}

func upsertPeriodHandler(periods port.PeriodWriter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/admin/periods/{periodId}")
		defer span.End()

		var req upsertPeriodRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if req.AssistanceTotal.IsNegative() || req.RecurringEventTotal.IsNegative() {
			handleServiceError(w, &domain.ErrValidation{Field: "totals", Message: "must not be negative"}, logger)
			return
		}

		p := &domain.Period{
			ID:                  chi.URLParam(r, "periodId"),
			Name:                req.Name,
			Current:             req.Current,
			AssistanceTotal:     req.AssistanceTotal,
			RecurringEventTotal: req.RecurringEventTotal,
			LatestSessionID:     req.LatestSessionID,
		}
		if err := periods.UpsertPeriod(ctx, p); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		logger.Info("period recorded",
			zap.String("period_id", p.ID),
			zap.Bool("current", p.Current),
			zap.String("payout_total", p.PayoutTotal().String()),
		)
		writeJSON(w, http.StatusOK, p)
	}
}
