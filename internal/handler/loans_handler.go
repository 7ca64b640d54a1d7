package handler

import (
	"net/http"

	"github.com/boddenberg/mutuelle-ledger/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Loans
// ============================================================

func issueLoanHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/members/{memberId}/loans")
		defer span.End()

		memberID := chi.URLParam(r, "memberId")
		span.SetAttributes(attribute.String("member.id", memberID))

		amount, err := decodeAmount(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		receipt, err := fund.IssueLoan(ctx, memberID, amount)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, receipt)
	}
}

func repayLoanHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return movementHandler("POST /v1/members/{memberId}/loans/repayments", fund.RepayLoan, logger)
}
