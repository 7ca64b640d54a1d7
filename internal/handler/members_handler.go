package handler

import (
	"context"
	"net/http"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/boddenberg/mutuelle-ledger/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Member account reads
// ============================================================

func memberAccountHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/members/{memberId}")
		defer span.End()

		memberID := chi.URLParam(r, "memberId")
		span.SetAttributes(attribute.String("member.id", memberID))

		acc, err := fund.GetMemberAccount(ctx, memberID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, acc)
	}
}

func memberCeilingHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/members/{memberId}/ceiling")
		defer span.End()

		memberID := chi.URLParam(r, "memberId")
		ceiling, err := fund.MemberCeiling(ctx, memberID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"member_id": memberID,
			"ceiling":   ceiling,
		})
	}
}

func memberTransactionsHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/members/{memberId}/transactions")
		defer span.End()

		listTransactions(w, r.WithContext(ctx), fund, chi.URLParam(r, "memberId"), logger)
	}
}

func transactionsHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/transactions")
		defer span.End()

		listTransactions(w, r.WithContext(ctx), fund, r.URL.Query().Get("member_id"), logger)
	}
}

// listTransactions serves one page of the audit log. One extra row is read
// to tell whether another page follows.
func listTransactions(w http.ResponseWriter, r *http.Request, fund *service.FundService, memberID string, logger *zap.Logger) {
	page, pageSize := parsePagination(r)
	q := r.URL.Query()

	filter := domain.TransactionFilter{
		MemberID: memberID,
		PeriodID: q.Get("period_id"),
		Type:     domain.TransactionType(q.Get("type")),
		Limit:    pageSize + 1,
		Offset:   (page - 1) * pageSize,
	}

	txs, err := fund.ListTransactions(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err, logger)
		return
	}

	hasMore := len(txs) > pageSize
	if hasMore {
		txs = txs[:pageSize]
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	writeJSON(w, http.StatusOK, domain.ListResponse[domain.Transaction]{
		Data:     txs,
		Total:    filter.Offset + len(txs),
		Page:     page,
		PageSize: pageSize,
		HasMore:  hasMore,
	})
}

// ============================================================
// Member account movements
// ============================================================

// movementHandler decodes an amount and applies it to the member named in
// the route.
func movementHandler(
	spanName string,
	apply func(ctx context.Context, memberID string, amount decimal.Decimal) (*domain.Transaction, error),
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), spanName)
		defer span.End()

		memberID := chi.URLParam(r, "memberId")
		span.SetAttributes(attribute.String("member.id", memberID))

		amount, err := decodeAmount(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		record, err := apply(ctx, memberID, amount)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, record)
	}
}

func addSavingHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return movementHandler("POST /v1/members/{memberId}/savings", fund.AddSaving, logger)
}

func withdrawSavingHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return movementHandler("POST /v1/members/{memberId}/withdrawals", fund.WithdrawSaving, logger)
}

func payRegistrationFeeHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return movementHandler("POST /v1/members/{memberId}/registration-fee", fund.PayRegistrationFee, logger)
}

func paySolidarityHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return movementHandler("POST /v1/members/{memberId}/solidarity", fund.PaySolidarity, logger)
}

// ============================================================
// Membership administration
// ============================================================

type registerMemberRequest struct {
	MemberID string `json:"member_id"`
}

func registerMemberHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/members")
		defer span.End()

		var req registerMemberRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("member.id", req.MemberID))

		acc, err := fund.RegisterMember(ctx, req.MemberID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, acc)
	}
}

func deactivateMemberHandler(fund *service.FundService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/admin/members/{memberId}")
		defer span.End()

		if err := fund.DeactivateMember(ctx, chi.URLParam(r, "memberId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
