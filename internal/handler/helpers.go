package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// amountRequest is the body of every money movement endpoint. The amount
// may be sent as a JSON number or a decimal string.
type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}

func decodeAmount(r *http.Request) (decimal.Decimal, error) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		return decimal.Zero, err
	}
	return req.Amount, nil
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 20
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}
	return
}

// statusForKind maps a business-rule rejection to an HTTP status.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindAccountNotFound, domain.KindPeriodNotFound:
		return http.StatusNotFound
	case domain.KindInvalidAmount:
		return http.StatusBadRequest
	case domain.KindAccountExists, domain.KindAlreadyAssessed, domain.KindNoActivePeriod:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var ledgerErr *domain.LedgerError
	var validation *domain.ErrValidation
	var unauthorized *domain.ErrUnauthorized
	var forbidden *domain.ErrForbidden
	var circuitOpen *domain.ErrCircuitOpen
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &ledgerErr):
		logger.Debug("operation rejected",
			zap.String("kind", string(ledgerErr.Kind)),
			zap.String("error", err.Error()),
		)
		writeJSON(w, statusForKind(ledgerErr.Kind), errorResponse{
			Error: err.Error(),
			Code:  string(ledgerErr.Kind),
		})
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, domain.ErrNotInitialized):
		logger.Error("fund not initialized")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrConcurrentUpdate):
		logger.Warn("concurrent update", zap.Error(err))
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
