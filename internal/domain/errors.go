package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the ledger.

// ErrorKind classifies a business-rule rejection.
type ErrorKind string

const (
	KindInsufficientFunds     ErrorKind = "INSUFFICIENT_FUNDS"
	KindInsufficientPoolFunds ErrorKind = "INSUFFICIENT_POOL_FUNDS"
	KindNoSavings             ErrorKind = "NO_SAVINGS"
	KindLoanAlreadyActive     ErrorKind = "LOAN_ALREADY_ACTIVE"
	KindCeilingExceeded       ErrorKind = "CEILING_EXCEEDED"
	KindNoActiveLoan          ErrorKind = "NO_ACTIVE_LOAN"
	KindRepaymentExceedsDebt  ErrorKind = "REPAYMENT_EXCEEDS_DEBT"
	KindNotCompliant          ErrorKind = "NOT_COMPLIANT"
	KindNoDebt                ErrorKind = "NO_DEBT"
	KindOverPayment           ErrorKind = "OVER_PAYMENT"
	KindNoCompliantMembers    ErrorKind = "NO_COMPLIANT_MEMBERS"
	KindAccountNotFound       ErrorKind = "ACCOUNT_NOT_FOUND"
	KindInvalidAmount         ErrorKind = "INVALID_AMOUNT"
	KindAccountExists         ErrorKind = "ACCOUNT_EXISTS"
	KindAccountInactive       ErrorKind = "ACCOUNT_INACTIVE"
	KindAlreadyAssessed       ErrorKind = "ALREADY_ASSESSED"
	KindNoActivePeriod        ErrorKind = "NO_ACTIVE_PERIOD"
	KindPeriodNotFound        ErrorKind = "PERIOD_NOT_FOUND"
)

// LedgerError is a business-rule rejection. The operation that returns it
// has left every balance unchanged.
type LedgerError struct {
	Kind    ErrorKind
	Message string
}

func (e *LedgerError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any LedgerError of the same kind, so callers can write
// errors.Is(err, domain.ErrNoSavings).
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	return ok && t.Kind == e.Kind
}

// NewLedgerError builds a LedgerError with a formatted message.
func NewLedgerError(kind ErrorKind, format string, args ...any) *LedgerError {
	return &LedgerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is.
var (
	ErrInsufficientFunds     = &LedgerError{Kind: KindInsufficientFunds}
	ErrInsufficientPoolFunds = &LedgerError{Kind: KindInsufficientPoolFunds}
	ErrNoSavings             = &LedgerError{Kind: KindNoSavings}
	ErrLoanAlreadyActive     = &LedgerError{Kind: KindLoanAlreadyActive}
	ErrCeilingExceeded       = &LedgerError{Kind: KindCeilingExceeded}
	ErrNoActiveLoan          = &LedgerError{Kind: KindNoActiveLoan}
	ErrRepaymentExceedsDebt  = &LedgerError{Kind: KindRepaymentExceedsDebt}
	ErrNotCompliant          = &LedgerError{Kind: KindNotCompliant}
	ErrNoDebt                = &LedgerError{Kind: KindNoDebt}
	ErrOverPayment           = &LedgerError{Kind: KindOverPayment}
	ErrNoCompliantMembers    = &LedgerError{Kind: KindNoCompliantMembers}
	ErrAccountNotFound       = &LedgerError{Kind: KindAccountNotFound}
	ErrInvalidAmount         = &LedgerError{Kind: KindInvalidAmount}
	ErrAccountExists         = &LedgerError{Kind: KindAccountExists}
	ErrAccountInactive       = &LedgerError{Kind: KindAccountInactive}
	ErrAlreadyAssessed       = &LedgerError{Kind: KindAlreadyAssessed}
	ErrNoActivePeriod        = &LedgerError{Kind: KindNoActivePeriod}
	ErrPeriodNotFound        = &LedgerError{Kind: KindPeriodNotFound}
)

// IsLedgerError reports whether err carries a business-rule rejection.
func IsLedgerError(err error) bool {
	var le *LedgerError
	return errors.As(err, &le)
}

// KindOf returns the kind of a wrapped LedgerError.
func KindOf(err error) (ErrorKind, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return "", false
}

// ErrNotInitialized is returned by fund operations invoked before the
// ceiling table and pooled account have been loaded.
var ErrNotInitialized = errors.New("fund service not initialized")

// ErrConcurrentUpdate is returned by a store when the pooled account changed
// underneath a unit of work. The unit may be retried.
var ErrConcurrentUpdate = errors.New("pooled account modified concurrently")

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrInvalidTiers indicates a ceiling tier table that cannot be used.
type ErrInvalidTiers struct {
	Position int
	Reason   string
}

func (e *ErrInvalidTiers) Error() string {
	return fmt.Sprintf("invalid ceiling tier %d: %s", e.Position, e.Reason)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrForbidden indicates the caller lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrUnauthorized indicates an invalid or missing token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
