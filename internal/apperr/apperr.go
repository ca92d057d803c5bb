// Package apperr defines the error taxonomy shared by services and handlers.
// Handlers map these onto HTTP status codes; repositories and services never
// swallow them on paths that would leave wallet or provisioning state
// inconsistent.
package apperr

import (
	"errors"
	"fmt"

	"app/internal/model"
)

// Sentinel errors for outcomes that carry no extra payload.
var (
	ErrNotFound     = errors.New("not_found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// ValidationError rejects malformed input before any mutation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// QuotaExceededError signals a refused free-tier reservation. No state was
// mutated; Used equals the counter value that blocked the reservation.
type QuotaExceededError struct {
	Code  string
	Kind  model.UsageKind
	Tier  model.Tier
	Used  int
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %d of %d used on tier %s", e.Code, e.Used, e.Limit, e.Tier)
}

// Remaining is always zero when the reservation was refused; kept as a method
// so API payloads don't have to special-case it.
func (e *QuotaExceededError) Remaining() int { return 0 }

// InsufficientFundsError signals a refused wallet debit. Balance and ledger are
// untouched.
type InsufficientFundsError struct {
	UserID       string
	NeededCents  int64
	BalanceCents int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for user %s: need %d, have %d cents", e.UserID, e.NeededCents, e.BalanceCents)
}

// ExternalProviderError wraps a failed downstream billing, provisioning or
// inference call. The original message is preserved for the provision record.
type ExternalProviderError struct {
	Provider string
	Msg      string
	Err      error
}

func (e *ExternalProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Msg)
}

func (e *ExternalProviderError) Unwrap() error { return e.Err }

// IsQuotaExceeded reports whether err is a QuotaExceededError and returns it.
func IsQuotaExceeded(err error) (*QuotaExceededError, bool) {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// IsInsufficientFunds reports whether err is an InsufficientFundsError.
func IsInsufficientFunds(err error) (*InsufficientFundsError, bool) {
	var ie *InsufficientFundsError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
