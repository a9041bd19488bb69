/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place. Callers classify with errors.Is against the
  sentinels; structured errors carry the details an API layer needs (retry
  time, shortfall, current status) and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Client errors - validation, insufficient funds, wrong state
  2. Lookup errors - missing user, investment or transaction
  3. Concurrency errors - lost optimistic race; retry the whole operation

ALL-OR-NOTHING:
  Every error returned from a mutating operation means nothing was written.
  Notification failures are not errors; they come back as warnings.

SEE ALSO:
  - retry.go: retries ErrConcurrencyConflict
  - api/handlers.go: maps these to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotActive           = errors.New("investment is not active")
	ErrAlreadyActive       = errors.New("investment is already active")
	ErrClaimNotReady       = errors.New("claim not ready")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAlreadyProcessed    = errors.New("transaction already processed")
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrInvalidTransition is returned for state changes the lifecycle forbids,
	// e.g. activating a terminated investment.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ErrAccountBlocked wraps ErrUnauthorized so it classifies with the other
// permission failures.
var ErrAccountBlocked = fmt.Errorf("account blocked: %w", ErrUnauthorized)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "user", "investment", "transaction"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ClaimNotReadyError is returned when less than one full period has elapsed
// since the last claim boundary.
type ClaimNotReadyError struct {
	InvestmentID InvestmentID
	NextClaimAt  time.Time
	RetryAfter   time.Duration
}

func (e *ClaimNotReadyError) Error() string {
	return fmt.Sprintf("investment %s: next claim available at %s (in %s)",
		e.InvestmentID, e.NextClaimAt.Format(time.RFC3339), e.RetryAfter.Round(time.Second))
}

func (e *ClaimNotReadyError) Unwrap() error { return ErrClaimNotReady }

// InsufficientFundsError provides details about a shortfall.
type InsufficientFundsError struct {
	UserID    UserID
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s, shortfall %s",
		e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

func insufficient(userID UserID, available, requested decimal.Decimal) *InsufficientFundsError {
	return &InsufficientFundsError{
		UserID:    userID,
		Available: available,
		Requested: requested,
		Shortfall: requested.Sub(available),
	}
}

// AlreadyProcessedError reports the terminal status a transaction already has.
type AlreadyProcessedError struct {
	TransactionID TransactionID
	Status        TransactionStatus
}

func (e *AlreadyProcessedError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("transaction %s already processed", e.TransactionID)
	}
	return fmt.Sprintf("transaction %s already %s", e.TransactionID, e.Status)
}

func (e *AlreadyProcessedError) Unwrap() error { return ErrAlreadyProcessed }

// TransitionError is a forbidden lifecycle move.
type TransitionError struct {
	Kind string
	ID   string
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot move from %s to %s", e.Kind, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if rerunning the whole operation may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrAlreadyActive) ||
		errors.Is(err, ErrClaimNotReady) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Outcome is a short label for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotActive), errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrInvalidTransition):
		return "state"
	case errors.Is(err, ErrClaimNotReady):
		return "not_ready"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	default:
		return "error"
	}
}
