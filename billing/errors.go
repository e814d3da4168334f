/*
errors.go - Error taxonomy for the billing ledger

ERROR CATEGORIES:
  NotFound      invoice, payment or lease id unknown
  Validation    bad amount, missing reason, bad dates
  Conflict      double decision, pending payment exists, balance race,
                lock timeout, concurrent modification
  Authorization caller does not own the invoice

Every structured error unwraps to its sentinel so callers can use errors.Is:

    if errors.Is(err, billing.ErrConflict) {
        // 409
    }

Nothing in this package retries a financial write. Only ConflictErrors with
Retryable set may be retried, and only by the caller.
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrConcurrentModification is returned by stores when a conditional
	// update finds the row changed since it was read.
	ErrConcurrentModification = fmt.Errorf("%w: concurrent modification detected", ErrConflict)

	// ErrDuplicatePendingPayment is returned by stores when inserting a second
	// Pending payment for an invoice.
	ErrDuplicatePendingPayment = fmt.Errorf("%w: %s", ErrConflict, ReasonPendingExists)

	// ErrDuplicateInvoice is returned by stores when a lease already has an
	// invoice for the same issue date.
	ErrDuplicateInvoice = fmt.Errorf("%w: invoice already issued for this date", ErrConflict)
)

// Conflict reasons surfaced to callers.
const (
	ReasonPendingExists   = "pending payment exists"
	ReasonBalanceRace     = "balance race"
	ReasonInvoiceBusy     = "invoice is busy, retry later"
	ReasonInvoicePaid     = "invoice already paid"
	ReasonReminderTooSoon = "reminder sent recently"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // "invoice", "payment", "lease"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError describes rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError means the operation lost against the current state of the
// invoice or payment.
type ConflictError struct {
	Reason    string
	Retryable bool
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// AuthorizationError means the actor may not touch the resource.
type AuthorizationError struct {
	ActorID string
	Reason  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s not authorized: %s", e.ActorID, e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return ErrForbidden }

func notFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func alreadyDecided(status PaymentStatus) error {
	return &ConflictError{Reason: "already " + string(status)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsForbidden(err error) bool  { return errors.Is(err, ErrForbidden) }

// IsRetryable returns true if the caller may retry the same request.
func IsRetryable(err error) bool {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return errors.Is(err, ErrConcurrentModification)
}
