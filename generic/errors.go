/*
errors.go - Centralized error types for the posting engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages should wrap these errors with additional context.

ERROR CATEGORIES:
  1. Ledger errors - Entry persistence failures
  2. Balance errors - A withdrawal the account cannot cover
  3. Store errors - Database-level failures

USAGE:
  Domain packages can wrap generic errors:

    if errors.Is(err, generic.ErrInsufficientBalance) {
        return &DomainSpecificError{...}
    }

SEE ALSO:
  - ledger.go: Uses these errors
  - store.go: Uses these errors
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrEntryFailed is returned when an entry cannot be persisted.
	ErrEntryFailed = errors.New("entry failed")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrEntryNotFound is returned when a referenced entry doesn't exist.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrAlreadyReversed is returned when reversing an entry a second time.
	ErrAlreadyReversed = errors.New("entry already reversed")

	// ErrUnitMismatch is returned when an entry's unit differs from the
	// unit the account is kept in.
	ErrUnitMismatch = errors.New("unit mismatch")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Account   AccountKey
	Available Amount
	Requested Amount
	Shortfall Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %s, requested %s, shortfall %s",
		e.Account, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrUnitMismatch)
}

// IsNotFound returns true if the error indicates a missing entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound)
}
