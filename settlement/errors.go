/*
errors.go - Settlement error taxonomy

Every error a settlement operation returns wraps exactly one sentinel so
callers (the HTTP layer in particular) can classify it with errors.Is.
Structured errors carry the numbers a UI needs to explain a rejection.
*/
package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is the ledger's sentinel so withdrawals from any
	// account (farmer grain, stock, cash) classify the same way.
	ErrInsufficientBalance = generic.ErrInsufficientBalance

	ErrQuantityExceedsRemaining = errors.New("quantity exceeds remaining")
	ErrAmountExceedsBalance     = errors.New("amount exceeds contract balance")
	ErrOverpaymentRejected      = errors.New("payment exceeds outstanding voucher debt")
	ErrInvalidRate              = errors.New("invalid exchange rate")
	ErrWrongDirection           = errors.New("item has wrong direction")
	ErrWrongItemType            = errors.New("item has wrong type")
	ErrAlreadyCancelled         = errors.New("already cancelled")
	ErrNotFound                 = errors.New("not found")
	ErrItemNotFound             = fmt.Errorf("contract item %w", ErrNotFound)
	ErrInvalidTransition        = errors.New("invalid contract state transition")
	ErrSettlementNotCancellable = errors.New("settlement payments cannot be cancelled")
	ErrDuplicateName            = errors.New("duplicate name")
	ErrHasPayments              = errors.New("contract has payments")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

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

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RemainingError reports a quantity beyond what an item still has open.
type RemainingError struct {
	ItemID    string
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *RemainingError) Error() string {
	return fmt.Sprintf("item %s: requested %s kg, remaining %s kg", e.ItemID, e.Requested, e.Remaining)
}

func (e *RemainingError) Unwrap() error { return ErrQuantityExceedsRemaining }

// ExceedsError reports a base-currency amount beyond an outstanding total.
type ExceedsError struct {
	Sentinel    error
	Outstanding decimal.Decimal
	Requested   decimal.Decimal
}

func (e *ExceedsError) Error() string {
	return fmt.Sprintf("%v: outstanding %s, requested %s", e.Sentinel, e.Outstanding.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *ExceedsError) Unwrap() error { return e.Sentinel }

type InvalidTransitionError struct {
	ContractID string
	From       ContractStatus
	Action     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("contract %s: cannot %s in status %s", e.ContractID, e.Action, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || generic.IsNotFound(err)
}

// IsConflict returns true when the request clashes with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrSettlementNotCancellable) ||
		errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrHasPayments) ||
		errors.Is(err, generic.ErrAlreadyReversed) ||
		errors.Is(err, generic.ErrDuplicateIdempotencyKey)
}

// IsRejected returns true when a business rule refused the operation.
func IsRejected(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrQuantityExceedsRemaining) ||
		errors.Is(err, ErrAmountExceedsBalance) ||
		errors.Is(err, ErrOverpaymentRejected) ||
		errors.Is(err, ErrInvalidRate) ||
		errors.Is(err, ErrWrongDirection) ||
		errors.Is(err, ErrWrongItemType)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || IsRejected(err) || IsConflict(err) || IsNotFound(err)
}
