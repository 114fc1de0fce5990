/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All sentinel and structured errors in one place. The settlement, payroll
  and api packages wrap these with additional context.

USAGE:
  if errors.Is(err, ledger.ErrDuplicateCorrelation) {
      // duplicate confirmation; safe to ignore
  }

SEE ALSO:
  - ledger.go: Uses these errors on append
  - store.go: Store implementations return them
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateCorrelation is returned when a transaction with the same
	// correlation ID already exists. Expected for replayed confirmations.
	ErrDuplicateCorrelation = errors.New("duplicate correlation id")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountRemoved is returned when writing to an unenrolled account.
	ErrAccountRemoved = errors.New("account removed")

	// ErrAlreadyEnrolled is returned when enrolling an account that is
	// already active or suspended.
	ErrAlreadyEnrolled = errors.New("account already enrolled")

	// ErrTransactionNotFound is returned when a referenced ledger entry
	// doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAlreadyReversed is returned when reversing an entry twice.
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrInvalidAmount is returned for non-positive fees and zero adjustments.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPhone is returned for malformed phone references,
	// before any network or ledger interaction.
	ErrInvalidPhone = errors.New("invalid phone reference")

	// ErrAnchorMovedBackward is returned when a cycle reset would move the
	// anchor before its current value.
	ErrAnchorMovedBackward = errors.New("cycle anchor cannot move backward")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidAmountError reports a rejected amount with its bound.
type InvalidAmountError struct {
	Amount decimal.Decimal
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount, e.Reason)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// DuplicateCorrelationError identifies the entry that already holds the key.
type DuplicateCorrelationError struct {
	CorrelationID string
	ExistingTxID  TransactionID
}

func (e *DuplicateCorrelationError) Error() string {
	return fmt.Sprintf("correlation %q already credited (tx: %s)", e.CorrelationID, e.ExistingTxID)
}

func (e *DuplicateCorrelationError) Unwrap() error { return ErrDuplicateCorrelation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPhone) ||
		errors.Is(err, ErrAlreadyEnrolled) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrAccountRemoved)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
