/*
Package settlement drives mobile-money push payments from initiation to a
terminal outcome and writes the resulting ledger credit exactly once.

KEY CONCEPTS IN THIS FILE (attempt.go):
  - PaymentAttempt: one push-payment request and its lifecycle
  - State machine: Requested -> PromptSent -> Polling -> terminal
  - AttemptStore: persistence, keyed by correlation ID

STATE MACHINE:
  Requested   rider submitted amount + phone; nothing sent yet
  PromptSent  gateway accepted the push request, correlation ID issued
  Polling     background confirmation polling in progress
  Confirmed   terminal; exactly one ledger credit written
  Failed      terminal; gateway reported failure, no ledger write
  TimedOut    terminal; poll budget exhausted, no ledger write
  Cancelled   terminal; rider abandoned the flow, polling stopped

Terminal attempts are retained for audit and never reused.

SEE ALSO:
  - gateway.go: Abstract provider contract
  - poller.go:  Initiator and background poller
*/
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bodaworks/payroll-engine/ledger"
)

// =============================================================================
// ATTEMPT STATES
// =============================================================================

type State string

const (
	StateRequested  State = "Requested"
	StatePromptSent State = "PromptSent"
	StatePolling    State = "Polling"
	StateConfirmed  State = "Confirmed"
	StateFailed     State = "Failed"
	StateTimedOut   State = "TimedOut"
	StateCancelled  State = "Cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// =============================================================================
// PAYMENT ATTEMPT
// =============================================================================

// PaymentAttempt is one push-payment request. The correlation ID doubles as
// the idempotency key: at most one ledger transaction may ever carry it.
type PaymentAttempt struct {
	CorrelationID   string
	AccountID       ledger.AccountID
	AmountRequested decimal.Decimal
	PhoneReference  string
	State           State
	FailReason      string
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// =============================================================================
// ATTEMPT STORE
// =============================================================================

// ErrAttemptNotFound is returned when a correlation ID is unknown.
var ErrAttemptNotFound = errors.New("payment attempt not found")

// ErrAttemptResolved is returned when cancelling an attempt that already
// reached a terminal state.
var ErrAttemptResolved = errors.New("payment attempt already resolved")

// AttemptStore persists payment attempts keyed by correlation ID.
// Attempts are mutable until terminal, then retained forever.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, a PaymentAttempt) error
	GetAttempt(ctx context.Context, correlationID string) (PaymentAttempt, error)
	ListAttempts(ctx context.Context, accountID ledger.AccountID) ([]PaymentAttempt, error)
}
