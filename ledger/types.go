/*
Package ledger provides the core rider payroll engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking rider
  daily-target fees: the append-only transaction ledger, the rolling 24-hour
  payment window, and the overdue escalation classifier.

KEY CONCEPTS IN THIS FILE (types.go):
  - PayrollAccount: A rider enrolled in the daily-fee program
  - Transaction: An immutable ledger entry (credit or debit)
  - Source: Where a transaction came from (manual, mobile-money, ...)
  - Account/Transaction IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Reproducibility: Every balance is recomputed from raw history
  4. Idempotency: Mobile-money credits carry a unique correlation ID

USAGE:
  tx := ledger.Transaction{
      ID:        ledger.NewTransactionID(),
      AccountID: "rider-042",
      Amount:    decimal.NewFromInt(500),
      Source:    ledger.SourceMobileMoney,
      CorrelationID: "mm-7f3a",
  }

SEE ALSO:
  - ledger.go: Append-only ledger with per-account write serialization
  - window.go: Rolling 24-hour window calculation
  - overdue.go: Escalation tier classification
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string

// NewTransactionID returns a fresh unique transaction identifier.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.New().String())
}

// =============================================================================
// PAYROLL ACCOUNT - A rider enrolled in the daily-fee program
// =============================================================================

type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
	StatusRemoved   AccountStatus = "removed"
)

// PayrollAccount is the enrollment record for a rider.
//
// INVARIANTS:
//   - DailyTargetFee > 0
//   - CycleAnchor never moves backward (cycle resets only move it forward)
type PayrollAccount struct {
	AccountID      AccountID
	DailyTargetFee decimal.Decimal
	CycleAnchor    time.Time
	Status         AccountStatus
	Phone          string
	EnrolledAt     time.Time
}

// IsWritable reports whether ledger writes are allowed for this account.
// Removed accounts keep their history but accept no new transactions.
func (a PayrollAccount) IsWritable() bool {
	return a.Status != StatusRemoved
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type Source string

const (
	SourceManual      Source = "manual"       // Admin-entered credit or debit
	SourceMobileMoney Source = "mobile-money" // Confirmed push-payment settlement
	SourceAdjustment  Source = "adjustment"   // System correction (enrollment, reconciliation)
	SourceReversal    Source = "reversal"     // Separately-logged undo of a prior entry
)

// Transaction is one entry in a rider's ledger. Positive Amount is a credit
// toward the daily target, negative is a debit.
//
// Once written a transaction is permanent. Mistakes are corrected with a
// reversal entry (Source=SourceReversal, ReversesID set), never by mutation.
type Transaction struct {
	ID          TransactionID
	AccountID   AccountID
	Amount      decimal.Decimal
	Timestamp   time.Time
	Description string
	Source      Source

	// CorrelationID links a mobile-money credit to its payment attempt.
	// Required when Source == SourceMobileMoney; unique across the ledger.
	CorrelationID string

	// ReversesID points at the entry being undone. Set only for reversals.
	ReversesID TransactionID

	CreatedAt time.Time
}

// IsCredit reports whether this entry counts toward the daily target.
func (t Transaction) IsCredit() bool {
	return t.Amount.IsPositive() && t.Source != SourceReversal
}
