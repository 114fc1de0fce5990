/*
store.go - Persistence interfaces for accounts, transactions and attempts

PURPOSE:
  Defines the contract between the engine and the database. The Store
  keeps append-only semantics for transactions; accounts and payment
  attempts are small mutable records.

APPEND-ONLY CONTRACT:
  - Append(): the ONLY transaction write. No Update, no Delete, ever.
  - Corrections happen via reversal entries appended on top.

STORAGE-SIDE AGGREGATION:
  SumCredits pushes window arithmetic to the storage layer (indexed SUM
  instead of a full transaction scan) so list projections stay cheap.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and dev
  - store/sqlite:           production SQLite (WAL)
  - store/postgres:         production PostgreSQL (pgx pool)

SEE ALSO:
  - ledger.go: Higher-level ledger using Store
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Append-only transaction persistence
// =============================================================================

// Store handles transaction persistence.
// IMPORTANT: Store is APPEND-ONLY for transactions. No Update, No Delete.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateCorrelation if the
	// transaction carries a correlation ID that already exists.
	Append(ctx context.Context, tx Transaction) error

	// Load returns all transactions for an account, ordered by Timestamp.
	Load(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// LoadRange returns transactions with Timestamp in [from, to).
	LoadRange(ctx context.Context, accountID AccountID, from, to time.Time) ([]Transaction, error)

	// SumCredits returns the net credited amount (credits minus reversals)
	// in [from, to). Computed storage-side; no full scan.
	SumCredits(ctx context.Context, accountID AccountID, from, to time.Time) (decimal.Decimal, error)

	// CorrelationExists checks whether a correlation ID is already credited.
	CorrelationExists(ctx context.Context, correlationID string) (bool, error)

	// FindReversal returns the reversal entry for a transaction, if any.
	FindReversal(ctx context.Context, accountID AccountID, txID TransactionID) (*Transaction, error)
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// AccountFilter narrows ListAccounts. Zero value matches everything.
type AccountFilter struct {
	Status AccountStatus // empty = any
}

// AccountStore persists PayrollAccount records.
type AccountStore interface {
	// SaveAccount inserts or updates an account record.
	SaveAccount(ctx context.Context, acct PayrollAccount) error

	// GetAccount returns an account, or ErrAccountNotFound.
	GetAccount(ctx context.Context, id AccountID) (PayrollAccount, error)

	// ListAccounts returns accounts matching the filter, ordered by AccountID.
	ListAccounts(ctx context.Context, filter AccountFilter) ([]PayrollAccount, error)
}
