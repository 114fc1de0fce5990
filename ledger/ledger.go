/*
ledger.go - Append-only payroll ledger

PURPOSE:
  The Ledger is the immutable source of truth for every rider balance.
  Every settlement, manual credit, admin adjustment and reversal is
  recorded here. Outstanding amounts are always recomputed by replaying
  transactions - there is no separate "balance" field that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IDEMPOTENT: One correlation ID = at most one credit (no duplicates)
  3. SERIALIZED: Writes to a single account's list are serialized, so a
     manual adjustment and a mobile-money credit arriving together cannot
     corrupt the derived balance.

CORRECTIONS:
  A mistake is never edited. Instead:
  1. Append a reversal entry (opposite sign, ReversesID set)
  2. Both original and reversal remain in the ledger
  3. Net effect is the correction, history is preserved

SEE ALSO:
  - store.go: Low-level persistence interface
  - window.go: Derives the rolling-window balance from this history
*/
package ledger

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// LEDGER - Append-only transaction log with per-account serialization
// =============================================================================

// Ledger is the write/read surface over an account's transaction history.
type Ledger interface {
	// Append adds a transaction. Fails with ErrDuplicateCorrelation if the
	// correlation ID was already credited. This is the ONLY write operation.
	Append(ctx context.Context, tx Transaction) error

	// Reverse appends a separately-logged reversal of an existing entry.
	// An entry may be reversed at most once.
	Reverse(ctx context.Context, accountID AccountID, txID TransactionID, reason string) (Transaction, error)

	// Transactions returns the account's full history, chronologically.
	Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// TransactionsInRange returns history with Timestamp in [from, to).
	TransactionsInRange(ctx context.Context, accountID AccountID, from, to time.Time) ([]Transaction, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

// DefaultLedger serializes writes per account with a lazily-built mutex map.
// There is no global lock: two riders settle concurrently, but a rider's
// own writes are strictly ordered.
type DefaultLedger struct {
	store Store

	mu    sync.Mutex // guards locks map only
	locks map[AccountID]*sync.Mutex
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{
		store: store,
		locks: make(map[AccountID]*sync.Mutex),
	}
}

func (l *DefaultLedger) accountLock(id AccountID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.locks[id]; !ok {
		l.locks[id] = &sync.Mutex{}
	}
	return l.locks[id]
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	lock := l.accountLock(tx.AccountID)
	lock.Lock()
	defer lock.Unlock()

	if tx.CorrelationID != "" {
		exists, err := l.store.CorrelationExists(ctx, tx.CorrelationID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateCorrelation
		}
	}
	return l.store.Append(ctx, tx)
}

func (l *DefaultLedger) Reverse(ctx context.Context, accountID AccountID, txID TransactionID, reason string) (Transaction, error) {
	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	txs, err := l.store.Load(ctx, accountID)
	if err != nil {
		return Transaction{}, err
	}
	var original *Transaction
	for i := range txs {
		if txs[i].ID == txID {
			original = &txs[i]
			break
		}
	}
	if original == nil {
		return Transaction{}, ErrTransactionNotFound
	}
	if original.Source == SourceReversal {
		return Transaction{}, ErrAlreadyReversed
	}

	existing, err := l.store.FindReversal(ctx, accountID, txID)
	if err != nil {
		return Transaction{}, err
	}
	if existing != nil {
		return Transaction{}, ErrAlreadyReversed
	}

	now := time.Now().UTC()
	reversal := Transaction{
		ID:          NewTransactionID(),
		AccountID:   accountID,
		Amount:      original.Amount.Neg(),
		Timestamp:   now,
		Description: reason,
		Source:      SourceReversal,
		ReversesID:  txID,
		CreatedAt:   now,
	}
	if err := l.store.Append(ctx, reversal); err != nil {
		return Transaction{}, err
	}
	return reversal, nil
}

func (l *DefaultLedger) Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error) {
	return l.store.Load(ctx, accountID)
}

func (l *DefaultLedger) TransactionsInRange(ctx context.Context, accountID AccountID, from, to time.Time) ([]Transaction, error) {
	return l.store.LoadRange(ctx, accountID, from, to)
}
