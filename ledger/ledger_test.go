package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodaworks/payroll-engine/ledger"
	"github.com/bodaworks/payroll-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger() *ledger.DefaultLedger {
	return ledger.NewLedger(store.NewMemory())
}

func mobileMoneyTx(accountID ledger.AccountID, amount int64, correlationID string) ledger.Transaction {
	now := time.Now().UTC()
	return ledger.Transaction{
		ID:            ledger.NewTransactionID(),
		AccountID:     accountID,
		Amount:        decimal.NewFromInt(amount),
		Timestamp:     now,
		Source:        ledger.SourceMobileMoney,
		CorrelationID: correlationID,
		CreatedAt:     now,
	}
}

// =============================================================================
// IDEMPOTENCY INVARIANT
// =============================================================================

func TestLedger_Append_DuplicateCorrelation_Rejected(t *testing.T) {
	// GIVEN: A mobile-money credit already written for correlation mm-1
	// WHEN: Appending a second credit with the same correlation ID
	// THEN: The append fails and the history holds exactly one entry

	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, mobileMoneyTx("rider-1", 500, "mm-1")))

	err := l.Append(ctx, mobileMoneyTx("rider-1", 500, "mm-1"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateCorrelation)

	txs, err := l.Transactions(ctx, "rider-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestLedger_Append_EmptyCorrelation_NotDeduplicated(t *testing.T) {
	// Manual adjustments carry no correlation ID and never collide.
	l := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tx := mobileMoneyTx("rider-1", 100, "")
		tx.Source = ledger.SourceManual
		require.NoError(t, l.Append(ctx, tx))
	}

	txs, err := l.Transactions(ctx, "rider-1")
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}

// =============================================================================
// REVERSALS
// =============================================================================

func TestLedger_Reverse_AppendsOppositeEntry(t *testing.T) {
	// GIVEN: A 500 credit on the ledger
	// WHEN: Reversing it
	// THEN: A new -500 entry is appended; the original is untouched

	l := newTestLedger()
	ctx := context.Background()

	original := mobileMoneyTx("rider-1", 500, "mm-1")
	require.NoError(t, l.Append(ctx, original))

	reversal, err := l.Reverse(ctx, "rider-1", original.ID, "double charge")
	require.NoError(t, err)

	assert.True(t, reversal.Amount.Equal(decimal.NewFromInt(-500)))
	assert.Equal(t, ledger.SourceReversal, reversal.Source)
	assert.Equal(t, original.ID, reversal.ReversesID)
	assert.Equal(t, "double charge", reversal.Description)

	txs, err := l.Transactions(ctx, "rider-1")
	require.NoError(t, err)
	require.Len(t, txs, 2, "original and reversal both retained")
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromInt(500)), "original unchanged")
}

func TestLedger_Reverse_Twice_Rejected(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	original := mobileMoneyTx("rider-1", 500, "mm-1")
	require.NoError(t, l.Append(ctx, original))

	_, err := l.Reverse(ctx, "rider-1", original.ID, "first")
	require.NoError(t, err)

	_, err = l.Reverse(ctx, "rider-1", original.ID, "second")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)
}

func TestLedger_Reverse_OfReversal_Rejected(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	original := mobileMoneyTx("rider-1", 500, "mm-1")
	require.NoError(t, l.Append(ctx, original))

	reversal, err := l.Reverse(ctx, "rider-1", original.ID, "undo")
	require.NoError(t, err)

	_, err = l.Reverse(ctx, "rider-1", reversal.ID, "undo the undo")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)
}

func TestLedger_Reverse_UnknownTransaction(t *testing.T) {
	l := newTestLedger()

	_, err := l.Reverse(context.Background(), "rider-1", "no-such-tx", "oops")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// CONCURRENT WRITES
// =============================================================================

func TestLedger_ConcurrentAppends_AllLand(t *testing.T) {
	// GIVEN: 50 goroutines crediting the same rider at once
	// WHEN: All appends complete
	// THEN: Every entry landed and the replayed balance is exact

	l := newTestLedger()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := mobileMoneyTx("rider-1", 10, fmt.Sprintf("mm-%d", i))
			assert.NoError(t, l.Append(ctx, tx))
		}(i)
	}
	wg.Wait()

	txs, err := l.Transactions(ctx, "rider-1")
	require.NoError(t, err)
	require.Len(t, txs, n)

	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Amount)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(n*10)))
}

func TestLedger_ConcurrentDuplicates_ExactlyOneWins(t *testing.T) {
	// GIVEN: 20 goroutines racing the same correlation ID
	// WHEN: All appends complete
	// THEN: Exactly one credit is on the ledger

	l := newTestLedger()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Append(ctx, mobileMoneyTx("rider-1", 500, "mm-race"))
		}()
	}
	wg.Wait()

	txs, err := l.Transactions(ctx, "rider-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

// =============================================================================
// RANGE QUERIES
// =============================================================================

func TestLedger_TransactionsInRange(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	base := time.Date(2026, time.March, 2, 6, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{0, time.Hour, 25 * time.Hour} {
		tx := mobileMoneyTx("rider-1", 100, fmt.Sprintf("mm-%d", i))
		tx.Timestamp = base.Add(offset)
		require.NoError(t, l.Append(ctx, tx))
	}

	// Half-open interval: [base, base+24h)
	txs, err := l.TransactionsInRange(ctx, "rider-1", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}
