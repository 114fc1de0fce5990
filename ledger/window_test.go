package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodaworks/payroll-engine/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var anchor = time.Date(2026, time.March, 2, 6, 0, 0, 0, time.UTC)

func testAccount(fee int64) ledger.PayrollAccount {
	return ledger.PayrollAccount{
		AccountID:      "rider-042",
		DailyTargetFee: decimal.NewFromInt(fee),
		CycleAnchor:    anchor,
		Status:         ledger.StatusActive,
		EnrolledAt:     anchor,
	}
}

func creditAt(amount int64, ts time.Time) ledger.Transaction {
	return ledger.Transaction{
		ID:        ledger.NewTransactionID(),
		AccountID: "rider-042",
		Amount:    decimal.NewFromInt(amount),
		Timestamp: ts,
		Source:    ledger.SourceManual,
		CreatedAt: ts,
	}
}

// =============================================================================
// WINDOW DERIVATION
// =============================================================================

func TestComputeWindow_FullyPaid(t *testing.T) {
	// GIVEN: Fee 820, two credits of 500 and 320 inside the current window
	// WHEN: Computing the window snapshot
	// THEN: Outstanding is zero and the window bounds match the anchor

	acct := testAccount(820)
	txs := []ledger.Transaction{
		creditAt(500, anchor.Add(2*time.Hour)),
		creditAt(320, anchor.Add(5*time.Hour)),
	}

	snap := ledger.ComputeWindow(acct, txs, anchor.Add(6*time.Hour))

	assert.Equal(t, anchor, snap.WindowStart)
	assert.Equal(t, anchor.Add(24*time.Hour), snap.WindowEnd)
	assert.True(t, snap.CreditedInWindow.Equal(decimal.NewFromInt(820)), "credited: %s", snap.CreditedInWindow)
	assert.True(t, snap.WindowOutstanding.IsZero(), "window outstanding: %s", snap.WindowOutstanding)
	assert.True(t, snap.TotalOutstanding.IsZero(), "total outstanding: %s", snap.TotalOutstanding)
}

func TestComputeWindow_PartialPayment(t *testing.T) {
	// GIVEN: Fee 820, one credit of 500
	// WHEN: Computing the window snapshot
	// THEN: Outstanding is the remaining 320

	acct := testAccount(820)
	txs := []ledger.Transaction{creditAt(500, anchor.Add(time.Hour))}

	snap := ledger.ComputeWindow(acct, txs, anchor.Add(3*time.Hour))

	assert.True(t, snap.WindowOutstanding.Equal(decimal.NewFromInt(320)))
	assert.True(t, snap.TotalOutstanding.Equal(decimal.NewFromInt(320)))
}

func TestComputeWindow_OverpaymentClampsToZero(t *testing.T) {
	// GIVEN: Credits exceeding the daily target
	// WHEN: Computing the window snapshot
	// THEN: Outstanding never goes negative

	acct := testAccount(820)
	txs := []ledger.Transaction{creditAt(1000, anchor.Add(time.Hour))}

	snap := ledger.ComputeWindow(acct, txs, anchor.Add(2*time.Hour))

	assert.True(t, snap.WindowOutstanding.IsZero())
	assert.True(t, snap.TotalOutstanding.IsZero())
}

func TestComputeWindow_RolloverResetsFraction(t *testing.T) {
	// GIVEN: Evaluation just past the first window's end
	// WHEN: Computing the window snapshot
	// THEN: A new window starts at anchor+24h with a near-zero fraction,
	//       and the previous window's credits no longer count toward it

	acct := testAccount(820)
	txs := []ledger.Transaction{creditAt(820, anchor.Add(time.Hour))}

	asOf := anchor.Add(24*time.Hour + time.Minute)
	snap := ledger.ComputeWindow(acct, txs, asOf)

	assert.Equal(t, anchor.Add(24*time.Hour), snap.WindowStart)
	assert.Equal(t, anchor.Add(48*time.Hour), snap.WindowEnd)
	assert.Less(t, snap.ElapsedFraction, 0.01)
	assert.Equal(t, ledger.SeverityLow, snap.Severity)
	assert.True(t, snap.CreditedInWindow.IsZero(), "previous window credit leaked in")
	assert.True(t, snap.WindowOutstanding.Equal(decimal.NewFromInt(820)))
}

func TestComputeWindow_ArrearsCarryForward(t *testing.T) {
	// GIVEN: Two complete cycles with no payments, partway into the third
	// WHEN: Computing the window snapshot
	// THEN: WindowOutstanding covers only the current cycle, but
	//       TotalOutstanding carries the unpaid cycles as arrears

	acct := testAccount(820)

	asOf := anchor.Add(50 * time.Hour) // third cycle, 2h in
	snap := ledger.ComputeWindow(acct, nil, asOf)

	assert.True(t, snap.WindowOutstanding.Equal(decimal.NewFromInt(820)))
	assert.True(t, snap.TotalOutstanding.Equal(decimal.NewFromInt(2460)), "total: %s", snap.TotalOutstanding)
}

func TestComputeWindow_AsOfBeforeAnchor(t *testing.T) {
	// GIVEN: Evaluation time slightly before the anchor (clock skew)
	// WHEN: Computing the window snapshot
	// THEN: The first window is used with zero elapsed time

	acct := testAccount(820)
	snap := ledger.ComputeWindow(acct, nil, anchor.Add(-time.Second))

	assert.Equal(t, anchor, snap.WindowStart)
	assert.Equal(t, 0.0, snap.ElapsedFraction)
}

func TestWindowBoundsFor(t *testing.T) {
	start, end := ledger.WindowBoundsFor(anchor, anchor.Add(30*time.Hour))
	assert.Equal(t, anchor.Add(24*time.Hour), start)
	assert.Equal(t, anchor.Add(48*time.Hour), end)
}

// =============================================================================
// CREDIT NETTING
// =============================================================================

func TestComputeWindow_ReversalNetsAgainstCredits(t *testing.T) {
	// GIVEN: A 500 credit and its reversal
	// WHEN: Computing the window snapshot
	// THEN: The credit is fully netted out

	acct := testAccount(820)
	credit := creditAt(500, anchor.Add(time.Hour))
	reversal := ledger.Transaction{
		ID:         ledger.NewTransactionID(),
		AccountID:  "rider-042",
		Amount:     decimal.NewFromInt(-500),
		Timestamp:  anchor.Add(2 * time.Hour),
		Source:     ledger.SourceReversal,
		ReversesID: credit.ID,
	}

	snap := ledger.ComputeWindow(acct, []ledger.Transaction{credit, reversal}, anchor.Add(3*time.Hour))

	assert.True(t, snap.CreditedInWindow.IsZero())
	assert.True(t, snap.WindowOutstanding.Equal(decimal.NewFromInt(820)))
}

func TestComputeWindow_DebitsDoNotReduceCredits(t *testing.T) {
	// GIVEN: A credit and an unrelated debit in the same window
	// WHEN: Computing the window snapshot
	// THEN: The debit does not touch the credited sum

	acct := testAccount(820)
	debit := creditAt(-300, anchor.Add(time.Hour))
	credit := creditAt(500, anchor.Add(2*time.Hour))

	snap := ledger.ComputeWindow(acct, []ledger.Transaction{debit, credit}, anchor.Add(3*time.Hour))

	assert.True(t, snap.CreditedInWindow.Equal(decimal.NewFromInt(500)))
	assert.True(t, snap.WindowOutstanding.Equal(decimal.NewFromInt(320)))
}

func TestComputeWindowFromTotals_MatchesFullScan(t *testing.T) {
	// GIVEN: The same history as raw transactions and as precomputed sums
	// WHEN: Computing snapshots via both paths
	// THEN: Both produce the same figures

	acct := testAccount(820)
	txs := []ledger.Transaction{
		creditAt(500, anchor.Add(time.Hour)),
		creditAt(100, anchor.Add(26*time.Hour)),
	}
	asOf := anchor.Add(27 * time.Hour)

	full := ledger.ComputeWindow(acct, txs, asOf)
	fromTotals := ledger.ComputeWindowFromTotals(acct,
		decimal.NewFromInt(100), // credited in current window
		decimal.NewFromInt(600), // credited since anchor
		asOf)

	require.True(t, full.CreditedInWindow.Equal(fromTotals.CreditedInWindow))
	require.True(t, full.WindowOutstanding.Equal(fromTotals.WindowOutstanding))
	require.True(t, full.TotalOutstanding.Equal(fromTotals.TotalOutstanding))
	assert.Equal(t, full.WindowStart, fromTotals.WindowStart)
}

// =============================================================================
// SEVERITY TIERS
// =============================================================================

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		fraction float64
		want     ledger.Severity
	}{
		{0.0, ledger.SeverityLow},
		{0.29, ledger.SeverityLow},
		{0.30, ledger.SeverityNominal},
		{0.69, ledger.SeverityNominal},
		{0.70, ledger.SeverityElevated},
		{0.89, ledger.SeverityElevated},
		{0.90, ledger.SeverityCritical},
		{1.0, ledger.SeverityCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ledger.SeverityFor(tt.fraction), "fraction %v", tt.fraction)
	}
}
