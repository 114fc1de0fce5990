/*
window.go - Rolling 24-hour payment window

PURPOSE:
  Derives the current payment cycle for an account: where the window
  starts, how much of it has elapsed, what has been credited inside it,
  and what remains outstanding. This is ONE deterministic function with
  a documented precedence, independent of any rendering layer.

WINDOW DERIVATION:
  The window is anchored to the account's CycleAnchor (set at enrollment;
  a cycle reset moves it forward, never backward). For any evaluation
  time asOf:

    cycles      = floor((asOf - anchor) / 24h)
    windowStart = anchor + cycles * 24h
    windowEnd   = windowStart + 24h

  No explicit rollover event is required: when a window completes, the
  next one begins implicitly via the modulo arithmetic above.

OUTSTANDING:
  Two figures are computed:
    WindowOutstanding = max(0, fee - creditedInWindow)
  covers only the current cycle, and
    TotalOutstanding = max(0, fee * (cycles+1) - creditedSinceAnchor)
  carries unpaid cycles forward as arrears. The overdue evaluator uses
  the arrears figure; daysLate >= 2 is unreachable without it.

CREDIT NETTING:
  A credit's reversal (negative amount, Source=reversal) nets against
  the credited sum. Debit entries never reduce credits, so outstanding
  is independent of debit ordering.

SEE ALSO:
  - overdue.go: Classifies TotalOutstanding into escalation tiers
  - store.go: SumCredits mirrors the netting rule storage-side
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// WindowLength is the rolling payment cycle, anchored to enrollment or the
// last cycle reset, not to calendar days.
const WindowLength = 24 * time.Hour

// =============================================================================
// SEVERITY - Presentation tier for elapsed window time
// =============================================================================

// Severity is a UI/alerting hint derived purely from ElapsedFraction.
// It is not part of the ledger invariants.
type Severity string

const (
	SeverityLow      Severity = "low"      // [0, 0.30)
	SeverityNominal  Severity = "nominal"  // [0.30, 0.70)
	SeverityElevated Severity = "elevated" // [0.70, 0.90)
	SeverityCritical Severity = "critical" // [0.90, 1.0]
)

// SeverityFor maps an elapsed fraction to its tier.
func SeverityFor(elapsedFraction float64) Severity {
	switch {
	case elapsedFraction < 0.30:
		return SeverityLow
	case elapsedFraction < 0.70:
		return SeverityNominal
	case elapsedFraction < 0.90:
		return SeverityElevated
	default:
		return SeverityCritical
	}
}

// =============================================================================
// WINDOW SNAPSHOT - Computed state of the current cycle
// =============================================================================

type WindowSnapshot struct {
	AccountID   AccountID
	AsOf        time.Time
	WindowStart time.Time
	WindowEnd   time.Time

	// ElapsedFraction of the current 24h cycle, in [0, 1).
	ElapsedFraction float64
	Severity        Severity

	// CreditedInWindow is the netted credit sum inside [WindowStart, WindowEnd).
	CreditedInWindow decimal.Decimal

	// WindowOutstanding = max(0, fee - CreditedInWindow). Current cycle only.
	WindowOutstanding decimal.Decimal

	// TotalOutstanding carries unpaid prior cycles forward as arrears.
	TotalOutstanding decimal.Decimal
}

// =============================================================================
// WINDOW CALCULATION
// =============================================================================

// ComputeWindow derives the current window snapshot from an account's raw
// transaction history. Pure function: same inputs, same snapshot.
//
// If asOf precedes the anchor (clock skew at enrollment) the first window
// is used with zero elapsed time.
func ComputeWindow(acct PayrollAccount, txs []Transaction, asOf time.Time) WindowSnapshot {
	creditedWindow := decimal.Zero
	creditedTotal := decimal.Zero

	start, end, cycles := windowBounds(acct.CycleAnchor, asOf)

	for _, tx := range txs {
		delta, ok := creditDelta(tx)
		if !ok {
			continue
		}
		if !tx.Timestamp.Before(acct.CycleAnchor) {
			creditedTotal = creditedTotal.Add(delta)
		}
		if !tx.Timestamp.Before(start) && tx.Timestamp.Before(end) {
			creditedWindow = creditedWindow.Add(delta)
		}
	}

	return buildSnapshot(acct, asOf, start, end, cycles, creditedWindow, creditedTotal)
}

// ComputeWindowFromTotals builds the same snapshot from storage-side credit
// sums (Store.SumCredits), avoiding a full transaction scan. Used by list
// projections where per-account scans would be quadratic.
func ComputeWindowFromTotals(acct PayrollAccount, creditedWindow, creditedTotal decimal.Decimal, asOf time.Time) WindowSnapshot {
	start, end, cycles := windowBounds(acct.CycleAnchor, asOf)
	return buildSnapshot(acct, asOf, start, end, cycles, creditedWindow, creditedTotal)
}

// WindowBoundsFor exposes the window derivation for callers that need the
// raw boundaries (e.g. to scope a storage-side credit sum).
func WindowBoundsFor(anchor, asOf time.Time) (start, end time.Time) {
	start, end, _ = windowBounds(anchor, asOf)
	return start, end
}

func windowBounds(anchor, asOf time.Time) (start, end time.Time, cycles int64) {
	elapsed := asOf.Sub(anchor)
	if elapsed < 0 {
		elapsed = 0
	}
	cycles = int64(elapsed / WindowLength)
	start = anchor.Add(time.Duration(cycles) * WindowLength)
	end = start.Add(WindowLength)
	return start, end, cycles
}

func buildSnapshot(acct PayrollAccount, asOf, start, end time.Time, cycles int64, creditedWindow, creditedTotal decimal.Decimal) WindowSnapshot {
	fraction := float64(asOf.Sub(start)) / float64(WindowLength)
	if fraction < 0 {
		fraction = 0
	}
	if fraction >= 1 {
		fraction = 1
	}

	owedTotal := acct.DailyTargetFee.Mul(decimal.NewFromInt(cycles + 1))

	return WindowSnapshot{
		AccountID:         acct.AccountID,
		AsOf:              asOf,
		WindowStart:       start,
		WindowEnd:         end,
		ElapsedFraction:   fraction,
		Severity:          SeverityFor(fraction),
		CreditedInWindow:  creditedWindow,
		WindowOutstanding: decimal.Max(decimal.Zero, acct.DailyTargetFee.Sub(creditedWindow)),
		TotalOutstanding:  decimal.Max(decimal.Zero, owedTotal.Sub(creditedTotal)),
	}
}

// creditDelta returns a transaction's contribution to the credited sum.
// Credits count; a reversal of a credit (negative reversal) nets against
// them; debits and debit-reversals contribute nothing.
func creditDelta(tx Transaction) (decimal.Decimal, bool) {
	if tx.IsCredit() {
		return tx.Amount, true
	}
	if tx.Source == SourceReversal && tx.Amount.IsNegative() {
		return tx.Amount, true
	}
	return decimal.Zero, false
}
