/*
overdue.go - Escalation tier classification

PURPOSE:
  Classifies an account's payment health from its outstanding arrears.
  Pure function of ledger state at evaluation time: no side effects,
  safe to call repeatedly, and the rider and admin views run the exact
  same code so the escalation policy can never disagree between them.

POLICY:
  daysLate = floor(outstanding / dailyTargetFee)
    0  -> compliant
    1  -> overdue (warning)
    2  -> operating restricted
    3+ -> eligible for repossession
*/
package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// COMPLIANCE STATUS
// =============================================================================

type ComplianceStatus string

const (
	Compliant            ComplianceStatus = "compliant"
	Overdue              ComplianceStatus = "overdue"
	Restricted           ComplianceStatus = "restricted"
	RepossessionEligible ComplianceStatus = "repossession-eligible"
)

// Assessment is the overdue evaluator's output.
type Assessment struct {
	DaysLate int64
	Status   ComplianceStatus
}

// Evaluate classifies outstanding arrears against the daily target fee.
// DaysLate is non-decreasing in outstanding for a fixed fee.
func Evaluate(outstanding, dailyTargetFee decimal.Decimal) Assessment {
	daysLate := int64(0)
	if dailyTargetFee.IsPositive() && outstanding.IsPositive() {
		daysLate = outstanding.Div(dailyTargetFee).IntPart()
	}

	status := Compliant
	switch {
	case daysLate >= 3:
		status = RepossessionEligible
	case daysLate >= 2:
		status = Restricted
	case daysLate >= 1:
		status = Overdue
	}

	return Assessment{DaysLate: daysLate, Status: status}
}

// EvaluateSnapshot classifies a computed window snapshot.
func EvaluateSnapshot(snap WindowSnapshot, fee decimal.Decimal) Assessment {
	return Evaluate(snap.TotalOutstanding, fee)
}
