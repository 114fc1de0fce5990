/*
summary.go - Rider and admin projections over the ledger

PURPOSE:
  Answers "where does this rider stand right now" for one account
  (AccountSummary) and for the whole fleet (ListAccounts). Both recompute
  from the ledger on every call via storage-side credit sums - there is
  no cached balance that can go stale.
*/
package payroll

import (
	"context"
	"time"

	"github.com/bodaworks/payroll-engine/ledger"
)

// =============================================================================
// PROJECTIONS
// =============================================================================

// AccountOverview is one row of the admin list view.
type AccountOverview struct {
	Account    ledger.PayrollAccount
	Window     ledger.WindowSnapshot
	Assessment ledger.Assessment
}

// ListFilter narrows the admin list projection.
type ListFilter struct {
	Status ledger.AccountStatus    // empty = any
	Tier   ledger.ComplianceStatus // empty = any
}

// AccountSummary computes the current window snapshot and escalation tier
// for one rider. Two indexed credit sums per call, no full scan.
func (s *Service) AccountSummary(ctx context.Context, accountID ledger.AccountID, asOf time.Time) (AccountOverview, error) {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return AccountOverview{}, err
	}
	return s.overview(ctx, acct, asOf)
}

// ListAccounts returns the fleet projection, filtered by status and tier.
// Outstanding and daysLate are recomputed per call.
func (s *Service) ListAccounts(ctx context.Context, filter ListFilter, asOf time.Time) ([]AccountOverview, error) {
	accts, err := s.accounts.ListAccounts(ctx, ledger.AccountFilter{Status: filter.Status})
	if err != nil {
		return nil, err
	}

	result := make([]AccountOverview, 0, len(accts))
	for _, acct := range accts {
		ov, err := s.overview(ctx, acct, asOf)
		if err != nil {
			return nil, err
		}
		if filter.Tier != "" && ov.Assessment.Status != filter.Tier {
			continue
		}
		result = append(result, ov)
	}
	return result, nil
}

func (s *Service) overview(ctx context.Context, acct ledger.PayrollAccount, asOf time.Time) (AccountOverview, error) {
	windowStart, windowEnd := ledger.WindowBoundsFor(acct.CycleAnchor, asOf)

	creditedWindow, err := s.store.SumCredits(ctx, acct.AccountID, windowStart, windowEnd)
	if err != nil {
		return AccountOverview{}, err
	}
	// SumCredits' upper bound is exclusive; one nanosecond past asOf keeps
	// entries stamped exactly at asOf without counting anything later.
	creditedTotal, err := s.store.SumCredits(ctx, acct.AccountID, acct.CycleAnchor, asOf.Add(time.Nanosecond))
	if err != nil {
		return AccountOverview{}, err
	}

	snap := ledger.ComputeWindowFromTotals(acct, creditedWindow, creditedTotal, asOf)
	return AccountOverview{
		Account:    acct,
		Window:     snap,
		Assessment: ledger.EvaluateSnapshot(snap, acct.DailyTargetFee),
	}, nil
}
