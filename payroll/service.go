/*
Package payroll implements the admin manager and the rider-facing summary
projections over the ledger engine.

OPERATIONS:
  Enroll / Unenroll      account lifecycle (history is retained on removal)
  Suspend / Reinstate    operating status without touching the ledger
  ResetCycle             move the rolling-window anchor forward
  Adjust                 manual ledger credit or debit
  Reverse                separately-logged undo of a prior entry
  ListAccounts           projection with outstanding/daysLate per account
  AccountSummary         window snapshot + escalation tier for one rider

CONSISTENCY:
  Projections are always recomputed from the ledger (via storage-side
  credit sums), never served from a cached balance field. The same window
  and overdue code backs both the rider and admin views.
*/
package payroll

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bodaworks/payroll-engine/ledger"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service wires the account store and the ledger into admin operations.
type Service struct {
	accounts ledger.AccountStore
	store    ledger.Store
	ledger   ledger.Ledger
}

func NewService(accounts ledger.AccountStore, store ledger.Store, l ledger.Ledger) *Service {
	return &Service{accounts: accounts, store: store, ledger: l}
}

// =============================================================================
// ENROLLMENT LIFECYCLE
// =============================================================================

// Enroll creates a PayrollAccount with the cycle anchored at now.
// Fails if the rider is already enrolled (active or suspended).
// Re-enrolling a removed rider starts a fresh cycle anchor: the old
// transactions stay on record for audit but are outside the new window.
func (s *Service) Enroll(ctx context.Context, accountID ledger.AccountID, dailyTargetFee decimal.Decimal, phone string) (ledger.PayrollAccount, error) {
	if !dailyTargetFee.IsPositive() {
		return ledger.PayrollAccount{}, &ledger.InvalidAmountError{Amount: dailyTargetFee, Reason: "daily target fee must be positive"}
	}

	existing, err := s.accounts.GetAccount(ctx, accountID)
	if err == nil && existing.Status != ledger.StatusRemoved {
		return ledger.PayrollAccount{}, ledger.ErrAlreadyEnrolled
	}
	if err != nil && !ledger.IsNotFound(err) {
		return ledger.PayrollAccount{}, err
	}

	now := time.Now().UTC()
	acct := ledger.PayrollAccount{
		AccountID:      accountID,
		DailyTargetFee: dailyTargetFee,
		CycleAnchor:    now,
		Status:         ledger.StatusActive,
		Phone:          phone,
		EnrolledAt:     now,
	}
	if err := s.accounts.SaveAccount(ctx, acct); err != nil {
		return ledger.PayrollAccount{}, err
	}
	return acct, nil
}

// Unenroll retires an account. The transaction history is kept for audit;
// only the status changes.
func (s *Service) Unenroll(ctx context.Context, accountID ledger.AccountID) error {
	return s.setStatus(ctx, accountID, ledger.StatusRemoved)
}

// Suspend marks a rider as operating-restricted without ledger changes.
func (s *Service) Suspend(ctx context.Context, accountID ledger.AccountID) error {
	return s.setStatus(ctx, accountID, ledger.StatusSuspended)
}

// Reinstate returns a suspended rider to active.
func (s *Service) Reinstate(ctx context.Context, accountID ledger.AccountID) error {
	return s.setStatus(ctx, accountID, ledger.StatusActive)
}

func (s *Service) setStatus(ctx context.Context, accountID ledger.AccountID, status ledger.AccountStatus) error {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.Status == ledger.StatusRemoved && status != ledger.StatusRemoved {
		return ledger.ErrAccountRemoved
	}
	acct.Status = status
	return s.accounts.SaveAccount(ctx, acct)
}

// ResetCycle starts a new rolling window at now. The anchor only ever moves
// forward.
func (s *Service) ResetCycle(ctx context.Context, accountID ledger.AccountID) (ledger.PayrollAccount, error) {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return ledger.PayrollAccount{}, err
	}
	if !acct.IsWritable() {
		return ledger.PayrollAccount{}, ledger.ErrAccountRemoved
	}

	now := time.Now().UTC()
	if now.Before(acct.CycleAnchor) {
		return ledger.PayrollAccount{}, ledger.ErrAnchorMovedBackward
	}
	acct.CycleAnchor = now
	if err := s.accounts.SaveAccount(ctx, acct); err != nil {
		return ledger.PayrollAccount{}, err
	}
	return acct, nil
}

// =============================================================================
// LEDGER OPERATIONS
// =============================================================================

// Adjust writes a manual transaction (positive credit or negative debit).
// Removed accounts are rejected; nothing is partially applied.
func (s *Service) Adjust(ctx context.Context, accountID ledger.AccountID, amount decimal.Decimal, description string) (ledger.Transaction, error) {
	if amount.IsZero() {
		return ledger.Transaction{}, &ledger.InvalidAmountError{Amount: amount, Reason: "adjustment must be nonzero"}
	}

	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !acct.IsWritable() {
		return ledger.Transaction{}, fmt.Errorf("adjust %s: %w", accountID, ledger.ErrAccountRemoved)
	}

	now := time.Now().UTC()
	tx := ledger.Transaction{
		ID:          ledger.NewTransactionID(),
		AccountID:   accountID,
		Amount:      amount,
		Timestamp:   now,
		Description: description,
		Source:      ledger.SourceManual,
		CreatedAt:   now,
	}
	if err := s.ledger.Append(ctx, tx); err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

// Reverse appends the separately-logged undo of an existing entry.
func (s *Service) Reverse(ctx context.Context, accountID ledger.AccountID, txID ledger.TransactionID, reason string) (ledger.Transaction, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return ledger.Transaction{}, err
	}
	return s.ledger.Reverse(ctx, accountID, txID, reason)
}

// Transactions returns a rider's full ledger history.
func (s *Service) Transactions(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.ledger.Transactions(ctx, accountID)
}
