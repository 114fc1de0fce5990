/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and domain services, not in DTOs.
  DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/bodaworks/payroll-engine/ledger"
	"github.com/bodaworks/payroll-engine/payroll"
	"github.com/bodaworks/payroll-engine/settlement"
)

// =============================================================================
// ACCOUNT TYPES
// =============================================================================

// EnrollRequest creates a payroll account.
type EnrollRequest struct {
	AccountID      string `json:"account_id"`
	DailyTargetFee string `json:"daily_target_fee"`
	Phone          string `json:"phone,omitempty"`
}

// AccountDTO represents a payroll account in responses.
type AccountDTO struct {
	AccountID      string `json:"account_id"`
	DailyTargetFee string `json:"daily_target_fee"`
	CycleAnchor    string `json:"cycle_anchor"`
	Status         string `json:"status"`
	Phone          string `json:"phone,omitempty"`
	EnrolledAt     string `json:"enrolled_at"`
}

// SummaryDTO is the rider and admin view of where an account stands right now.
type SummaryDTO struct {
	Account AccountDTO `json:"account"`

	WindowStart     string  `json:"window_start"`
	WindowEnd       string  `json:"window_end"`
	ElapsedFraction float64 `json:"elapsed_fraction"`
	Severity        string  `json:"severity"`

	CreditedInWindow  string `json:"credited_in_window"`
	WindowOutstanding string `json:"window_outstanding"`
	Outstanding       string `json:"outstanding"`

	DaysLate int64  `json:"days_late"`
	Status   string `json:"compliance_status"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// AdjustRequest writes a manual ledger transaction.
type AdjustRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// ReverseRequest undoes an existing ledger entry.
type ReverseRequest struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

// TransactionDTO represents a ledger entry in responses.
type TransactionDTO struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id"`
	Amount        string `json:"amount"`
	Timestamp     string `json:"timestamp"`
	Description   string `json:"description,omitempty"`
	Source        string `json:"source"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ReversesID    string `json:"reverses_id,omitempty"`
}

// =============================================================================
// PAYMENT TYPES
// =============================================================================

// InitiatePaymentRequest starts a mobile-money push payment.
type InitiatePaymentRequest struct {
	AccountID      string `json:"account_id"`
	Amount         string `json:"amount"`
	PhoneReference string `json:"phone_reference"`
}

// CallbackRequest is the provider webhook payload.
type CallbackRequest struct {
	Status string `json:"status"` // success | failed
}

// AttemptDTO represents a payment attempt in responses.
type AttemptDTO struct {
	CorrelationID   string `json:"correlation_id"`
	AccountID       string `json:"account_id"`
	AmountRequested string `json:"amount_requested"`
	PhoneReference  string `json:"phone_reference"`
	State           string `json:"state"`
	FailReason      string `json:"fail_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
	ResolvedAt      string `json:"resolved_at,omitempty"`
}

// ErrorResponse is the shape of every error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAccountDTO(a ledger.PayrollAccount) AccountDTO {
	return AccountDTO{
		AccountID:      string(a.AccountID),
		DailyTargetFee: a.DailyTargetFee.String(),
		CycleAnchor:    a.CycleAnchor.Format(time.RFC3339),
		Status:         string(a.Status),
		Phone:          a.Phone,
		EnrolledAt:     a.EnrolledAt.Format(time.RFC3339),
	}
}

func toSummaryDTO(ov payroll.AccountOverview) SummaryDTO {
	return SummaryDTO{
		Account:           toAccountDTO(ov.Account),
		WindowStart:       ov.Window.WindowStart.Format(time.RFC3339),
		WindowEnd:         ov.Window.WindowEnd.Format(time.RFC3339),
		ElapsedFraction:   ov.Window.ElapsedFraction,
		Severity:          string(ov.Window.Severity),
		CreditedInWindow:  ov.Window.CreditedInWindow.String(),
		WindowOutstanding: ov.Window.WindowOutstanding.String(),
		Outstanding:       ov.Window.TotalOutstanding.String(),
		DaysLate:          ov.Assessment.DaysLate,
		Status:            string(ov.Assessment.Status),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:            string(tx.ID),
		AccountID:     string(tx.AccountID),
		Amount:        tx.Amount.String(),
		Timestamp:     tx.Timestamp.Format(time.RFC3339),
		Description:   tx.Description,
		Source:        string(tx.Source),
		CorrelationID: tx.CorrelationID,
		ReversesID:    string(tx.ReversesID),
	}
}

func toAttemptDTO(a settlement.PaymentAttempt) AttemptDTO {
	dto := AttemptDTO{
		CorrelationID:   a.CorrelationID,
		AccountID:       string(a.AccountID),
		AmountRequested: a.AmountRequested.String(),
		PhoneReference:  a.PhoneReference,
		State:           string(a.State),
		FailReason:      a.FailReason,
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
	}
	if a.ResolvedAt != nil {
		dto.ResolvedAt = a.ResolvedAt.Format(time.RFC3339)
	}
	return dto
}
