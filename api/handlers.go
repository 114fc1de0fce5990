/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the payroll ledger and settlement engine via REST. Handles
  HTTP request/response and JSON serialization, delegating all business
  rules to the payroll and settlement packages.

ENDPOINTS:
  Admin:
    POST   /api/accounts                      Enroll a rider
    GET    /api/accounts                      List accounts with outstanding/daysLate
    DELETE /api/accounts/{id}                 Unenroll (history retained)
    POST   /api/accounts/{id}/suspend         Suspend
    POST   /api/accounts/{id}/reinstate       Reinstate
    POST   /api/accounts/{id}/reset-cycle     Start a new rolling window
    POST   /api/accounts/{id}/adjustments     Manual ledger transaction
    POST   /api/accounts/{id}/reversals       Reverse an existing entry
    GET    /api/accounts/{id}/transactions    Full ledger history

  Rider:
    GET    /api/accounts/{id}                 Window summary + escalation tier
    POST   /api/payments                      Initiate a push payment
    GET    /api/payments/{correlationId}      Attempt status
    DELETE /api/payments/{correlationId}      Cancel mid-poll
    POST   /api/payments/{correlationId}/callback  Provider webhook

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Account/attempt not found
  - 409: Conflict (already enrolled, already reversed, already resolved)
  - 502: Gateway failures during initiation
  - 500: Internal errors
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bodaworks/payroll-engine/ledger"
	"github.com/bodaworks/payroll-engine/payroll"
	"github.com/bodaworks/payroll-engine/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Payroll *payroll.Service
	Settler *settlement.Settler
}

func NewHandler(p *payroll.Service, s *settlement.Settler) *Handler {
	return &Handler{Payroll: p, Settler: s}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// EnrollAccount creates a payroll account.
// POST /api/accounts
func (h *Handler) EnrollAccount(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required", nil)
		return
	}
	fee, err := decimal.NewFromString(req.DailyTargetFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid daily_target_fee", err)
		return
	}

	acct, err := h.Payroll.Enroll(r.Context(), ledger.AccountID(req.AccountID), fee, req.Phone)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// ListAccounts returns the fleet projection.
// GET /api/accounts?status=active&tier=restricted
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	filter := payroll.ListFilter{
		Status: ledger.AccountStatus(r.URL.Query().Get("status")),
		Tier:   ledger.ComplianceStatus(r.URL.Query().Get("tier")),
	}

	overviews, err := h.Payroll.ListAccounts(r.Context(), filter, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]SummaryDTO, len(overviews))
	for i, ov := range overviews {
		dtos[i] = toSummaryDTO(ov)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccountSummary returns one rider's window snapshot and tier.
// GET /api/accounts/{id}
func (h *Handler) GetAccountSummary(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	ov, err := h.Payroll.AccountSummary(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(ov))
}

// UnenrollAccount retires a rider; ledger history is kept.
// DELETE /api/accounts/{id}
func (h *Handler) UnenrollAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	if err := h.Payroll.Unenroll(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SuspendAccount marks a rider operating-restricted.
// POST /api/accounts/{id}/suspend
func (h *Handler) SuspendAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	if err := h.Payroll.Suspend(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReinstateAccount returns a suspended rider to active.
// POST /api/accounts/{id}/reinstate
func (h *Handler) ReinstateAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	if err := h.Payroll.Reinstate(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetCycle starts a fresh rolling window at now.
// POST /api/accounts/{id}/reset-cycle
func (h *Handler) ResetCycle(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	acct, err := h.Payroll.ResetCycle(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// CreateAdjustment writes a manual ledger transaction.
// POST /api/accounts/{id}/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := h.Payroll.Adjust(r.Context(), id, amount, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// CreateReversal appends the undo of an existing entry.
// POST /api/accounts/{id}/reversals
func (h *Handler) CreateReversal(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req ReverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "transaction_id is required", nil)
		return
	}

	tx, err := h.Payroll.Reverse(r.Context(), id, ledger.TransactionID(req.TransactionID), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// GetTransactions returns a rider's full ledger history.
// GET /api/accounts/{id}/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	txs, err := h.Payroll.Transactions(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// InitiatePayment starts a push payment and its background poller.
// POST /api/payments
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	attempt, err := h.Settler.InitiatePayment(r.Context(), ledger.AccountID(req.AccountID), amount, req.PhoneReference)
	if err != nil {
		if ledger.IsClientError(err) || ledger.IsNotFound(err) {
			writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusBadGateway, "Payment initiation failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, toAttemptDTO(attempt))
}

// GetAttemptStatus returns the current state of a payment attempt.
// GET /api/payments/{correlationId}
func (h *Handler) GetAttemptStatus(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationId")

	attempt, err := h.Settler.AttemptStatus(r.Context(), correlationID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptDTO(attempt))
}

// CancelPayment stops polling after the rider abandons the flow.
// DELETE /api/payments/{correlationId}
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationId")

	attempt, err := h.Settler.Cancel(r.Context(), correlationID)
	if err != nil {
		if errors.Is(err, settlement.ErrAttemptResolved) {
			writeError(w, http.StatusConflict, "Attempt already resolved", err)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptDTO(attempt))
}

// PaymentCallback applies a provider webhook. Replays are no-ops.
// POST /api/payments/{correlationId}/callback
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationId")

	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Status != "success" && req.Status != "failed" {
		writeError(w, http.StatusBadRequest, "status must be success or failed", nil)
		return
	}

	attempt, err := h.Settler.ResolveCallback(r.Context(), correlationID, req.Status == "success")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptDTO(attempt))
}

// ListAttempts returns a rider's payment attempts for audit display.
// GET /api/accounts/{id}/attempts
func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	attempts, err := h.Settler.ListAttempts(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list attempts", err)
		return
	}

	dtos := make([]AttemptDTO, len(attempts))
	for i, a := range attempts {
		dtos[i] = toAttemptDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err) || errors.Is(err, settlement.ErrAttemptNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrAlreadyEnrolled) || errors.Is(err, ledger.ErrAlreadyReversed):
		writeError(w, http.StatusConflict, "Conflict", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
