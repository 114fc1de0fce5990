/*
gateway.go - Abstract mobile-money gateway contract

PURPOSE:
  The concrete provider is an external collaborator. This file pins the
  minimal contract the engine relies on and ships an HTTP client for
  providers that expose it directly:

    POST {base}/payments/initiate {phoneReference, amount, accountId}
         -> {correlationId}
    GET  {base}/payments/status?correlationId=...
         -> {status: pending|success|failed}

  Initiation errors reach the caller before any ledger mutation, so a
  rejected phone number or a network failure is always safe to retry.
*/
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bodaworks/payroll-engine/ledger"
)

// =============================================================================
// GATEWAY CONTRACT
// =============================================================================

// GatewayStatus is the provider-reported outcome of a push payment.
type GatewayStatus string

const (
	GatewayPending GatewayStatus = "pending"
	GatewaySuccess GatewayStatus = "success"
	GatewayFailed  GatewayStatus = "failed"
)

// InitiateRequest is the payload for a push-payment prompt.
type InitiateRequest struct {
	AccountID      ledger.AccountID
	PhoneReference string
	Amount         decimal.Decimal
}

// Gateway abstracts the mobile-money provider.
type Gateway interface {
	// Initiate sends the push prompt and returns the provider-issued
	// correlation ID. No ledger state is touched on error.
	Initiate(ctx context.Context, req InitiateRequest) (correlationID string, err error)

	// Status reports the current outcome for a correlation ID.
	Status(ctx context.Context, correlationID string) (GatewayStatus, error)
}

// =============================================================================
// HTTP GATEWAY - Client for providers exposing the contract directly
// =============================================================================

// HTTPGateway talks to a provider over the abstract REST contract.
type HTTPGateway struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type initiatePayload struct {
	PhoneReference string          `json:"phoneReference"`
	Amount         decimal.Decimal `json:"amount"`
	AccountID      string          `json:"accountId"`
}

type initiateResponse struct {
	CorrelationID string `json:"correlationId"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (g *HTTPGateway) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	body, err := json.Marshal(initiatePayload{
		PhoneReference: req.PhoneReference,
		Amount:         req.Amount,
		AccountID:      string(req.AccountID),
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/payments/initiate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gateway initiate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("gateway initiate: unexpected status %d", resp.StatusCode)
	}

	var out initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway initiate: decode: %w", err)
	}
	if out.CorrelationID == "" {
		return "", fmt.Errorf("gateway initiate: empty correlation id")
	}
	return out.CorrelationID, nil
}

func (g *HTTPGateway) Status(ctx context.Context, correlationID string) (GatewayStatus, error) {
	u := g.BaseURL + "/payments/status?correlationId=" + url.QueryEscape(correlationID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gateway status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway status: unexpected status %d", resp.StatusCode)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway status: decode: %w", err)
	}

	switch GatewayStatus(out.Status) {
	case GatewayPending, GatewaySuccess, GatewayFailed:
		return GatewayStatus(out.Status), nil
	default:
		return "", fmt.Errorf("gateway status: unknown status %q", out.Status)
	}
}
