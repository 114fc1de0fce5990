// Package events defines the settlement event stream consumed by downstream
// systems (reporting, rider notifications are external collaborators).
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopicPaymentSettled carries PaymentSettled events.
const TopicPaymentSettled = "payment_settled"

// PaymentSettled is emitted after a confirmed mobile-money credit has been
// appended to the ledger. Emitted at most once per correlation ID.
type PaymentSettled struct {
	CorrelationID string          `json:"correlation_id"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
	SettledAt     time.Time       `json:"settled_at"`
}

// Publisher delivers events to the stream. Implementations must be safe for
// concurrent use; delivery failures are logged, never surfaced to riders.
type Publisher interface {
	Publish(topic string, event any) error
}

// Nop discards all events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(topic string, event any) error { return nil }
