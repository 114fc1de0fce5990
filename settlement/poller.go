/*
poller.go - Payment initiation and background settlement polling

PURPOSE:
  Drives each PaymentAttempt from the rider's submission to a terminal
  state. Polling runs as an independent goroutine per attempt with its
  own cancelable context: it never blocks another operation, and a rider
  abandoning the flow cancels exactly that attempt's poller.

DESIGN:
  - Initiation validates locally (amount, phone, account) before any
    network call, and touches no ledger state on gateway errors, so
    initiation is always safe to retry.
  - Confirmation writes the ledger credit FIRST (guarded by the
    correlation-id uniqueness), then transitions the attempt. Two racing
    confirmation paths (retried poll, overlapping webhook) both append;
    the duplicate is a no-op, so exactly one credit ever lands.
  - State transitions go through a single guarded section that re-reads
    the attempt and skips terminal states, so a cancellation racing a
    confirmation cannot produce two outcomes.

CONFIGURATION:
  PollInterval  fixed wait between status polls
  MaxPolls      poll budget before TimedOut

SEE ALSO:
  - attempt.go: State machine definition
  - gateway.go: Provider contract
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bodaworks/payroll-engine/events"
	"github.com/bodaworks/payroll-engine/ledger"
)

// phoneRefPattern accepts E.164-style references: optional +, 9-15 digits.
var phoneRefPattern = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

// ValidatePhoneReference rejects malformed phone references before any
// network or ledger interaction.
func ValidatePhoneReference(phone string) error {
	if !phoneRefPattern.MatchString(phone) {
		return ledger.ErrInvalidPhone
	}
	return nil
}

// =============================================================================
// SETTLER
// =============================================================================

// Config bounds the confirmation polling loop.
type Config struct {
	PollInterval   time.Duration
	MaxPolls       int
	GatewayTimeout time.Duration
}

// DefaultConfig polls 12 times at 5s, bounding an attempt to one minute.
func DefaultConfig() Config {
	return Config{PollInterval: 5 * time.Second, MaxPolls: 12, GatewayTimeout: 10 * time.Second}
}

// Settler initiates push payments and resolves them in the background.
type Settler struct {
	ledger    ledger.Ledger
	accounts  ledger.AccountStore
	attempts  AttemptStore
	gateway   Gateway
	publisher events.Publisher
	cfg       Config

	mu      sync.Mutex // guards cancels and state transitions
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

func NewSettler(l ledger.Ledger, accounts ledger.AccountStore, attempts AttemptStore, gateway Gateway, publisher events.Publisher, cfg Config) *Settler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Settler{
		ledger:     l,
		accounts:   accounts,
		attempts:   attempts,
		gateway:    gateway,
		publisher:  publisher,
		cfg:        cfg,
		cancels:    make(map[string]context.CancelFunc),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// =============================================================================
// INITIATION
// =============================================================================

// InitiatePayment validates input, asks the gateway for a push prompt, and
// starts the background confirmation poller. Gateway errors are returned to
// the caller with no ledger or attempt state left behind.
func (s *Settler) InitiatePayment(ctx context.Context, accountID ledger.AccountID, amount decimal.Decimal, phone string) (PaymentAttempt, error) {
	if !amount.IsPositive() {
		return PaymentAttempt{}, &ledger.InvalidAmountError{Amount: amount, Reason: "payment amount must be positive"}
	}
	if err := ValidatePhoneReference(phone); err != nil {
		return PaymentAttempt{}, err
	}

	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return PaymentAttempt{}, err
	}
	if !acct.IsWritable() {
		return PaymentAttempt{}, ledger.ErrAccountRemoved
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	correlationID, err := s.gateway.Initiate(gwCtx, InitiateRequest{
		AccountID:      accountID,
		PhoneReference: phone,
		Amount:         amount,
	})
	if err != nil {
		return PaymentAttempt{}, fmt.Errorf("initiate payment: %w", err)
	}

	now := time.Now().UTC()
	attempt := PaymentAttempt{
		CorrelationID:   correlationID,
		AccountID:       accountID,
		AmountRequested: amount,
		PhoneReference:  phone,
		State:           StatePromptSent,
		CreatedAt:       now,
	}
	if err := s.attempts.SaveAttempt(ctx, attempt); err != nil {
		return PaymentAttempt{}, err
	}
	paymentsInitiated.Inc()

	s.startPolling(attempt)
	attempt.State = StatePolling
	return attempt, nil
}

// startPolling moves the attempt to Polling and spawns its poller goroutine.
// The poller's context descends from the settler, not the HTTP request.
func (s *Settler) startPolling(attempt PaymentAttempt) {
	pollCtx, cancel := context.WithCancel(s.baseCtx)

	s.mu.Lock()
	// A webhook can resolve the attempt between the PromptSent save and
	// this point; a terminal state is never transitioned back.
	current, err := s.attempts.GetAttempt(pollCtx, attempt.CorrelationID)
	if err != nil {
		s.mu.Unlock()
		cancel()
		log.Printf("[Poller] %s: load before polling failed: %v", attempt.CorrelationID, err)
		return
	}
	if current.State.IsTerminal() {
		s.mu.Unlock()
		cancel()
		return
	}
	attempt.State = StatePolling
	if err := s.attempts.SaveAttempt(pollCtx, attempt); err != nil {
		s.mu.Unlock()
		cancel()
		log.Printf("[Poller] %s: failed to persist polling state: %v", attempt.CorrelationID, err)
		return
	}
	s.cancels[attempt.CorrelationID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.poll(pollCtx, attempt)
}

// =============================================================================
// POLLING LOOP
// =============================================================================

func (s *Settler) poll(ctx context.Context, attempt PaymentAttempt) {
	defer s.wg.Done()
	defer s.forgetCancel(attempt.CorrelationID)
	started := time.Now()

	for i := 0; i < s.cfg.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			// Cancelled (rider or shutdown); state already set by Cancel.
			return
		case <-time.After(s.cfg.PollInterval):
		}

		status, err := s.pollOnce(ctx, attempt.CorrelationID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Poller] %s: poll %d/%d failed: %v", attempt.CorrelationID, i+1, s.cfg.MaxPolls, err)
			continue
		}

		switch status {
		case GatewaySuccess:
			s.confirm(attempt)
			pollDuration.Observe(time.Since(started).Seconds())
			return
		case GatewayFailed:
			s.markTerminal(attempt.CorrelationID, StateFailed, "gateway reported failure")
			pollDuration.Observe(time.Since(started).Seconds())
			return
		case GatewayPending:
			// keep polling
		}
	}

	s.markTerminal(attempt.CorrelationID, StateTimedOut,
		fmt.Sprintf("no confirmation after %d polls", s.cfg.MaxPolls))
	pollDuration.Observe(time.Since(started).Seconds())
}

func (s *Settler) pollOnce(ctx context.Context, correlationID string) (GatewayStatus, error) {
	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	return s.gateway.Status(gwCtx, correlationID)
}

// =============================================================================
// RESOLUTION
// =============================================================================

// confirm writes the ledger credit, then transitions the attempt. The credit
// goes first: the correlation-id guard makes the append idempotent, so a
// crash between the two steps replays safely and a racing webhook cannot
// double-credit.
func (s *Settler) confirm(attempt PaymentAttempt) {
	now := time.Now().UTC()
	tx := ledger.Transaction{
		ID:            ledger.NewTransactionID(),
		AccountID:     attempt.AccountID,
		Amount:        attempt.AmountRequested,
		Timestamp:     now,
		Description:   "mobile-money settlement",
		Source:        ledger.SourceMobileMoney,
		CorrelationID: attempt.CorrelationID,
		CreatedAt:     now,
	}

	err := s.ledger.Append(s.baseCtx, tx)
	switch {
	case err == nil:
		event := events.PaymentSettled{
			CorrelationID: attempt.CorrelationID,
			AccountID:     string(attempt.AccountID),
			Amount:        attempt.AmountRequested,
			TransactionID: string(tx.ID),
			SettledAt:     now,
		}
		if pubErr := s.publisher.Publish(events.TopicPaymentSettled, event); pubErr != nil {
			log.Printf("[Poller] %s: event publish failed: %v", attempt.CorrelationID, pubErr)
		}
	case errors.Is(err, ledger.ErrDuplicateCorrelation):
		duplicateConfirmations.Inc()
	default:
		log.Printf("[Poller] %s: credit append failed: %v", attempt.CorrelationID, err)
		return
	}

	s.markTerminal(attempt.CorrelationID, StateConfirmed, "")
}

// markTerminal transitions an attempt to a terminal state. Already-terminal
// attempts are left untouched, so replayed resolutions are no-ops.
func (s *Settler) markTerminal(correlationID string, to State, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, err := s.attempts.GetAttempt(context.Background(), correlationID)
	if err != nil {
		log.Printf("[Poller] %s: load for transition failed: %v", correlationID, err)
		return false
	}
	if attempt.State.IsTerminal() {
		return false
	}

	now := time.Now().UTC()
	attempt.State = to
	attempt.FailReason = reason
	attempt.ResolvedAt = &now
	if err := s.attempts.SaveAttempt(context.Background(), attempt); err != nil {
		log.Printf("[Poller] %s: transition to %s failed: %v", correlationID, to, err)
		return false
	}
	attemptsResolved.WithLabelValues(string(to)).Inc()
	return true
}

func (s *Settler) forgetCancel(correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, correlationID)
}

// =============================================================================
// EXTERNAL RESOLUTION PATHS
// =============================================================================

// Cancel stops an in-flight attempt after the rider abandons the flow.
// No further polls are issued and no transaction is written.
func (s *Settler) Cancel(ctx context.Context, correlationID string) (PaymentAttempt, error) {
	s.mu.Lock()
	attempt, err := s.attempts.GetAttempt(ctx, correlationID)
	if err != nil {
		s.mu.Unlock()
		return PaymentAttempt{}, err
	}
	if attempt.State.IsTerminal() {
		s.mu.Unlock()
		return attempt, ErrAttemptResolved
	}

	now := time.Now().UTC()
	attempt.State = StateCancelled
	attempt.ResolvedAt = &now
	if err := s.attempts.SaveAttempt(ctx, attempt); err != nil {
		s.mu.Unlock()
		return PaymentAttempt{}, err
	}
	cancel := s.cancels[correlationID]
	delete(s.cancels, correlationID)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	attemptsResolved.WithLabelValues(string(StateCancelled)).Inc()
	return attempt, nil
}

// ResolveCallback applies a provider webhook for an in-flight attempt.
// Duplicate callbacks for already-resolved attempts are idempotent no-ops.
func (s *Settler) ResolveCallback(ctx context.Context, correlationID string, success bool) (PaymentAttempt, error) {
	attempt, err := s.attempts.GetAttempt(ctx, correlationID)
	if err != nil {
		return PaymentAttempt{}, err
	}
	if attempt.State.IsTerminal() {
		return attempt, nil
	}

	if success {
		s.confirm(attempt)
	} else {
		s.markTerminal(correlationID, StateFailed, "gateway callback reported failure")
	}

	// Stop the poller; the attempt is terminal now.
	s.mu.Lock()
	cancel := s.cancels[correlationID]
	delete(s.cancels, correlationID)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	return s.attempts.GetAttempt(ctx, correlationID)
}

// AttemptStatus returns the current state of an attempt.
func (s *Settler) AttemptStatus(ctx context.Context, correlationID string) (PaymentAttempt, error) {
	return s.attempts.GetAttempt(ctx, correlationID)
}

// ListAttempts returns an account's attempts for audit display.
func (s *Settler) ListAttempts(ctx context.Context, accountID ledger.AccountID) ([]PaymentAttempt, error) {
	return s.attempts.ListAttempts(ctx, accountID)
}

// Shutdown cancels every in-flight poller and waits for them to stop.
func (s *Settler) Shutdown() {
	s.baseCancel()
	s.wg.Wait()
}
