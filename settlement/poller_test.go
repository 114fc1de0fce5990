package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodaworks/payroll-engine/events"
	"github.com/bodaworks/payroll-engine/ledger"
	"github.com/bodaworks/payroll-engine/ledger/store"
	"github.com/bodaworks/payroll-engine/settlement"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// fakeGateway serves a scripted status sequence and sticks on the last one.
type fakeGateway struct {
	mu           sync.Mutex
	correlation  string
	initiateErr  error
	statuses     []settlement.GatewayStatus
	statusCalls  int
	initiateHits int
}

func (g *fakeGateway) Initiate(_ context.Context, _ settlement.InitiateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiateHits++
	if g.initiateErr != nil {
		return "", g.initiateErr
	}
	return g.correlation, nil
}

func (g *fakeGateway) Status(_ context.Context, _ string) (settlement.GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.statusCalls
	g.statusCalls++
	if i >= len(g.statuses) {
		i = len(g.statuses) - 1
	}
	return g.statuses[i], nil
}

func (g *fakeGateway) polls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls
}

// recordingPublisher captures settlement events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentSettled
}

func (p *recordingPublisher) Publish(_ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := event.(events.PaymentSettled); ok {
		p.events = append(p.events, e)
	}
	return nil
}

func (p *recordingPublisher) settled() []events.PaymentSettled {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.PaymentSettled, len(p.events))
	copy(out, p.events)
	return out
}

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	settler   *settlement.Settler
	ledger    *ledger.DefaultLedger
	mem       *store.Memory
	gateway   *fakeGateway
	publisher *recordingPublisher
}

func newFixture(t *testing.T, gateway *fakeGateway, cfg settlement.Config) *fixture {
	mem := store.NewMemory()
	l := ledger.NewLedger(mem)
	pub := &recordingPublisher{}

	require.NoError(t, mem.SaveAccount(context.Background(), ledger.PayrollAccount{
		AccountID:      "rider-1",
		DailyTargetFee: decimal.NewFromInt(820),
		CycleAnchor:    time.Now().UTC(),
		Status:         ledger.StatusActive,
		Phone:          "+256700000001",
	}))

	s := settlement.NewSettler(l, mem, mem, gateway, pub, cfg)
	t.Cleanup(s.Shutdown)

	return &fixture{settler: s, ledger: l, mem: mem, gateway: gateway, publisher: pub}
}

func fastConfig(maxPolls int) settlement.Config {
	return settlement.Config{
		PollInterval:   2 * time.Millisecond,
		MaxPolls:       maxPolls,
		GatewayTimeout: time.Second,
	}
}

func waitTerminal(t *testing.T, f *fixture, correlationID string) settlement.PaymentAttempt {
	t.Helper()
	var attempt settlement.PaymentAttempt
	require.Eventually(t, func() bool {
		a, err := f.settler.AttemptStatus(context.Background(), correlationID)
		if err != nil {
			return false
		}
		attempt = a
		return a.State.IsTerminal()
	}, 2*time.Second, time.Millisecond, "attempt never reached a terminal state")
	return attempt
}

// =============================================================================
// INITIATION VALIDATION
// =============================================================================

func TestInitiatePayment_InvalidPhone_Rejected(t *testing.T) {
	gw := &fakeGateway{correlation: "mm-1", statuses: []settlement.GatewayStatus{settlement.GatewayPending}}
	f := newFixture(t, gw, fastConfig(3))

	_, err := f.settler.InitiatePayment(context.Background(), "rider-1", decimal.NewFromInt(500), "not-a-phone")

	assert.ErrorIs(t, err, ledger.ErrInvalidPhone)
	assert.Equal(t, 0, gw.initiateHits, "gateway must not be called for invalid input")
}

func TestInitiatePayment_NonPositiveAmount_Rejected(t *testing.T) {
	gw := &fakeGateway{correlation: "mm-1", statuses: []settlement.GatewayStatus{settlement.GatewayPending}}
	f := newFixture(t, gw, fastConfig(3))

	_, err := f.settler.InitiatePayment(context.Background(), "rider-1", decimal.Zero, "+256700000001")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestInitiatePayment_RemovedAccount_Rejected(t *testing.T) {
	gw := &fakeGateway{correlation: "mm-1", statuses: []settlement.GatewayStatus{settlement.GatewayPending}}
	f := newFixture(t, gw, fastConfig(3))

	acct, _ := f.mem.GetAccount(context.Background(), "rider-1")
	acct.Status = ledger.StatusRemoved
	require.NoError(t, f.mem.SaveAccount(context.Background(), acct))

	_, err := f.settler.InitiatePayment(context.Background(), "rider-1", decimal.NewFromInt(500), "+256700000001")
	assert.ErrorIs(t, err, ledger.ErrAccountRemoved)
}

func TestInitiatePayment_GatewayError_NothingPersisted(t *testing.T) {
	// GIVEN: The gateway rejects the push request
	// WHEN: Initiating a payment
	// THEN: The error surfaces and no attempt or transaction exists,
	//       so the rider can simply retry

	gw := &fakeGateway{initiateErr: errors.New("provider unreachable")}
	f := newFixture(t, gw, fastConfig(3))

	_, err := f.settler.InitiatePayment(context.Background(), "rider-1", decimal.NewFromInt(500), "+256700000001")
	require.Error(t, err)

	attempts, _ := f.settler.ListAttempts(context.Background(), "rider-1")
	assert.Empty(t, attempts)

	txs, _ := f.ledger.Transactions(context.Background(), "rider-1")
	assert.Empty(t, txs)
}

// =============================================================================
// CONFIRMATION - Scenario: exactly one credit per correlation ID
// =============================================================================

func TestSettler_Confirmation_WritesExactlyOneCredit(t *testing.T) {
	// GIVEN: The gateway reports pending then success
	// WHEN: The poller confirms
	// THEN: Exactly one mobile-money credit lands and one event is published

	gw := &fakeGateway{
		correlation: "mm-1",
		statuses:    []settlement.GatewayStatus{settlement.GatewayPending, settlement.GatewaySuccess},
	}
	f := newFixture(t, gw, fastConfig(10))

	attempt, err := f.settler.InitiatePayment(context.Background(), "rider-1", decimal.NewFromInt(500), "+256700000001")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatePolling, attempt.State)

	final := waitTerminal(t, f, "mm-1")
	assert.Equal(t, settlement.StateConfirmed, final.State)
	require.NotNil(t, final.ResolvedAt)

	txs, err := f.ledger.Transactions(context.Background(), "rider-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, ledger.SourceMobileMoney, txs[0].Source)
	assert.Equal(t, "mm-1", txs[0].CorrelationID)

	settled := f.publisher.settled()
	require.Len(t, settled, 1)
	assert.Equal(t, "mm-1", settled[0].CorrelationID)
}

func TestSettler_DuplicateCallback_Idempotent(t *testing.T) {
	// GIVEN: An attempt already confirmed via webhook
	// WHEN: The provider replays the success callback
	// THEN: The replay is a no-op; still exactly one credit

	gw := &fakeGateway{
		correlation: "mm-1",
		statuses:    []settlement.GatewayStatus{settlement.GatewayPending},
	}
	f := newFixture(t, gw, fastConfig(1000))

	_, err := f.settler.InitiatePayment(context.Background(), "rider-1", decimal.NewFromInt(500), "+256700000001")
	require.NoError(t, err)

	first, err := f.settler.ResolveCallback(context.Background(), "mm-1", true)
	require.NoError(t, err)
	assert.Equal(t, settlement.StateConfirmed, first.State)

	second, err := f.settler.ResolveCallback(context.Background(), "mm-1", true)
	require.NoError(t, err)
	assert.Equal(t, settlement.StateConfirmed, second.State)

	txs, err := f.ledger.Transactions(context.Background(), "rider-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1, "replayed callback must not double-credit")
	assert.Len(t, f.publisher.settled(), 1)
}

// promptHookStore fires a callback right after the PromptSent save, which
// lands in the gap before the background poller is registered.
type promptHookStore struct {
	settlement.AttemptStore
	once sync.Once
	fire func()
}

func (s *promptHookStore) SaveAttempt(ctx context.Context, a settlement.PaymentAttempt) error {
	if err := s.AttemptStore.SaveAttempt(ctx, a); err != nil {
		return err
	}
	if a.State == settlement.StatePromptSent {
		s.once.Do(s.fire)
	}
	return nil
}

func TestSettler_WebhookDuringInitiation_StaysConfirmed(t *testing.T) {
	// GIVEN: A webhook confirming the attempt the instant the prompt is sent
	// WHEN: Initiation finishes setting up its poller
	// THEN: The terminal state is never overwritten and one credit lands

	mem := store.NewMemory()
	l := ledger.NewLedger(mem)
	gw := &fakeGateway{correlation: "mm-1", statuses: []settlement.GatewayStatus{settlement.GatewayPending}}

	var settler *settlement.Settler
	hooked := &promptHookStore{AttemptStore: mem}
	hooked.fire = func() {
		_, err := settler.ResolveCallback(context.Background(), "mm-1", true)
		require.NoError(t, err)
	}

	require.NoError(t, mem.SaveAccount(context.Background(), ledger.PayrollAccount{
		AccountID:      "rider-1",
		DailyTargetFee: decimal.NewFromInt(820),
		CycleAnchor:    time.Now().UTC(),
		Status:         ledger.StatusActive,
	}))
	settler = settlement.NewSettler(l, mem, hooked, gw, nil, fastConfig(100))
	t.Cleanup(settler.Shutdown)

	_, err := settler.InitiatePayment(context.Background(), "rider-1", decimal.NewFromInt(500), "+256700000001")
	require.NoError(t, err)

	attempt, err := settler.AttemptStatus(context.Background(), "mm-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.StateConfirmed, attempt.State)

	// No poller should have started; the state must hold.
	time.Sleep(20 * time.Millisecond)
	attempt, err = settler.AttemptStatus(context.Background(), "mm-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.StateConfirmed, attempt.State)

	txs, err := l.Transactions(context.Background(), "rider-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestSettler_FailedCallback_NoCredit(t *testing.T) {
	gw := &fakeGateway{
		correlation: "mm-1",
		statuses:    []settlement.GatewayStatus{settlement.GatewayPending},
	}
	f := newFixture(t, gw, fastConfig(1000))

	_, err := f.settler.InitiatePayment(context.Background(), "rider-1", decimal.NewFromInt(500), "+256700000001")
	require.NoError(t, err)

	attempt, err := f.settler.ResolveCallback(context.Background(), "mm-1", false)
	require.NoError(t, err)
	assert.Equal(t, settlement.StateFailed, attempt.State)

	txs, _ := f.ledger.Transactions(context.Background(), "rider-1")
	assert.Empty(t, txs, "failed attempts never write to the ledger")
}

func TestSettler_GatewayFailed_NoCredit(t *testing.T) {
	gw := &fakeGateway{
		correlation: "mm-1",
		statuses:    []settlement.GatewayStatus{settlement.GatewayFailed},
	}
	f := newFixture(t, gw, fastConfig(10))

	_, err := f.settler.InitiatePayment(context.Background(), "rider-1", decimal.NewFromInt(500), "+256700000001")
	require.NoError(t, err)

	final := waitTerminal(t, f, "mm-1")
	assert.Equal(t, settlement.StateFailed, final.State)
	assert.NotEmpty(t, final.FailReason)

	txs, _ := f.ledger.Transactions(context.Background(), "rider-1")
	assert.Empty(t, txs)
}

// =============================================================================
// TIMEOUT - Poll budget exhausted
// =============================================================================

func TestSettler_Timeout_AfterPollBudget(t *testing.T) {
	// GIVEN: The gateway never leaves pending
	// WHEN: The poll budget runs out
	// THEN: The attempt times out after exactly MaxPolls polls,
	//       no transaction is written, and the attempt stays queryable

	gw := &fakeGateway{
		correlation: "mm-1",
		statuses:    []settlement.GatewayStatus{settlement.GatewayPending},
	}
	f := newFixture(t, gw, fastConfig(12))

	_, err := f.settler.InitiatePayment(context.Background(), "rider-1", decimal.NewFromInt(500), "+256700000001")
	require.NoError(t, err)

	final := waitTerminal(t, f, "mm-1")
	assert.Equal(t, settlement.StateTimedOut, final.State)
	assert.Equal(t, 12, gw.polls())

	txs, _ := f.ledger.Transactions(context.Background(), "rider-1")
	assert.Empty(t, txs)

	// Retained for audit after resolution.
	attempts, err := f.settler.ListAttempts(context.Background(), "rider-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, settlement.StateTimedOut, attempts[0].State)
}

// =============================================================================
// CANCELLATION - Rider abandons the flow
// =============================================================================

func TestSettler_Cancel_StopsPolling(t *testing.T) {
	// GIVEN: An attempt stuck on pending
	// WHEN: The rider cancels mid-poll
	// THEN: The attempt is Cancelled, polling stops, and no credit exists

	gw := &fakeGateway{
		correlation: "mm-1",
		statuses:    []settlement.GatewayStatus{settlement.GatewayPending},
	}
	f := newFixture(t, gw, fastConfig(10000))

	_, err := f.settler.InitiatePayment(context.Background(), "rider-1", decimal.NewFromInt(500), "+256700000001")
	require.NoError(t, err)

	attempt, err := f.settler.Cancel(context.Background(), "mm-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.StateCancelled, attempt.State)

	pollsAtCancel := gw.polls()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, gw.polls(), pollsAtCancel+1, "poller kept running after cancel")

	txs, _ := f.ledger.Transactions(context.Background(), "rider-1")
	assert.Empty(t, txs)
}

func TestSettler_Cancel_AfterResolution_Rejected(t *testing.T) {
	gw := &fakeGateway{
		correlation: "mm-1",
		statuses:    []settlement.GatewayStatus{settlement.GatewaySuccess},
	}
	f := newFixture(t, gw, fastConfig(10))

	_, err := f.settler.InitiatePayment(context.Background(), "rider-1", decimal.NewFromInt(500), "+256700000001")
	require.NoError(t, err)

	waitTerminal(t, f, "mm-1")

	_, err = f.settler.Cancel(context.Background(), "mm-1")
	assert.ErrorIs(t, err, settlement.ErrAttemptResolved)
}

func TestSettler_Cancel_UnknownAttempt(t *testing.T) {
	gw := &fakeGateway{correlation: "mm-1", statuses: []settlement.GatewayStatus{settlement.GatewayPending}}
	f := newFixture(t, gw, fastConfig(3))

	_, err := f.settler.Cancel(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, settlement.ErrAttemptNotFound)
}

// =============================================================================
// PHONE VALIDATION
// =============================================================================

func TestValidatePhoneReference(t *testing.T) {
	valid := []string{"+256700000001", "256700000001", "070000000", "+123456789012345"}
	for _, p := range valid {
		assert.NoError(t, settlement.ValidatePhoneReference(p), "phone %q", p)
	}

	invalid := []string{"", "12345678", "+1234567890123456", "07-000-000", "phone", "+2567000 0001"}
	for _, p := range invalid {
		assert.ErrorIs(t, settlement.ValidatePhoneReference(p), ledger.ErrInvalidPhone, "phone %q", p)
	}
}
