// Package store provides an in-memory implementation of the persistence
// interfaces, used by tests and local development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bodaworks/payroll-engine/ledger"
	"github.com/bodaworks/payroll-engine/settlement"
)

// =============================================================================
// MEMORY STORE - Accounts, transactions and payment attempts
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[ledger.AccountID][]ledger.Transaction
	correlations map[string]ledger.TransactionID
	accounts     map[ledger.AccountID]ledger.PayrollAccount
	attempts     map[string]settlement.PaymentAttempt
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[ledger.AccountID][]ledger.Transaction),
		correlations: make(map[string]ledger.TransactionID),
		accounts:     make(map[ledger.AccountID]ledger.PayrollAccount),
		attempts:     make(map[string]settlement.PaymentAttempt),
	}
}

// =============================================================================
// TRANSACTIONS (ledger.Store) - Append-only
// =============================================================================

func (m *Memory) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.CorrelationID != "" {
		if existing, ok := m.correlations[tx.CorrelationID]; ok {
			return &ledger.DuplicateCorrelationError{
				CorrelationID: tx.CorrelationID,
				ExistingTxID:  existing,
			}
		}
	}

	txs := m.transactions[tx.AccountID]

	// Insert keeping chronological order.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].Timestamp.After(tx.Timestamp)
	})
	txs = append(txs, ledger.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.AccountID] = txs

	if tx.CorrelationID != "" {
		m.correlations[tx.CorrelationID] = tx.ID
	}
	return nil
}

func (m *Memory) Load(_ context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Transaction, len(m.transactions[accountID]))
	copy(result, m.transactions[accountID])
	return result, nil
}

func (m *Memory) LoadRange(_ context.Context, accountID ledger.AccountID, from, to time.Time) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range m.transactions[accountID] {
		if !tx.Timestamp.Before(from) && tx.Timestamp.Before(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) SumCredits(_ context.Context, accountID ledger.AccountID, from, to time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := decimal.Zero
	for _, tx := range m.transactions[accountID] {
		if tx.Timestamp.Before(from) || !tx.Timestamp.Before(to) {
			continue
		}
		if tx.IsCredit() {
			sum = sum.Add(tx.Amount)
		} else if tx.Source == ledger.SourceReversal && tx.Amount.IsNegative() {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum, nil
}

func (m *Memory) CorrelationExists(_ context.Context, correlationID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.correlations[correlationID]
	return ok, nil
}

func (m *Memory) FindReversal(_ context.Context, accountID ledger.AccountID, txID ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, tx := range m.transactions[accountID] {
		if tx.Source == ledger.SourceReversal && tx.ReversesID == txID {
			found := tx
			return &found, nil
		}
	}
	return nil, nil
}

// =============================================================================
// ACCOUNTS (ledger.AccountStore)
// =============================================================================

func (m *Memory) SaveAccount(_ context.Context, acct ledger.PayrollAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.AccountID] = acct
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (ledger.PayrollAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return ledger.PayrollAccount{}, ledger.ErrAccountNotFound
	}
	return acct, nil
}

func (m *Memory) ListAccounts(_ context.Context, filter ledger.AccountFilter) ([]ledger.PayrollAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.PayrollAccount
	for _, acct := range m.accounts {
		if filter.Status != "" && acct.Status != filter.Status {
			continue
		}
		result = append(result, acct)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AccountID < result[j].AccountID })
	return result, nil
}

// =============================================================================
// PAYMENT ATTEMPTS (settlement.AttemptStore)
// =============================================================================

func (m *Memory) SaveAttempt(_ context.Context, a settlement.PaymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.CorrelationID] = a
	return nil
}

func (m *Memory) GetAttempt(_ context.Context, correlationID string) (settlement.PaymentAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attempts[correlationID]
	if !ok {
		return settlement.PaymentAttempt{}, settlement.ErrAttemptNotFound
	}
	return a, nil
}

func (m *Memory) ListAttempts(_ context.Context, accountID ledger.AccountID) ([]settlement.PaymentAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []settlement.PaymentAttempt
	for _, a := range m.attempts {
		if a.AccountID == accountID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}
