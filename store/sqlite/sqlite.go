/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

INTERFACES IMPLEMENTED:
  ledger.Store:            Append-only transaction persistence
  ledger.AccountStore:     PayrollAccount records
  settlement.AttemptStore: PaymentAttempt records keyed by correlation ID

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements touch the transactions table
  - Corrections happen via reversal rows only
  - A unique index on correlation_id backs the idempotency guard

STORAGE-SIDE AGGREGATION:
  SumCredits reads only (amount, source) pairs over the indexed
  (account_id, timestamp) range. Amounts are stored as TEXT for decimal
  exactness, so the netting itself happens in Go.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  one writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/payroll.db")  // ":memory:" for tests
  defer store.Close()
  lgr := ledger.NewLedger(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/postgres:  PostgreSQL implementation of the same interfaces
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/bodaworks/payroll-engine/ledger"
	"github.com/bodaworks/payroll-engine/settlement"
)

// timeLayout is fixed-width so TEXT comparison agrees with time ordering.
// RFC3339Nano trims trailing fractional zeros and does not sort correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty
	// database, so pin the pool to a single connection there.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		description TEXT,
		source TEXT NOT NULL,
		correlation_id TEXT,
		reverses_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account_ts
		ON transactions(account_id, timestamp);

	-- CRITICAL: at most one transaction per correlation id. This is the
	-- idempotency guard for duplicate mobile-money confirmations.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_correlation
		ON transactions(correlation_id) WHERE correlation_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_transactions_reverses
		ON transactions(account_id, reverses_id) WHERE reverses_id IS NOT NULL;

	-- Payroll accounts
	CREATE TABLE IF NOT EXISTS accounts (
		account_id TEXT PRIMARY KEY,
		daily_target_fee TEXT NOT NULL,
		cycle_anchor TEXT NOT NULL,
		status TEXT NOT NULL,
		phone TEXT,
		enrolled_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status);

	-- Payment attempts, keyed by correlation id, retained forever
	CREATE TABLE IF NOT EXISTS payment_attempts (
		correlation_id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount_requested TEXT NOT NULL,
		phone_reference TEXT NOT NULL,
		state TEXT NOT NULL,
		fail_reason TEXT,
		created_at TEXT NOT NULL,
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_account ON payment_attempts(account_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (ledger.Store) - Append-only
// =============================================================================

func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	var correlation any
	if tx.CorrelationID != "" {
		correlation = tx.CorrelationID
	}
	var reverses any
	if tx.ReversesID != "" {
		reverses = string(tx.ReversesID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, amount, timestamp, description, source, correlation_id, reverses_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.ID), string(tx.AccountID), tx.Amount.String(),
		tx.Timestamp.UTC().Format(timeLayout), tx.Description, string(tx.Source),
		correlation, reverses, tx.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		if isCorrelationViolation(err) && tx.CorrelationID != "" {
			return ledger.ErrDuplicateCorrelation
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// isCorrelationViolation matches only the unique index on correlation_id.
// Other constraint failures (e.g. a primary-key collision on id) must
// surface as real errors, not as a replayed confirmation.
func isCorrelationViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(sqliteErr.Error(), "correlation_id")
}

func (s *Store) Load(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT id, account_id, amount, timestamp, description, source, correlation_id, reverses_id, created_at
		FROM transactions WHERE account_id = ? ORDER BY timestamp, created_at`,
		string(accountID))
}

func (s *Store) LoadRange(ctx context.Context, accountID ledger.AccountID, from, to time.Time) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT id, account_id, amount, timestamp, description, source, correlation_id, reverses_id, created_at
		FROM transactions
		WHERE account_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp, created_at`,
		string(accountID), from.UTC().Format(timeLayout), to.UTC().Format(timeLayout))
}

// SumCredits nets credits against credit-reversals storage-side. Debits do
// not participate, so the result is independent of debit entries.
func (s *Store) SumCredits(ctx context.Context, accountID ledger.AccountID, from, to time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT amount, source FROM transactions
		WHERE account_id = ? AND timestamp >= ? AND timestamp < ?`,
		string(accountID), from.UTC().Format(timeLayout), to.UTC().Format(timeLayout))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum credits: %w", err)
	}
	defer rows.Close()

	// decimal amounts are stored as TEXT for exactness, so the netting is
	// done here rather than in SQL; the indexed range keeps it bounded.
	sum := decimal.Zero
	for rows.Next() {
		var amountStr, source string
		if err := rows.Scan(&amountStr, &source); err != nil {
			return decimal.Zero, err
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("sum credits: bad amount %q: %w", amountStr, err)
		}
		src := ledger.Source(source)
		if amount.IsPositive() && src != ledger.SourceReversal {
			sum = sum.Add(amount)
		} else if src == ledger.SourceReversal && amount.IsNegative() {
			sum = sum.Add(amount)
		}
	}
	return sum, rows.Err()
}

func (s *Store) CorrelationExists(ctx context.Context, correlationID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM transactions WHERE correlation_id = ?`, correlationID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) FindReversal(ctx context.Context, accountID ledger.AccountID, txID ledger.TransactionID) (*ledger.Transaction, error) {
	txs, err := s.queryTransactions(ctx, `
		SELECT id, account_id, amount, timestamp, description, source, correlation_id, reverses_id, created_at
		FROM transactions WHERE account_id = ? AND reverses_id = ? LIMIT 1`,
		string(accountID), string(txID))
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var result []ledger.Transaction
	for rows.Next() {
		var (
			tx                     ledger.Transaction
			id, acctID, amountStr  string
			tsStr, createdStr, src string
			description            sql.NullString
			correlation, reverses  sql.NullString
		)
		if err := rows.Scan(&id, &acctID, &amountStr, &tsStr, &description, &src, &correlation, &reverses, &createdStr); err != nil {
			return nil, err
		}
		tx.ID = ledger.TransactionID(id)
		tx.AccountID = ledger.AccountID(acctID)
		if tx.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", amountStr, err)
		}
		if tx.Timestamp, err = time.Parse(timeLayout, tsStr); err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", tsStr, err)
		}
		if tx.CreatedAt, err = time.Parse(timeLayout, createdStr); err != nil {
			return nil, fmt.Errorf("bad created_at %q: %w", createdStr, err)
		}
		tx.Description = description.String
		tx.Source = ledger.Source(src)
		tx.CorrelationID = correlation.String
		tx.ReversesID = ledger.TransactionID(reverses.String)
		result = append(result, tx)
	}
	return result, rows.Err()
}

// =============================================================================
// ACCOUNTS (ledger.AccountStore)
// =============================================================================

func (s *Store) SaveAccount(ctx context.Context, acct ledger.PayrollAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (account_id, daily_target_fee, cycle_anchor, status, phone, enrolled_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			daily_target_fee = excluded.daily_target_fee,
			cycle_anchor = excluded.cycle_anchor,
			status = excluded.status,
			phone = excluded.phone,
			enrolled_at = excluded.enrolled_at`,
		string(acct.AccountID), acct.DailyTargetFee.String(),
		acct.CycleAnchor.UTC().Format(timeLayout), string(acct.Status),
		acct.Phone, acct.EnrolledAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.PayrollAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account_id, daily_target_fee, cycle_anchor, status, phone, enrolled_at
		FROM accounts WHERE account_id = ?`, string(id))

	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.PayrollAccount{}, ledger.ErrAccountNotFound
	}
	return acct, err
}

func (s *Store) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.PayrollAccount, error) {
	query := `SELECT account_id, daily_target_fee, cycle_anchor, status, phone, enrolled_at FROM accounts`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY account_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var result []ledger.PayrollAccount
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (ledger.PayrollAccount, error) {
	var (
		acct                     ledger.PayrollAccount
		id, feeStr, anchorStr    string
		status, enrolledStr      string
		phone                    sql.NullString
	)
	if err := row.Scan(&id, &feeStr, &anchorStr, &status, &phone, &enrolledStr); err != nil {
		return ledger.PayrollAccount{}, err
	}

	var err error
	acct.AccountID = ledger.AccountID(id)
	if acct.DailyTargetFee, err = decimal.NewFromString(feeStr); err != nil {
		return ledger.PayrollAccount{}, fmt.Errorf("bad fee %q: %w", feeStr, err)
	}
	if acct.CycleAnchor, err = time.Parse(timeLayout, anchorStr); err != nil {
		return ledger.PayrollAccount{}, fmt.Errorf("bad anchor %q: %w", anchorStr, err)
	}
	if acct.EnrolledAt, err = time.Parse(timeLayout, enrolledStr); err != nil {
		return ledger.PayrollAccount{}, fmt.Errorf("bad enrolled_at %q: %w", enrolledStr, err)
	}
	acct.Status = ledger.AccountStatus(status)
	acct.Phone = phone.String
	return acct, nil
}

// =============================================================================
// PAYMENT ATTEMPTS (settlement.AttemptStore)
// =============================================================================

func (s *Store) SaveAttempt(ctx context.Context, a settlement.PaymentAttempt) error {
	var resolved any
	if a.ResolvedAt != nil {
		resolved = a.ResolvedAt.UTC().Format(timeLayout)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (correlation_id, account_id, amount_requested, phone_reference, state, fail_reason, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(correlation_id) DO UPDATE SET
			state = excluded.state,
			fail_reason = excluded.fail_reason,
			resolved_at = excluded.resolved_at`,
		a.CorrelationID, string(a.AccountID), a.AmountRequested.String(),
		a.PhoneReference, string(a.State), a.FailReason,
		a.CreatedAt.UTC().Format(timeLayout), resolved)
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, correlationID string) (settlement.PaymentAttempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT correlation_id, account_id, amount_requested, phone_reference, state, fail_reason, created_at, resolved_at
		FROM payment_attempts WHERE correlation_id = ?`, correlationID)

	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.PaymentAttempt{}, settlement.ErrAttemptNotFound
	}
	return a, err
}

func (s *Store) ListAttempts(ctx context.Context, accountID ledger.AccountID) ([]settlement.PaymentAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT correlation_id, account_id, amount_requested, phone_reference, state, fail_reason, created_at, resolved_at
		FROM payment_attempts WHERE account_id = ? ORDER BY created_at`, string(accountID))
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var result []settlement.PaymentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func scanAttempt(row rowScanner) (settlement.PaymentAttempt, error) {
	var (
		a                        settlement.PaymentAttempt
		acctID, amountStr, state string
		failReason               sql.NullString
		createdStr               string
		resolvedStr              sql.NullString
	)
	if err := row.Scan(&a.CorrelationID, &acctID, &amountStr, &a.PhoneReference, &state, &failReason, &createdStr, &resolvedStr); err != nil {
		return settlement.PaymentAttempt{}, err
	}

	var err error
	a.AccountID = ledger.AccountID(acctID)
	if a.AmountRequested, err = decimal.NewFromString(amountStr); err != nil {
		return settlement.PaymentAttempt{}, fmt.Errorf("bad amount %q: %w", amountStr, err)
	}
	if a.CreatedAt, err = time.Parse(timeLayout, createdStr); err != nil {
		return settlement.PaymentAttempt{}, fmt.Errorf("bad created_at %q: %w", createdStr, err)
	}
	if resolvedStr.Valid {
		t, err := time.Parse(timeLayout, resolvedStr.String)
		if err != nil {
			return settlement.PaymentAttempt{}, fmt.Errorf("bad resolved_at %q: %w", resolvedStr.String, err)
		}
		a.ResolvedAt = &t
	}
	a.State = settlement.State(state)
	a.FailReason = failReason.String
	return a, nil
}
