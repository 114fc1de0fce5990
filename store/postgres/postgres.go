/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces using a pgx connection pool.

Same contracts as store/sqlite; the unique index on correlation_id is the
database-level idempotency guard, and SumCredits runs the netting SUM in
SQL over the (account_id, ts) index.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bodaworks/payroll-engine/ledger"
	"github.com/bodaworks/payroll-engine/settlement"
)

// Store implements the storage interfaces using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema exists.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		description TEXT,
		source TEXT NOT NULL,
		correlation_id TEXT,
		reverses_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions(account_id, ts);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_correlation
		ON transactions(correlation_id) WHERE correlation_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_reverses
		ON transactions(account_id, reverses_id) WHERE reverses_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS accounts (
		account_id TEXT PRIMARY KEY,
		daily_target_fee NUMERIC NOT NULL,
		cycle_anchor TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		phone TEXT,
		enrolled_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status);

	CREATE TABLE IF NOT EXISTS payment_attempts (
		correlation_id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount_requested NUMERIC NOT NULL,
		phone_reference TEXT NOT NULL,
		state TEXT NOT NULL,
		fail_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_account ON payment_attempts(account_id, created_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONS (ledger.Store) - Append-only
// =============================================================================

func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	var correlation *string
	if tx.CorrelationID != "" {
		correlation = &tx.CorrelationID
	}
	var reverses *string
	if tx.ReversesID != "" {
		r := string(tx.ReversesID)
		reverses = &r
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (id, account_id, amount, ts, description, source, correlation_id, reverses_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(tx.ID), string(tx.AccountID), tx.Amount, tx.Timestamp.UTC(),
		tx.Description, string(tx.Source), correlation, reverses, tx.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && tx.CorrelationID != "" {
			return ledger.ErrDuplicateCorrelation
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT id, account_id, amount, ts, description, source, correlation_id, reverses_id, created_at
		FROM transactions WHERE account_id = $1 ORDER BY ts, created_at`,
		string(accountID))
}

func (s *Store) LoadRange(ctx context.Context, accountID ledger.AccountID, from, to time.Time) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT id, account_id, amount, ts, description, source, correlation_id, reverses_id, created_at
		FROM transactions WHERE account_id = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts, created_at`,
		string(accountID), from.UTC(), to.UTC())
}

func (s *Store) SumCredits(ctx context.Context, accountID ledger.AccountID, from, to time.Time) (decimal.Decimal, error) {
	var sumStr string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(
			CASE
				WHEN amount > 0 AND source <> 'reversal' THEN amount
				WHEN source = 'reversal' AND amount < 0 THEN amount
				ELSE 0
			END), 0)::TEXT
		FROM transactions
		WHERE account_id = $1 AND ts >= $2 AND ts < $3`,
		string(accountID), from.UTC(), to.UTC()).Scan(&sumStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum credits: %w", err)
	}
	return decimal.NewFromString(sumStr)
}

func (s *Store) CorrelationExists(ctx context.Context, correlationID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE correlation_id = $1)`, correlationID).Scan(&exists)
	return exists, err
}

func (s *Store) FindReversal(ctx context.Context, accountID ledger.AccountID, txID ledger.TransactionID) (*ledger.Transaction, error) {
	txs, err := s.queryTransactions(ctx, `
		SELECT id, account_id, amount, ts, description, source, correlation_id, reverses_id, created_at
		FROM transactions WHERE account_id = $1 AND reverses_id = $2 LIMIT 1`,
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
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var result []ledger.Transaction
	for rows.Next() {
		var (
			tx                    ledger.Transaction
			id, acctID, src       string
			description           *string
			correlation, reverses *string
		)
		if err := rows.Scan(&id, &acctID, &tx.Amount, &tx.Timestamp, &description, &src, &correlation, &reverses, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.ID = ledger.TransactionID(id)
		tx.AccountID = ledger.AccountID(acctID)
		tx.Source = ledger.Source(src)
		if description != nil {
			tx.Description = *description
		}
		if correlation != nil {
			tx.CorrelationID = *correlation
		}
		if reverses != nil {
			tx.ReversesID = ledger.TransactionID(*reverses)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// =============================================================================
// ACCOUNTS (ledger.AccountStore)
// =============================================================================

func (s *Store) SaveAccount(ctx context.Context, acct ledger.PayrollAccount) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (account_id, daily_target_fee, cycle_anchor, status, phone, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			daily_target_fee = EXCLUDED.daily_target_fee,
			cycle_anchor = EXCLUDED.cycle_anchor,
			status = EXCLUDED.status,
			phone = EXCLUDED.phone,
			enrolled_at = EXCLUDED.enrolled_at`,
		string(acct.AccountID), acct.DailyTargetFee, acct.CycleAnchor.UTC(),
		string(acct.Status), acct.Phone, acct.EnrolledAt.UTC())
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.PayrollAccount, error) {
	acct, err := scanAccount(s.pool.QueryRow(ctx, `
		SELECT account_id, daily_target_fee, cycle_anchor, status, phone, enrolled_at
		FROM accounts WHERE account_id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.PayrollAccount{}, ledger.ErrAccountNotFound
	}
	return acct, err
}

func (s *Store) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.PayrollAccount, error) {
	query := `SELECT account_id, daily_target_fee, cycle_anchor, status, phone, enrolled_at FROM accounts`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY account_id`

	rows, err := s.pool.Query(ctx, query, args...)
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

func scanAccount(row pgx.Row) (ledger.PayrollAccount, error) {
	var (
		acct       ledger.PayrollAccount
		id, status string
		phone      *string
	)
	if err := row.Scan(&id, &acct.DailyTargetFee, &acct.CycleAnchor, &status, &phone, &acct.EnrolledAt); err != nil {
		return ledger.PayrollAccount{}, err
	}
	acct.AccountID = ledger.AccountID(id)
	acct.Status = ledger.AccountStatus(status)
	if phone != nil {
		acct.Phone = *phone
	}
	return acct, nil
}

// =============================================================================
// PAYMENT ATTEMPTS (settlement.AttemptStore)
// =============================================================================

func (s *Store) SaveAttempt(ctx context.Context, a settlement.PaymentAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payment_attempts (correlation_id, account_id, amount_requested, phone_reference, state, fail_reason, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (correlation_id) DO UPDATE SET
			state = EXCLUDED.state,
			fail_reason = EXCLUDED.fail_reason,
			resolved_at = EXCLUDED.resolved_at`,
		a.CorrelationID, string(a.AccountID), a.AmountRequested, a.PhoneReference,
		string(a.State), a.FailReason, a.CreatedAt.UTC(), a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, correlationID string) (settlement.PaymentAttempt, error) {
	a, err := scanAttempt(s.pool.QueryRow(ctx, `
		SELECT correlation_id, account_id, amount_requested, phone_reference, state, fail_reason, created_at, resolved_at
		FROM payment_attempts WHERE correlation_id = $1`, correlationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return settlement.PaymentAttempt{}, settlement.ErrAttemptNotFound
	}
	return a, err
}

func (s *Store) ListAttempts(ctx context.Context, accountID ledger.AccountID) ([]settlement.PaymentAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT correlation_id, account_id, amount_requested, phone_reference, state, fail_reason, created_at, resolved_at
		FROM payment_attempts WHERE account_id = $1 ORDER BY created_at`, string(accountID))
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

func scanAttempt(row pgx.Row) (settlement.PaymentAttempt, error) {
	var (
		a             settlement.PaymentAttempt
		acctID, state string
		failReason    *string
	)
	if err := row.Scan(&a.CorrelationID, &acctID, &a.AmountRequested, &a.PhoneReference, &state, &failReason, &a.CreatedAt, &a.ResolvedAt); err != nil {
		return settlement.PaymentAttempt{}, err
	}
	a.AccountID = ledger.AccountID(acctID)
	a.State = settlement.State(state)
	if failReason != nil {
		a.FailReason = *failReason
	}
	return a, nil
}
