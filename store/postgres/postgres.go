// Package postgres provides a PostgreSQL-backed Store for quotacore.
//
// Account balance and the append-only ledger are written in one transaction
// per settle, so the ledger replay invariant holds even across crashes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/briefcast/quotacore"
)

// Store is a PostgreSQL-backed quotacore.Store.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ quotacore.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "quotacore_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed Store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "quotacore_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accountsTable() string { return s.tablePrefix + "accounts" }
func (s *Store) ledgerTable() string   { return s.tablePrefix + "ledger" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			account_id TEXT PRIMARY KEY,
			tier TEXT NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0)
		);
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			account_id TEXT NOT NULL,
			delta BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			kind TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %s_account_idx ON %s (account_id, id DESC);
	`, s.accountsTable(), s.ledgerTable(), s.ledgerTable(), s.ledgerTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("quotacore/postgres: ensure schema: %w", err)
	}
	return nil
}

// PutAccount creates or replaces an account record (upsert).
func (s *Store) PutAccount(ctx context.Context, acct quotacore.Account) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (account_id, tier, balance) VALUES ($1, $2, $3)
			ON CONFLICT (account_id) DO UPDATE SET tier = $2, balance = $3`,
			s.accountsTable()),
		acct.ID, string(acct.Tier), acct.Balance,
	)
	if err != nil {
		return fmt.Errorf("quotacore/postgres: put account: %w", err)
	}
	return nil
}

// Account resolves an account by id.
func (s *Store) Account(ctx context.Context, accountID string) (quotacore.Account, error) {
	var tier string
	var balance int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT tier, balance FROM %s WHERE account_id = $1`, s.accountsTable()),
		accountID,
	).Scan(&tier, &balance)

	if errors.Is(err, pgx.ErrNoRows) {
		return quotacore.Account{}, quotacore.ErrUserNotFound
	}
	if err != nil {
		return quotacore.Account{}, fmt.Errorf("quotacore/postgres: account: %w", err)
	}
	return quotacore.Account{ID: accountID, Tier: quotacore.PlanTier(tier), Balance: balance}, nil
}

// Settle writes the new balance and appends the ledger entry in one
// transaction.
func (s *Store) Settle(ctx context.Context, accountID string, newBalance int64, entry quotacore.LedgerEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("quotacore/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET balance = $1 WHERE account_id = $2`, s.accountsTable()),
		newBalance, accountID,
	)
	if err != nil {
		return fmt.Errorf("quotacore/postgres: settle balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return quotacore.ErrUserNotFound
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (account_id, delta, balance_after, kind, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`, s.ledgerTable()),
		entry.AccountID, entry.Delta, entry.BalanceAfter, string(entry.Kind), entry.Description, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("quotacore/postgres: settle ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("quotacore/postgres: commit: %w", err)
	}
	return nil
}

// LastRenewal returns the creation time of the most recent renewal-class
// entry (monthly_reset or purchase).
func (s *Store) LastRenewal(ctx context.Context, accountID string) (time.Time, bool, error) {
	var createdAt time.Time
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT created_at FROM %s
			WHERE account_id = $1 AND kind IN ('monthly_reset', 'purchase')
			ORDER BY id DESC LIMIT 1`, s.ledgerTable()),
		accountID,
	).Scan(&createdAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("quotacore/postgres: last renewal: %w", err)
	}
	return createdAt, true, nil
}

// Entries returns the account's ledger in append order. Intended for
// integration tests and back-office tooling.
func (s *Store) Entries(ctx context.Context, accountID string) ([]quotacore.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT account_id, delta, balance_after, kind, description, created_at
			FROM %s WHERE account_id = $1 ORDER BY id`, s.ledgerTable()),
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("quotacore/postgres: entries: %w", err)
	}
	defer rows.Close()

	var out []quotacore.LedgerEntry
	for rows.Next() {
		var e quotacore.LedgerEntry
		var kind string
		if err := rows.Scan(&e.AccountID, &e.Delta, &e.BalanceAfter, &kind, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("quotacore/postgres: scan entry: %w", err)
		}
		e.Kind = quotacore.LedgerKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
