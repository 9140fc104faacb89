package quotacore

import (
	"context"
	"time"
)

// Store is the persistence boundary the core depends on: the account record
// and the append-only ledger, reachable through one session abstraction.
// The core never reads or writes any other persisted structure.
//
// Implementations: store.MemoryStore for tests and single-node deployments,
// store/postgres for a durable multi-instance backend.
type Store interface {
	// Account resolves an account by id. Returns ErrUserNotFound if the id
	// does not resolve.
	Account(ctx context.Context, accountID string) (Account, error)

	// Settle atomically writes the account's new balance and appends the
	// ledger entry. Either both take effect or neither does; a failed Settle
	// must leave the ledger replay invariant intact.
	Settle(ctx context.Context, accountID string, newBalance int64, entry LedgerEntry) error

	// LastRenewal returns the creation time of the account's most recent
	// renewal-class ledger entry (monthly_reset or purchase). ok is false if
	// the account has none.
	LastRenewal(ctx context.Context, accountID string) (t time.Time, ok bool, err error)
}
