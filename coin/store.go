/*
store.go - Persistence interface for accounts and redemption requests

PURPOSE:
  Defines the interface between the ledger logic and the database.
  Implementations decide the storage technology; the ledger only needs
  upserts, reads, and atomic multi-statement transactions.

KEY INTERFACES:
  Store:   Account upsert/read/write, redemption insert/read/update
  TxStore: Store plus WithTx for atomic read-modify-write

ATOMICITY:
  Every ledger mutation runs inside WithTx. The counters update and the
  redemption insert of an Exchange either both commit or both roll back.
  A returned error from fn always rolls back.

LOCKING:
  Implementations must make EnsureAccount lock the returned row for the
  rest of the transaction when the database supports it (Postgres uses
  SELECT ... FOR UPDATE, SQLite takes the write lock at BEGIN IMMEDIATE).
  In-process callers additionally serialize per account, see locks.go.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via database/sql (default)
  - store/postgres/postgres.go: Postgres via pgx
  - coin/store/memory.go: In-memory for testing

SEE ALSO:
  - accounts.go: Mutate() is the only writer of Account rows
*/
package coin

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of accounts and redemption requests.
// Rows are never deleted.
type Store interface {
	// EnsureAccount returns the account for userID, inserting a zeroed row
	// with LastReset = today if none exists. Concurrent callers for the
	// same new user observe exactly one row.
	EnsureAccount(ctx context.Context, userID string, today time.Time) (Account, error)

	// SaveAccount overwrites the counters of an existing account.
	SaveAccount(ctx context.Context, acct Account) error

	// ResetAccounts zeroes every account's counters and sets LastReset.
	// Returns the number of accounts touched.
	ResetAccounts(ctx context.Context, today time.Time) (int, error)

	// InsertRedemption stores r and returns its newly assigned id.
	// r.ID is ignored.
	InsertRedemption(ctx context.Context, r RedemptionRequest) (RedemptionID, error)

	// GetRedemption returns nil, nil when id does not exist.
	GetRedemption(ctx context.Context, id RedemptionID) (*RedemptionRequest, error)

	// SetRedemptionStatus updates a single request's status. Transition
	// rules are enforced by the caller.
	SetRedemptionStatus(ctx context.Context, id RedemptionID, status RedemptionStatus) error

	// ExpirePending moves every pending request with RequestedAt < cutoff
	// to expired and returns how many changed.
	ExpirePending(ctx context.Context, cutoff time.Time) (int, error)

	// ListRedemptions returns matching requests ordered by id.
	ListRedemptions(ctx context.Context, filter RedemptionFilter) ([]RedemptionRequest, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
