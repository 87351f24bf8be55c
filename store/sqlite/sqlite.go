/*
Package sqlite provides a SQLite-backed implementation of coin.TxStore.

PURPOSE:
  Default persistence for the coin ledger. The table layout matches the
  legacy service's database.db, so an existing file is picked up as is.

KEY TABLES:
  users:               One row per user_id, monthly counters + last_reset
  pending_redemptions: All redemption requests, autoincrement id, any status

INDEXES:
  - idx_pending_redemptions_status_requested: Pending listing + expiry sweep
  - idx_pending_redemptions_user: Per-user lookups

CONCURRENCY:
  The pool is limited to one connection and transactions start with
  BEGIN IMMEDIATE (_txlock=immediate), so a write transaction holds the
  database write lock from its first statement. Other processes sharing
  the file wait on busy_timeout instead of failing with SQLITE_BUSY.

TIMESTAMPS:
  requested_at is stored as "2006-01-02 15:04:05" UTC text. The format
  sorts lexically, so the expiry sweep compares strings.
  usd_value is stored as decimal text. Legacy REAL values scan fine.

MIGRATION:
  Schema is migrated on New() with golang-migrate from the embedded
  migrations/ directory.

USAGE:
  store, err := sqlite.New("./database.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger, err := coin.NewLedger(store, coin.DefaultConfig())

SEE ALSO:
  - coin/store.go: Interface definitions
  - store/postgres: Postgres implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlite3migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/flipfactory/coin-ledger/coin"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements coin.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

var _ coin.TxStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps ":memory:" databases alive and matches SQLite's single writer
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened and migrated handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{queries: queries{q: db}, db: db}
}

// Migrate applies every pending migration in migrations/.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite3migrate.WithInstance(db, &sqlite3migrate.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}
	// m.Close() would close db as well, so only the source is released.
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (coin.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(coin.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES - shared by the pool and by transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

// EnsureAccount upserts a zeroed row and reads it back.
func (qs *queries) EnsureAccount(ctx context.Context, userID string, today time.Time) (coin.Account, error) {
	_, err := qs.q.ExecContext(ctx, `
		INSERT INTO users (user_id, monthly_coin_earned, monthly_coin_redeemed, last_reset)
		VALUES (?, 0, 0, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, coin.Today(today).Format(coin.DateLayout))
	if err != nil {
		return coin.Account{}, fmt.Errorf("failed to upsert account: %w", err)
	}

	var (
		acct      coin.Account
		lastReset sql.NullString
	)
	err = qs.q.QueryRowContext(ctx,
		"SELECT user_id, monthly_coin_earned, monthly_coin_redeemed, last_reset FROM users WHERE user_id = ?",
		userID,
	).Scan(&acct.UserID, &acct.MonthlyCoinEarned, &acct.MonthlyCoinRedeemed, &lastReset)
	if err != nil {
		return coin.Account{}, fmt.Errorf("failed to read account: %w", err)
	}
	if lastReset.Valid {
		acct.LastReset, _ = time.Parse(coin.DateLayout, lastReset.String)
	}
	return acct, nil
}

func (qs *queries) SaveAccount(ctx context.Context, acct coin.Account) error {
	res, err := qs.q.ExecContext(ctx, `
		UPDATE users
		SET monthly_coin_earned = ?, monthly_coin_redeemed = ?, last_reset = ?
		WHERE user_id = ?
	`, acct.MonthlyCoinEarned, acct.MonthlyCoinRedeemed, acct.LastReset.Format(coin.DateLayout), acct.UserID)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to save account: no row for %q", acct.UserID)
	}
	return nil
}

func (qs *queries) ResetAccounts(ctx context.Context, today time.Time) (int, error) {
	res, err := qs.q.ExecContext(ctx,
		"UPDATE users SET monthly_coin_earned = 0, monthly_coin_redeemed = 0, last_reset = ?",
		coin.Today(today).Format(coin.DateLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset accounts: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (qs *queries) InsertRedemption(ctx context.Context, r coin.RedemptionRequest) (coin.RedemptionID, error) {
	res, err := qs.q.ExecContext(ctx, `
		INSERT INTO pending_redemptions (user_id, coins_redeemed, usd_value, requested_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, r.UserID, r.CoinsRedeemed, r.USDValue.String(), r.RequestedAt.UTC().Format(coin.TimestampLayout), string(r.Status))
	if err != nil {
		return 0, fmt.Errorf("failed to insert redemption: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read redemption id: %w", err)
	}
	return coin.RedemptionID(id), nil
}

const redemptionColumns = "id, user_id, coins_redeemed, usd_value, requested_at, status"

// GetRedemption returns nil, nil when id does not exist.
func (qs *queries) GetRedemption(ctx context.Context, id coin.RedemptionID) (*coin.RedemptionRequest, error) {
	rows, err := qs.q.QueryContext(ctx,
		"SELECT "+redemptionColumns+" FROM pending_redemptions WHERE id = ?", int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query redemption: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanRedemption(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (qs *queries) SetRedemptionStatus(ctx context.Context, id coin.RedemptionID, status coin.RedemptionStatus) error {
	res, err := qs.q.ExecContext(ctx,
		"UPDATE pending_redemptions SET status = ? WHERE id = ?", string(status), int64(id))
	if err != nil {
		return fmt.Errorf("failed to update redemption: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return coin.ErrRedemptionNotFound
	}
	return nil
}

// ExpirePending compares whole-second text timestamps, so a cutoff with a
// fractional second is rounded up: a row at 12:00:00 is older than 12:00:00.5.
func (qs *queries) ExpirePending(ctx context.Context, cutoff time.Time) (int, error) {
	c := cutoff.UTC().Truncate(time.Second)
	if !c.Equal(cutoff) {
		c = c.Add(time.Second)
	}
	res, err := qs.q.ExecContext(ctx, `
		UPDATE pending_redemptions
		SET status = 'expired'
		WHERE status = 'pending' AND requested_at < ?
	`, c.Format(coin.TimestampLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to expire redemptions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (qs *queries) ListRedemptions(ctx context.Context, filter coin.RedemptionFilter) ([]coin.RedemptionRequest, error) {
	query := "SELECT " + redemptionColumns + " FROM pending_redemptions"
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY id ASC"

	rows, err := qs.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query redemptions: %w", err)
	}
	defer rows.Close()

	var out []coin.RedemptionRequest
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRedemption(rows *sql.Rows) (coin.RedemptionRequest, error) {
	var (
		r           coin.RedemptionRequest
		id          int64
		usdValue    string
		requestedAt string
		status      string
	)
	if err := rows.Scan(&id, &r.UserID, &r.CoinsRedeemed, &usdValue, &requestedAt, &status); err != nil {
		return r, fmt.Errorf("failed to scan redemption: %w", err)
	}

	usd, err := decimal.NewFromString(usdValue)
	if err != nil {
		return r, fmt.Errorf("redemption %d: bad usd_value %q: %w", id, usdValue, err)
	}
	at, err := time.Parse(coin.TimestampLayout, requestedAt)
	if err != nil {
		return r, fmt.Errorf("redemption %d: bad requested_at %q: %w", id, requestedAt, err)
	}

	r.ID = coin.RedemptionID(id)
	r.USDValue = usd
	r.RequestedAt = at
	r.Status = coin.RedemptionStatus(status)
	return r, nil
}
