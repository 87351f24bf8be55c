/*
Package postgres provides a PostgreSQL-backed implementation of coin.TxStore.

PURPOSE:
  Shared persistence for deployments that run more than one ledger
  process. The in-process account locks only cover one process, so this
  store takes row locks itself.

LOCKING:
  EnsureAccount and GetRedemption select with FOR UPDATE when called
  inside WithTx, which serializes concurrent transactions on the same
  account or redemption across processes.

TYPES:
  usd_value      NUMERIC without a fixed scale, passed as text so the
                 requested amount is stored exactly
  requested_at   TIMESTAMPTZ
  last_reset     DATE

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - coin/store.go: Interface definitions
  - store/sqlite: Default single-file implementation
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

	"github.com/flipfactory/coin-ledger/coin"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id               TEXT PRIMARY KEY,
		monthly_coin_earned   BIGINT NOT NULL DEFAULT 0 CHECK (monthly_coin_earned >= 0),
		monthly_coin_redeemed BIGINT NOT NULL DEFAULT 0 CHECK (monthly_coin_redeemed >= 0),
		last_reset            DATE
	)`,
	`CREATE TABLE IF NOT EXISTS pending_redemptions (
		id             BIGSERIAL PRIMARY KEY,
		user_id        TEXT NOT NULL,
		coins_redeemed BIGINT NOT NULL,
		usd_value      NUMERIC NOT NULL,
		requested_at   TIMESTAMPTZ NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending'
	)`,
	// tables created with NUMERIC(20,6) rounded amounts past six decimals
	`ALTER TABLE pending_redemptions ALTER COLUMN usd_value TYPE NUMERIC`,
	`CREATE INDEX IF NOT EXISTS idx_pending_redemptions_status_requested
		ON pending_redemptions (status, requested_at)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_redemptions_user
		ON pending_redemptions (user_id)`,
}

// Store implements coin.TxStore using a pgx connection pool.
type Store struct {
	queries
	pool *pgxpool.Pool
}

var _ coin.TxStore = (*Store)(nil)

// New connects to databaseURL, pings it and creates missing tables.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &Store{queries: queries{q: pool}, pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx runs fn in a read-committed transaction. Row locks taken by
// fn are held until commit.
func (s *Store) WithTx(ctx context.Context, fn func(coin.Store) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&queries{q: tx, inTx: true})
	})
}

// =============================================================================
// QUERIES
// =============================================================================

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q    querier
	inTx bool
}

func (qs *queries) lockClause() string {
	if qs.inTx {
		return " FOR UPDATE"
	}
	return ""
}

func (qs *queries) EnsureAccount(ctx context.Context, userID string, today time.Time) (coin.Account, error) {
	_, err := qs.q.Exec(ctx, `
		INSERT INTO users (user_id, monthly_coin_earned, monthly_coin_redeemed, last_reset)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, coin.Today(today))
	if err != nil {
		return coin.Account{}, fmt.Errorf("failed to upsert account: %w", err)
	}

	var (
		acct      coin.Account
		lastReset *time.Time
	)
	err = qs.q.QueryRow(ctx,
		"SELECT user_id, monthly_coin_earned, monthly_coin_redeemed, last_reset FROM users WHERE user_id = $1"+qs.lockClause(),
		userID,
	).Scan(&acct.UserID, &acct.MonthlyCoinEarned, &acct.MonthlyCoinRedeemed, &lastReset)
	if err != nil {
		return coin.Account{}, fmt.Errorf("failed to read account: %w", err)
	}
	if lastReset != nil {
		acct.LastReset = coin.Today(*lastReset)
	}
	return acct, nil
}

func (qs *queries) SaveAccount(ctx context.Context, acct coin.Account) error {
	tag, err := qs.q.Exec(ctx, `
		UPDATE users
		SET monthly_coin_earned = $1, monthly_coin_redeemed = $2, last_reset = $3
		WHERE user_id = $4
	`, acct.MonthlyCoinEarned, acct.MonthlyCoinRedeemed, acct.LastReset, acct.UserID)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to save account: no row for %q", acct.UserID)
	}
	return nil
}

func (qs *queries) ResetAccounts(ctx context.Context, today time.Time) (int, error) {
	tag, err := qs.q.Exec(ctx,
		"UPDATE users SET monthly_coin_earned = 0, monthly_coin_redeemed = 0, last_reset = $1",
		coin.Today(today),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset accounts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (qs *queries) InsertRedemption(ctx context.Context, r coin.RedemptionRequest) (coin.RedemptionID, error) {
	var id int64
	err := qs.q.QueryRow(ctx, `
		INSERT INTO pending_redemptions (user_id, coins_redeemed, usd_value, requested_at, status)
		VALUES ($1, $2, $3::text::numeric, $4, $5)
		RETURNING id
	`, r.UserID, r.CoinsRedeemed, r.USDValue.String(), r.RequestedAt.UTC(), string(r.Status)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert redemption: %w", err)
	}
	return coin.RedemptionID(id), nil
}

const redemptionColumns = "id, user_id, coins_redeemed, usd_value::text, requested_at, status"

func (qs *queries) GetRedemption(ctx context.Context, id coin.RedemptionID) (*coin.RedemptionRequest, error) {
	row := qs.q.QueryRow(ctx,
		"SELECT "+redemptionColumns+" FROM pending_redemptions WHERE id = $1"+qs.lockClause(),
		int64(id),
	)
	r, err := scanRedemption(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (qs *queries) SetRedemptionStatus(ctx context.Context, id coin.RedemptionID, status coin.RedemptionStatus) error {
	tag, err := qs.q.Exec(ctx,
		"UPDATE pending_redemptions SET status = $1 WHERE id = $2", string(status), int64(id))
	if err != nil {
		return fmt.Errorf("failed to update redemption: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return coin.ErrRedemptionNotFound
	}
	return nil
}

func (qs *queries) ExpirePending(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := qs.q.Exec(ctx, `
		UPDATE pending_redemptions
		SET status = 'expired'
		WHERE status = 'pending' AND requested_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire redemptions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (qs *queries) ListRedemptions(ctx context.Context, filter coin.RedemptionFilter) ([]coin.RedemptionRequest, error) {
	query := "SELECT " + redemptionColumns + " FROM pending_redemptions"
	var args []any
	if filter.Status != "" {
		query += " WHERE status = $1"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY id ASC"

	rows, err := qs.q.Query(ctx, query, args...)
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

func scanRedemption(row pgx.Row) (coin.RedemptionRequest, error) {
	var (
		r        coin.RedemptionRequest
		id       int64
		usdValue string
		status   string
	)
	if err := row.Scan(&id, &r.UserID, &r.CoinsRedeemed, &usdValue, &r.RequestedAt, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan redemption: %w", err)
	}
	usd, err := decimal.NewFromString(usdValue)
	if err != nil {
		return r, fmt.Errorf("redemption %d: bad usd_value %q: %w", id, usdValue, err)
	}
	r.ID = coin.RedemptionID(id)
	r.USDValue = usd
	r.RequestedAt = r.RequestedAt.UTC()
	r.Status = coin.RedemptionStatus(status)
	return r, nil
}
