/*
sqlite_test.go - Tests for the SQLite store

Tests for:
- Schema migration on a fresh and on a legacy database file
- Account upsert and save
- Redemption insert, listing order, status changes and expiry
- Transaction rollback (sqlmock)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipfactory/coin-ledger/coin"
)

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func redemption(user string, at time.Time) coin.RedemptionRequest {
	return coin.RedemptionRequest{
		UserID:        user,
		CoinsRedeemed: 1_500_000,
		USDValue:      decimal.RequireFromString("1.5"),
		RequestedAt:   at,
		Status:        coin.StatusPending,
	}
}

func TestNew_MigrationIsIdempotent(t *testing.T) {
	// GIVEN: A database file that was already migrated
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := New(path)
	require.NoError(t, err)
	_, err = s.InsertRedemption(context.Background(), redemption("u1", day))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// WHEN: It is opened again
	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()

	// THEN: Data survived and nothing failed
	rs, err := s.ListRedemptions(context.Background(), coin.RedemptionFilter{})
	require.NoError(t, err)
	assert.Len(t, rs, 1)
}

func TestNew_OpensLegacyDatabase(t *testing.T) {
	// GIVEN: A database created by the previous service, usd_value stored as REAL
	path := filepath.Join(t.TempDir(), "database.db")
	legacy, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = legacy.Exec(`
		CREATE TABLE users (
			user_id TEXT PRIMARY KEY,
			monthly_coin_earned INTEGER DEFAULT 0,
			monthly_coin_redeemed INTEGER DEFAULT 0,
			last_reset TEXT
		);
		CREATE TABLE pending_redemptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT,
			coins_redeemed INTEGER,
			usd_value REAL,
			requested_at TEXT,
			status TEXT DEFAULT 'pending'
		);
		INSERT INTO users (user_id, last_reset) VALUES ('old-user', '2025-02-01');
		INSERT INTO pending_redemptions (user_id, coins_redeemed, usd_value, requested_at)
		VALUES ('old-user', 2500000, 2.5, '2025-02-03 10:00:00');
	`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	// WHEN: The store opens it
	s, err := New(path)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	// THEN: Existing rows read back with the right types
	acct, err := s.EnsureAccount(ctx, "old-user", day)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), acct.LastReset)

	rs, err := s.ListRedemptions(ctx, coin.RedemptionFilter{Status: coin.StatusPending})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.True(t, decimal.RequireFromString("2.5").Equal(rs[0].USDValue))
	assert.Equal(t, time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC), rs[0].RequestedAt)
}

func TestEnsureAccount_CreatesOnceAndSaveUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// GIVEN: A new account
	acct, err := s.EnsureAccount(ctx, "u1", day)
	require.NoError(t, err)
	assert.Equal(t, coin.Account{UserID: "u1", LastReset: day}, acct)

	// WHEN: It is modified and saved, then ensured again a day later
	acct.MonthlyCoinEarned = 7
	acct.MonthlyCoinRedeemed = 3
	require.NoError(t, s.SaveAccount(ctx, acct))
	again, err := s.EnsureAccount(ctx, "u1", day.AddDate(0, 0, 1))

	// THEN: The saved values win
	require.NoError(t, err)
	assert.Equal(t, acct, again)
}

func TestSaveAccount_UnknownUser(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveAccount(context.Background(), coin.Account{UserID: "ghost", LastReset: day})
	assert.Error(t, err)
}

func TestRedemptions_InsertListAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := day.Add(9 * time.Hour)

	id1, err := s.InsertRedemption(ctx, redemption("u1", at))
	require.NoError(t, err)
	id2, err := s.InsertRedemption(ctx, redemption("u2", at.Add(time.Minute)))
	require.NoError(t, err)
	assert.Less(t, id1, id2)

	require.NoError(t, s.SetRedemptionStatus(ctx, id1, coin.StatusPaid))

	got, err := s.GetRedemption(ctx, id1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, coin.StatusPaid, got.Status)
	assert.Equal(t, at, got.RequestedAt)

	pending, err := s.ListRedemptions(ctx, coin.RedemptionFilter{Status: coin.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id2, pending[0].ID)

	missing, err := s.GetRedemption(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, s.SetRedemptionStatus(ctx, 999, coin.StatusPaid), coin.ErrRedemptionNotFound)
}

func TestExpirePending_UsesStrictCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cutoff := day.Add(12 * time.Hour)

	_, err := s.InsertRedemption(ctx, redemption("before", cutoff.Add(-time.Second)))
	require.NoError(t, err)
	_, err = s.InsertRedemption(ctx, redemption("at", cutoff))
	require.NoError(t, err)

	n, err := s.ExpirePending(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := s.ListRedemptions(ctx, coin.RedemptionFilter{Status: coin.StatusExpired})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "before", expired[0].UserID)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx coin.Store) error {
		if _, err := tx.InsertRedemption(ctx, redemption("u1", day)); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	rs, err := s.ListRedemptions(ctx, coin.RedemptionFilter{})
	require.NoError(t, err)
	assert.Empty(t, rs)
}

// =============================================================================
// SQLMOCK
// =============================================================================

func TestExchange_InsertFailureRollsBack(t *testing.T) {
	// GIVEN: A mocked database where the redemption insert fails
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT user_id, monthly_coin_earned").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "monthly_coin_earned", "monthly_coin_redeemed", "last_reset"}).
			AddRow("u1", 10_000_000, 0, "2025-03-10"))
	mock.ExpectExec("INSERT INTO pending_redemptions").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	ledger, err := coin.NewLedger(NewWithDB(db), coin.DefaultConfig())
	require.NoError(t, err)

	// WHEN: An exchange runs
	_, err = ledger.Engine.Exchange(context.Background(), "u1", decimal.NewFromInt(5))

	// THEN: The error is retryable and the transaction rolled back without saving the account
	require.Error(t, err)
	assert.True(t, coin.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRedemptionStatus_NoRowsIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE pending_redemptions SET status").
		WithArgs("paid", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewWithDB(db).SetRedemptionStatus(context.Background(), 42, coin.StatusPaid)

	assert.ErrorIs(t, err, coin.ErrRedemptionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
