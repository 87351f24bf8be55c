package coin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipfactory/coin-ledger/coin"
)

// exchangeAt earns and exchanges $1 for user at the given time.
func exchangeAt(t *testing.T, f *fixture, user string, at time.Time) coin.RedemptionID {
	t.Helper()
	ctx := context.Background()
	f.clock.Set(at)
	_, err := f.ledger.Engine.Earn(ctx, user, 1_000_000)
	require.NoError(t, err)
	res, err := f.ledger.Engine.Exchange(ctx, user, usd("1"))
	require.NoError(t, err)
	return res.Redemption.ID
}

func TestMarkPaid_MovesPendingToPaid(t *testing.T) {
	for name, newStore := range storeFactories {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A pending request
			f := newFixture(t, newStore(t), coin.DefaultConfig())
			ctx := context.Background()
			id := exchangeAt(t, f, "u1", t0)

			// WHEN: It is marked paid
			paid, err := f.ledger.Lifecycle.MarkPaid(ctx, id)

			// THEN: It is paid and no longer pending
			require.NoError(t, err)
			assert.Equal(t, coin.StatusPaid, paid.Status)
			pending, err := f.ledger.Lifecycle.ListPending(ctx)
			require.NoError(t, err)
			assert.Empty(t, pending)

			// AND: The paid transition was audited
			records := f.sink.Records()
			require.Len(t, records, 2)
			assert.Equal(t, "paid", records[1].Status)

			// WHEN: It is marked paid again
			again, err := f.ledger.Lifecycle.MarkPaid(ctx, id)

			// THEN: No-op success without a second audit record
			require.NoError(t, err)
			assert.Equal(t, coin.StatusPaid, again.Status)
			assert.Len(t, f.sink.Records(), 2)
			assert.Equal(t, 1, f.observer.transitions[coin.StatusPaid])
		})
	}
}

func TestMarkPaid_UnknownID(t *testing.T) {
	f := newMemoryFixture(t)

	_, err := f.ledger.Lifecycle.MarkPaid(context.Background(), 999)

	require.ErrorIs(t, err, coin.ErrRedemptionNotFound)
	assert.True(t, coin.IsNotFound(err))
}

func TestMarkPaid_InvalidID(t *testing.T) {
	f := newMemoryFixture(t)

	_, err := f.ledger.Lifecycle.MarkPaid(context.Background(), 0)

	assert.ErrorIs(t, err, coin.ErrInvalidRequest)
}

func TestMarkPaid_ExpiredRequestIsRejected(t *testing.T) {
	// GIVEN: A request that already expired
	f := newMemoryFixture(t)
	ctx := context.Background()
	id := exchangeAt(t, f, "u1", t0)
	f.clock.Set(t0.Add(25 * time.Hour))
	_, n, err := f.ledger.Lifecycle.ExpireStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// WHEN: Someone tries to pay it
	_, err = f.ledger.Lifecycle.MarkPaid(ctx, id)

	// THEN: The transition is refused and the status stays expired
	require.ErrorIs(t, err, coin.ErrInvalidTransition)
	var trErr *coin.TransitionError
	require.True(t, errors.As(err, &trErr))
	assert.Equal(t, coin.StatusExpired, trErr.From)
	assert.Equal(t, coin.StatusPaid, trErr.To)

	got, err := f.ledger.Lifecycle.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, coin.StatusExpired, got.Status)
}

func TestExpireStale_OnlyExpiresOldPendingRequests(t *testing.T) {
	for name, newStore := range storeFactories {
		t.Run(name, func(t *testing.T) {
			// GIVEN: Requests aged 25h (pending), 25h (paid) and 1h (pending)
			f := newFixture(t, newStore(t), coin.DefaultConfig())
			ctx := context.Background()
			now := t0.Add(48 * time.Hour)

			oldID := exchangeAt(t, f, "u1", now.Add(-25*time.Hour))
			paidID := exchangeAt(t, f, "u2", now.Add(-25*time.Hour))
			freshID := exchangeAt(t, f, "u3", now.Add(-1*time.Hour))
			_, err := f.ledger.Lifecycle.MarkPaid(ctx, paidID)
			require.NoError(t, err)

			// WHEN: The sweep runs
			f.clock.Set(now)
			cutoff, n, err := f.ledger.Lifecycle.ExpireStale(ctx)

			// THEN: Only the old pending one expired
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.Equal(t, now.Add(-24*time.Hour), cutoff)

			all, err := f.ledger.Lifecycle.ExportAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			statuses := map[coin.RedemptionID]coin.RedemptionStatus{}
			for _, r := range all {
				statuses[r.ID] = r.Status
			}
			assert.Equal(t, coin.StatusExpired, statuses[oldID])
			assert.Equal(t, coin.StatusPaid, statuses[paidID])
			assert.Equal(t, coin.StatusPending, statuses[freshID])

			// AND: Expiry does not refund the reserved coins
			status, err := f.ledger.Accounts.Status(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, int64(1_000_000), status.Redeemed)

			// AND: A second sweep is a no-op
			_, n, err = f.ledger.Lifecycle.ExpireStale(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestExpireOlderThan_FractionalSecondCutoff(t *testing.T) {
	for name, newStore := range storeFactories {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A request created at exactly t0
			f := newFixture(t, newStore(t), coin.DefaultConfig())
			ctx := context.Background()
			id := exchangeAt(t, f, "u1", t0)

			// WHEN: The cutoff equals the request time
			n, err := f.ledger.Lifecycle.ExpireOlderThan(ctx, t0)

			// THEN: Nothing expires, the comparison is strict
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			// WHEN: The cutoff is half a second later
			n, err = f.ledger.Lifecycle.ExpireOlderThan(ctx, t0.Add(500*time.Millisecond))

			// THEN: The request is older than the cutoff and expires
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			got, err := f.ledger.Lifecycle.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, coin.StatusExpired, got.Status)
		})
	}
}

func TestExportAll_ReturnsEveryStatusInCreationOrder(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	ids := []coin.RedemptionID{
		exchangeAt(t, f, "u1", t0),
		exchangeAt(t, f, "u2", t0.Add(time.Minute)),
		exchangeAt(t, f, "u1", t0.Add(2*time.Minute)),
	}
	_, err := f.ledger.Lifecycle.MarkPaid(ctx, ids[1])
	require.NoError(t, err)

	all, err := f.ledger.Lifecycle.ExportAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, r := range all {
		assert.Equal(t, ids[i], r.ID)
	}
	assert.Equal(t, coin.StatusPaid, all[1].Status)
}

func TestGet_UnknownID(t *testing.T) {
	f := newMemoryFixture(t)
	_, err := f.ledger.Lifecycle.Get(context.Background(), 7)
	assert.ErrorIs(t, err, coin.ErrRedemptionNotFound)
}
