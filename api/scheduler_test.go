package api

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipfactory/coin-ledger/coin"
	"github.com/flipfactory/coin-ledger/coin/store"
)

func newTestScheduler(t *testing.T, cfg SchedulerConfig, clock func() time.Time) (*Scheduler, *coin.Ledger) {
	t.Helper()
	ledger, err := coin.NewLedger(store.NewMemory(), coin.DefaultConfig(), coin.WithClock(clock))
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)

	s := NewScheduler(ledger, log, cfg)
	s.now = clock
	return s, ledger
}

func TestScheduler_NoSchedulesRegistersNothing(t *testing.T) {
	s, _ := newTestScheduler(t, SchedulerConfig{}, time.Now)

	n, err := s.Start()

	require.NoError(t, err)
	assert.Equal(t, 0, n)
	<-s.Stop().Done()
}

func TestScheduler_RegistersConfiguredJobs(t *testing.T) {
	s, _ := newTestScheduler(t, SchedulerConfig{
		ExpireSchedule: "@every 15m",
		ResetSchedule:  "0 0 1 * *",
	}, time.Now)

	n, err := s.Start()

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	<-s.Stop().Done()
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s, _ := newTestScheduler(t, SchedulerConfig{ExpireSchedule: "every tuesday"}, time.Now)

	_, err := s.Start()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "every tuesday")
}

func TestScheduler_RunExpiryAndReset(t *testing.T) {
	// GIVEN: A pending request created 25 hours ago
	now := t0
	clock := func() time.Time { return now }
	s, ledger := newTestScheduler(t, SchedulerConfig{}, clock)
	ctx := context.Background()

	_, err := ledger.Engine.Earn(ctx, "u1", 10_000_000)
	require.NoError(t, err)
	_, err = ledger.Engine.Exchange(ctx, "u1", decimal.NewFromInt(3))
	require.NoError(t, err)
	now = t0.Add(25 * time.Hour)

	// WHEN: The jobs run directly
	s.RunExpiry()
	s.RunReset()

	// THEN: The request expired and counters were zeroed
	pending, err := ledger.Lifecycle.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	status, err := ledger.Accounts.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Earned)
	assert.Equal(t, int64(0), status.Redeemed)
}
