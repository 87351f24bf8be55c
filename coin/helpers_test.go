package coin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flipfactory/coin-ledger/audit"
	"github.com/flipfactory/coin-ledger/coin"
	"github.com/flipfactory/coin-ledger/coin/store"
	"github.com/flipfactory/coin-ledger/store/sqlite"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recordingSink keeps every appended record and can be told to fail.
type recordingSink struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func (s *recordingSink) Append(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) Records() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Record(nil), s.records...)
}

// countingObserver tallies observer calls.
type countingObserver struct {
	mu          sync.Mutex
	ops         map[string]int
	failedOps   map[string]int
	coins       map[string]int64
	transitions map[coin.RedemptionStatus]int
	auditFails  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		ops:         map[string]int{},
		failedOps:   map[string]int{},
		coins:       map[string]int64{},
		transitions: map[coin.RedemptionStatus]int{},
	}
}

func (o *countingObserver) Operation(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops[op]++
	if err != nil {
		o.failedOps[op]++
	}
}

func (o *countingObserver) Coins(direction string, n int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.coins[direction] += n
}

func (o *countingObserver) Transition(status coin.RedemptionStatus, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions[status] += n
}

func (o *countingObserver) AuditFailed(error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.auditFails++
}

// storeFactories lets the same test run against every embedded store.
var storeFactories = map[string]func(t *testing.T) coin.TxStore{
	"memory": func(t *testing.T) coin.TxStore {
		return store.NewMemory()
	},
	"sqlite": func(t *testing.T) coin.TxStore {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	},
}

type fixture struct {
	ledger   *coin.Ledger
	store    coin.TxStore
	clock    *testClock
	sink     *recordingSink
	observer *countingObserver
}

func newFixture(t *testing.T, s coin.TxStore, cfg coin.Config) *fixture {
	t.Helper()
	f := &fixture{
		store:    s,
		clock:    newClock(t0),
		sink:     &recordingSink{},
		observer: newCountingObserver(),
	}
	ledger, err := coin.NewLedger(s, cfg,
		coin.WithClock(f.clock.Now),
		coin.WithAuditSink(f.sink),
		coin.WithObserver(f.observer),
	)
	require.NoError(t, err)
	f.ledger = ledger
	return f
}

func newMemoryFixture(t *testing.T) *fixture {
	return newFixture(t, store.NewMemory(), coin.DefaultConfig())
}

// failingStore fails InsertRedemption inside transactions.
type failingStore struct {
	coin.TxStore
}

var errDiskFull = errors.New("disk full")

func (f failingStore) WithTx(ctx context.Context, fn func(coin.Store) error) error {
	return f.TxStore.WithTx(ctx, func(s coin.Store) error {
		return fn(failingTx{Store: s})
	})
}

type failingTx struct {
	coin.Store
}

func (failingTx) InsertRedemption(context.Context, coin.RedemptionRequest) (coin.RedemptionID, error) {
	return 0, errDiskFull
}
