/*
ledger.go - Wiring of the Account Manager, Redemption Engine and Lifecycle

PURPOSE:
  NewLedger builds the three components over one TxStore so they share
  the per-account locks, the clock, the audit sink and the observer.

COMPONENTS:
  Accounts:  get-or-create, credit, monthly reset, status
  Engine:    Earn / Redeem / Exchange (cap + balance rules)
  Lifecycle: list / mark paid / expire / export of redemption requests

COLLABORATORS (all optional):
  WithClock:    time source, UTC (tests pin it)
  WithAuditSink: append-only redemption log, best effort
  WithLogger:   logrus logger for non-fatal failures
  WithObserver: metrics hooks

EXAMPLE:
  ledger, err := coin.NewLedger(store, coin.DefaultConfig(),
      coin.WithAuditSink(csvSink),
      coin.WithLogger(log))
  res, err := ledger.Engine.Exchange(ctx, "user-1", decimal.RequireFromString("5.00"))

SEE ALSO:
  - accounts.go, engine.go, lifecycle.go
*/
package coin

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flipfactory/coin-ledger/audit"
)

// Ledger groups the components that share one store.
type Ledger struct {
	Accounts  *AccountManager
	Engine    *Engine
	Lifecycle *Lifecycle
}

// Option configures optional collaborators.
type Option func(*deps)

// deps is shared by every component of one Ledger.
type deps struct {
	store    TxStore
	cfg      Config
	locks    *accountLocks
	now      func() time.Time
	sink     audit.Sink
	log      logrus.FieldLogger
	observer Observer
}

// WithClock overrides time.Now. The clock's value is converted to UTC.
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

// WithAuditSink sets where redemption attempts are logged.
func WithAuditSink(sink audit.Sink) Option {
	return func(d *deps) { d.sink = sink }
}

// WithLogger sets the logger used for non-fatal failures.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *deps) { d.log = log }
}

// WithObserver sets the metrics hooks.
func WithObserver(o Observer) Option {
	return func(d *deps) { d.observer = o }
}

// NewLedger validates cfg and builds the components.
func NewLedger(store TxStore, cfg Config, opts ...Option) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &deps{
		store:    store,
		cfg:      cfg,
		locks:    newAccountLocks(),
		now:      time.Now,
		sink:     audit.Nop{},
		log:      discardLogger(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}

	accounts := &AccountManager{deps: d}
	return &Ledger{
		Accounts:  accounts,
		Engine:    &Engine{deps: d, accounts: accounts},
		Lifecycle: &Lifecycle{deps: d},
	}, nil
}

// Config returns the constants the ledger was built with.
func (l *Ledger) Config() Config {
	return l.Accounts.cfg
}

func (d *deps) clock() time.Time {
	return d.now().UTC()
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// =============================================================================
// OBSERVER - Metrics hooks
// =============================================================================

// Operation names reported to the Observer.
const (
	OpEarn     = "earn"
	OpRedeem   = "redeem"
	OpExchange = "exchange"
	OpMarkPaid = "mark_paid"
	OpExpire   = "expire"
	OpReset    = "reset"
)

// Observer receives ledger events. Implementations must be safe for
// concurrent use.
type Observer interface {
	// Operation is called once per Earn/Redeem/Exchange/MarkPaid/Expire/Reset
	// with the error it returned (nil on success).
	Operation(op string, err error)
	// Coins is called after a commit that moved coins ("earned" or "redeemed").
	Coins(direction string, n int64)
	// Transition is called after n requests entered status.
	Transition(status RedemptionStatus, n int)
	// AuditFailed is called when the audit sink rejected a record.
	AuditFailed(err error)
}

type nopObserver struct{}

func (nopObserver) Operation(string, error)          {}
func (nopObserver) Coins(string, int64)              {}
func (nopObserver) Transition(RedemptionStatus, int) {}
func (nopObserver) AuditFailed(error)                {}
