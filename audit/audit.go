/*
Package audit provides append-only sinks for redemption audit records.

PURPOSE:
  The ledger notifies a Sink after each committed exchange and each
  paid transition. The sink is write-only: nothing in the ledger reads
  it back to make decisions.

RECORD FORMAT:
  (timestamp, user_id, usd_value, coins_redeemed, status)
  CSV files get a header row the first time they are written.

SINKS:
  CSVFile: Local append-only file (default redemptions.csv)
  AMQP:    JSON messages on a durable topic exchange
  Multi:   Fan-out to several sinks
  Nop:     Discards everything

FAILURE SEMANTICS:
  Append errors are reported to the caller, which logs them. They never
  roll back the ledger mutation that produced the record.

SEE ALSO:
  - coin/engine.go: appendAudit()
*/
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one audit line.
type Record struct {
	Timestamp     time.Time       `json:"timestamp"`
	UserID        string          `json:"user_id"`
	USDValue      decimal.Decimal `json:"usd_value"`
	CoinsRedeemed int64           `json:"coins_redeemed"`
	Status        string          `json:"status"`
}

// Sink accepts audit records. Implementations must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Nop discards records.
type Nop struct{}

func (Nop) Append(context.Context, Record) error { return nil }

// Multi appends to every sink and joins their errors.
type Multi []Sink

func (m Multi) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
