/*
Package coin implements the virtual-currency ledger: monthly earned and
redeemed coin counters per user, the monthly redemption cap, and the
pending -> paid / expired redemption workflow.

KEY CONCEPTS IN THIS FILE (types.go):
  - Config: Immutable economic constants (coins per dollar, monthly cap)
  - Account: One row per user, counters for the current monthly cycle
  - RedemptionRequest: A cash-out request created by Exchange
  - RedemptionStatus: pending | paid | expired

UNITS:
  1 coin is the smallest unit. 1,000,000 coins = $1.00.
  Coin counters are int64; dollar amounts use decimal.Decimal so that
  "$5.00" never turns into 4999999 coins through float rounding.

INVARIANTS:
  - 0 <= MonthlyCoinRedeemed <= Config.MaxMonthlyCoins
  - Exchange never pushes MonthlyCoinRedeemed above MonthlyCoinEarned
  - A request leaves pending at most once, and paid/expired never change

SEE ALSO:
  - accounts.go: Account Manager (get-or-create, credit, reset)
  - engine.go: Earn / Redeem / Exchange
  - lifecycle.go: pending -> paid / expired
*/
package coin

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIG - Immutable economic constants
// =============================================================================

const (
	DefaultCoinsPerDollar  int64 = 1_000_000
	DefaultMaxMonthlyCoins int64 = 50_000_000
	DefaultExpiryWindow          = 24 * time.Hour
)

// DefaultMaxExchangeUSD is the largest single cash-out request.
var DefaultMaxExchangeUSD = decimal.NewFromInt(100)

// Config is passed to NewLedger once and never mutated afterwards.
type Config struct {
	CoinsPerDollar  int64
	MaxMonthlyCoins int64
	MaxExchangeUSD  decimal.Decimal
	ExpiryWindow    time.Duration
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{
		CoinsPerDollar:  DefaultCoinsPerDollar,
		MaxMonthlyCoins: DefaultMaxMonthlyCoins,
		MaxExchangeUSD:  DefaultMaxExchangeUSD,
		ExpiryWindow:    DefaultExpiryWindow,
	}
}

// Validate reports the first nonsensical constant.
func (c Config) Validate() error {
	switch {
	case c.CoinsPerDollar <= 0:
		return fmt.Errorf("coins per dollar must be positive, got %d", c.CoinsPerDollar)
	case c.MaxMonthlyCoins <= 0:
		return fmt.Errorf("max monthly coins must be positive, got %d", c.MaxMonthlyCoins)
	case !c.MaxExchangeUSD.IsPositive():
		return fmt.Errorf("max exchange usd must be positive, got %s", c.MaxExchangeUSD)
	case c.ExpiryWindow <= 0:
		return fmt.Errorf("expiry window must be positive, got %s", c.ExpiryWindow)
	}
	return nil
}

// CoinsToUSD converts a coin amount to dollars.
func (c Config) CoinsToUSD(coins int64) decimal.Decimal {
	return decimal.NewFromInt(coins).Div(decimal.NewFromInt(c.CoinsPerDollar))
}

// USDToCoins converts dollars to coins, rounding down to a whole coin.
func (c Config) USDToCoins(usd decimal.Decimal) int64 {
	return usd.Mul(decimal.NewFromInt(c.CoinsPerDollar)).Floor().IntPart()
}

// FormatUSD renders an amount the way API clients expect it: "$5.00".
func FormatUSD(usd decimal.Decimal) string {
	return "$" + usd.StringFixed(2)
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is a user's ledger row for the current monthly cycle.
type Account struct {
	UserID              string
	MonthlyCoinEarned   int64
	MonthlyCoinRedeemed int64
	LastReset           time.Time // calendar date, UTC midnight
}

// Available is earned minus redeemed. It can be negative because Redeem
// does not check the earned balance.
func (a Account) Available() int64 {
	return a.MonthlyCoinEarned - a.MonthlyCoinRedeemed
}

// RemainingRedeemable is how many coins can still be redeemed this cycle.
func (a Account) RemainingRedeemable(maxMonthly int64) int64 {
	if remaining := maxMonthly - a.MonthlyCoinRedeemed; remaining > 0 {
		return remaining
	}
	return 0
}

// AccountStatus is the read model returned by the Status operation.
type AccountStatus struct {
	UserID                   string
	Earned                   int64
	Redeemed                 int64
	RemainingRedeemableCoins int64
	DollarValueRedeemed      decimal.Decimal
}

// =============================================================================
// REDEMPTION REQUEST
// =============================================================================

// RedemptionID is assigned by the store in insertion order.
type RedemptionID int64

type RedemptionStatus string

const (
	StatusPending RedemptionStatus = "pending"
	StatusPaid    RedemptionStatus = "paid"
	StatusExpired RedemptionStatus = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s RedemptionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no transition can leave s.
func (s RedemptionStatus) Terminal() bool {
	return s == StatusPaid || s == StatusExpired
}

// CanTransitionTo encodes the state machine:
//
//	pending --(mark paid)--> paid
//	pending --(expiry sweep)--> expired
func (s RedemptionStatus) CanTransitionTo(next RedemptionStatus) bool {
	return s == StatusPending && next.Terminal()
}

// RedemptionRequest is a reserved cash-out awaiting payment.
type RedemptionRequest struct {
	ID            RedemptionID
	UserID        string
	CoinsRedeemed int64
	USDValue      decimal.Decimal
	RequestedAt   time.Time
	Status        RedemptionStatus
}

// RedemptionFilter narrows ListRedemptions. The zero value lists everything.
type RedemptionFilter struct {
	Status RedemptionStatus
}

// Matches reports whether r passes the filter.
func (f RedemptionFilter) Matches(r RedemptionRequest) bool {
	return f.Status == "" || r.Status == f.Status
}

// =============================================================================
// OPERATION RESULTS
// =============================================================================

type EarnResult struct {
	Account Account
	Earned  int64
}

type RedeemResult struct {
	Account     Account
	Coins       int64
	CreditedUSD decimal.Decimal
}

type ExchangeResult struct {
	Account      Account
	Redemption   RedemptionRequest
	USDRequested decimal.Decimal
	ExpiresIn    time.Duration
}

// =============================================================================
// TIME HELPERS
// =============================================================================

// TimestampLayout is the persisted and exported timestamp format (UTC).
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is the format of Account.LastReset.
const DateLayout = "2006-01-02"

// Today truncates t to its UTC calendar date.
func Today(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// HumanizeWindow renders an expiry window for API responses ("24 hours").
func HumanizeWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int64(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}
