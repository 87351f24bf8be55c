/*
engine.go - Redemption Engine: Earn, Redeem, Exchange

PURPOSE:
  Validates and executes coin movements against the Account Manager and
  creates redemption requests. Enforces the monthly cap.

OPERATIONS:
  Earn:     coins > 0, no cap. Credits monthly_coin_earned.
  Redeem:   coins > 0, cap check only. Credits monthly_coin_redeemed and
            reports the dollar value. Does NOT check earned balance.
  Exchange: 0 < usd <= MaxExchangeUSD. coins = floor(usd * CoinsPerDollar).
            Balance check, then cap check. Reserves the coins and inserts a
            pending RedemptionRequest in the same transaction, then appends
            an audit record.

REDEEM VS EXCHANGE:
  Redeem can push redeemed above earned; Exchange cannot. Both paths are
  kept as the existing clients depend on them. Treat Redeem as a trusted
  server-to-server credit. If that assumption ever stops holding, Redeem
  needs the same balance check Exchange has.

VALIDATION ORDER:
  All input validation happens before any lock or transaction, so a
  rejected request never writes.

AUDIT:
  The audit append runs after commit. A failing sink is logged and
  counted; the ledger change stays committed.

SEE ALSO:
  - accounts.go: Mutate()
  - lifecycle.go: What happens to the pending request afterwards
*/
package coin

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flipfactory/coin-ledger/audit"
)

// Engine executes earn/redeem/exchange operations.
type Engine struct {
	*deps
	accounts *AccountManager
}

// =============================================================================
// EARN
// =============================================================================

// Earn credits coins to the user's earned counter.
func (e *Engine) Earn(ctx context.Context, userID string, coins int64) (res EarnResult, err error) {
	defer func() { e.observer.Operation(OpEarn, err) }()

	if err := validateUserID(userID); err != nil {
		return EarnResult{}, err
	}
	if coins <= 0 {
		return EarnResult{}, ErrInvalidAmount
	}

	acct, err := e.accounts.CreditEarned(ctx, userID, coins)
	if err != nil {
		return EarnResult{}, err
	}
	e.observer.Coins("earned", coins)
	return EarnResult{Account: acct, Earned: coins}, nil
}

// =============================================================================
// REDEEM
// =============================================================================

// Redeem reserves coins against the monthly cap and returns their dollar value.
// Only the cap is checked; see the package notes on Redeem vs Exchange.
func (e *Engine) Redeem(ctx context.Context, userID string, coins int64) (res RedeemResult, err error) {
	defer func() { e.observer.Operation(OpRedeem, err) }()

	if err := validateUserID(userID); err != nil {
		return RedeemResult{}, err
	}
	if coins <= 0 {
		return RedeemResult{}, ErrInvalidAmount
	}

	acct, err := e.accounts.Mutate(ctx, userID, func(_ Store, acct *Account) error {
		if err := e.checkCap(acct, coins); err != nil {
			return err
		}
		acct.MonthlyCoinRedeemed += coins
		return nil
	})
	if err != nil {
		return RedeemResult{}, err
	}

	e.observer.Coins("redeemed", coins)
	return RedeemResult{
		Account:     acct,
		Coins:       coins,
		CreditedUSD: e.cfg.CoinsToUSD(coins),
	}, nil
}

// =============================================================================
// EXCHANGE
// =============================================================================

// Exchange converts a dollar amount into a reserved redemption and a
// pending RedemptionRequest.
func (e *Engine) Exchange(ctx context.Context, userID string, usd decimal.Decimal) (res ExchangeResult, err error) {
	defer func() { e.observer.Operation(OpExchange, err) }()

	if err := validateUserID(userID); err != nil {
		return ExchangeResult{}, err
	}
	coins, err := e.exchangeCoins(usd)
	if err != nil {
		return ExchangeResult{}, err
	}

	now := e.clock().Truncate(time.Second)
	var redemption RedemptionRequest
	acct, err := e.accounts.Mutate(ctx, userID, func(s Store, acct *Account) error {
		if available := acct.Available(); coins > available {
			return &InsufficientBalanceError{UserID: userID, Available: available, Requested: coins}
		}
		if err := e.checkCap(acct, coins); err != nil {
			return err
		}
		acct.MonthlyCoinRedeemed += coins

		redemption = RedemptionRequest{
			UserID:        userID,
			CoinsRedeemed: coins,
			USDValue:      usd,
			RequestedAt:   now,
			Status:        StatusPending,
		}
		id, err := s.InsertRedemption(ctx, redemption)
		if err != nil {
			return wrapStore("insert redemption", err)
		}
		redemption.ID = id
		return nil
	})
	if err != nil {
		return ExchangeResult{}, err
	}

	e.observer.Coins("redeemed", coins)
	e.observer.Transition(StatusPending, 1)
	e.appendAudit(ctx, redemption)

	return ExchangeResult{
		Account:      acct,
		Redemption:   redemption,
		USDRequested: usd,
		ExpiresIn:    e.cfg.ExpiryWindow,
	}, nil
}

func (e *Engine) exchangeCoins(usd decimal.Decimal) (int64, error) {
	if !usd.IsPositive() || usd.GreaterThan(e.cfg.MaxExchangeUSD) {
		return 0, fmt.Errorf("%w: usd must be greater than 0 and at most %s",
			ErrInvalidRequest, e.cfg.MaxExchangeUSD)
	}
	coins := e.cfg.USDToCoins(usd)
	if coins <= 0 {
		return 0, fmt.Errorf("%w: usd %s is less than one coin", ErrInvalidRequest, usd)
	}
	return coins, nil
}

func (e *Engine) checkCap(acct *Account, coins int64) error {
	// written as a subtraction so a huge request cannot overflow past the cap
	if coins > e.cfg.MaxMonthlyCoins-acct.MonthlyCoinRedeemed {
		return &CapExceededError{
			UserID:    acct.UserID,
			Redeemed:  acct.MonthlyCoinRedeemed,
			Requested: coins,
			Cap:       e.cfg.MaxMonthlyCoins,
		}
	}
	return nil
}

// appendAudit is best effort: the ledger change is already committed.
func (d *deps) appendAudit(ctx context.Context, r RedemptionRequest) {
	rec := audit.Record{
		Timestamp:     d.clock(),
		UserID:        r.UserID,
		USDValue:      r.USDValue,
		CoinsRedeemed: r.CoinsRedeemed,
		Status:        string(r.Status),
	}
	if err := d.sink.Append(ctx, rec); err != nil {
		d.observer.AuditFailed(err)
		d.log.WithError(err).
			WithField("user_id", r.UserID).
			WithField("redemption_id", int64(r.ID)).
			WithField("status", r.Status).
			Warn("audit append failed")
	}
}
