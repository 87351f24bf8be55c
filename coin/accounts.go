/*
accounts.go - Account Manager: get-or-create, credit, monthly reset

PURPOSE:
  Owns the Account rows. Every counter change goes through Mutate(),
  which is the ledger's single atomic read-check-write primitive.

MUTATE SEQUENCE:
  1. Lock the user's shard (other users proceed in parallel)
  2. Open a store transaction
  3. EnsureAccount: upsert a zeroed row on first reference
  4. Run the caller's check-and-modify function
  5. Save the account if it changed, commit
  Any error in 3-5 rolls the whole transaction back.

MONTHLY RESET:
  ResetAll is global and explicit: nothing resets accounts on a
  calendar boundary. It takes the global lock, so it never interleaves
  with an uncommitted earn/redeem/exchange.

SEE ALSO:
  - locks.go: Shard + global lock
  - engine.go: Earn/Redeem/Exchange built on Mutate
*/
package coin

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// AccountManager provides get-or-create semantics and the monthly reset.
type AccountManager struct {
	*deps
}

// GetOrCreate returns the user's account, creating a zeroed one with
// LastReset = today if none exists. Calling it twice returns the same state.
func (m *AccountManager) GetOrCreate(ctx context.Context, userID string) (Account, error) {
	if err := validateUserID(userID); err != nil {
		return Account{}, err
	}
	acct, err := m.store.EnsureAccount(ctx, userID, Today(m.clock()))
	if err != nil {
		return Account{}, wrapStore("get or create account", err)
	}
	return acct, nil
}

// CreditEarned adds coins to the user's earned counter. Earning is not capped.
func (m *AccountManager) CreditEarned(ctx context.Context, userID string, coins int64) (Account, error) {
	if coins <= 0 {
		return Account{}, ErrInvalidAmount
	}
	return m.Mutate(ctx, userID, func(_ Store, acct *Account) error {
		if acct.MonthlyCoinEarned > math.MaxInt64-coins {
			return fmt.Errorf("%w: earned counter would overflow", ErrInvalidRequest)
		}
		acct.MonthlyCoinEarned += coins
		return nil
	})
}

// Mutate runs fn against the user's account inside one transaction while
// holding the account's lock. fn may use s to write other rows in the same
// transaction. The modified account is saved and returned on success.
func (m *AccountManager) Mutate(ctx context.Context, userID string, fn func(s Store, acct *Account) error) (Account, error) {
	if err := validateUserID(userID); err != nil {
		return Account{}, err
	}

	unlock := m.locks.lock(userID)
	defer unlock()

	var result Account
	err := m.store.WithTx(ctx, func(s Store) error {
		acct, err := s.EnsureAccount(ctx, userID, Today(m.clock()))
		if err != nil {
			return wrapStore("ensure account", err)
		}

		before := acct
		if err := fn(s, &acct); err != nil {
			return err
		}
		if acct != before {
			if err := s.SaveAccount(ctx, acct); err != nil {
				return wrapStore("save account", err)
			}
		}
		result = acct
		return nil
	})
	if err != nil {
		return Account{}, wrapStore("account transaction", err)
	}
	return result, nil
}

// ResetAll zeroes every account's monthly counters and stamps LastReset.
// It waits for in-flight account mutations and blocks new ones until done.
func (m *AccountManager) ResetAll(ctx context.Context, today time.Time) (n int, err error) {
	defer func() { m.observer.Operation(OpReset, err) }()

	unlock := m.locks.lockAll()
	defer unlock()

	err = m.store.WithTx(ctx, func(s Store) error {
		var err error
		n, err = s.ResetAccounts(ctx, Today(today))
		return err
	})
	if err != nil {
		return 0, wrapStore("reset accounts", err)
	}

	m.log.WithField("accounts", n).WithField("last_reset", Today(today).Format(DateLayout)).
		Info("monthly counters reset")
	return n, nil
}

// Status reports the user's counters, creating the account if needed.
func (m *AccountManager) Status(ctx context.Context, userID string) (AccountStatus, error) {
	acct, err := m.GetOrCreate(ctx, userID)
	if err != nil {
		return AccountStatus{}, err
	}
	return AccountStatus{
		UserID:                   acct.UserID,
		Earned:                   acct.MonthlyCoinEarned,
		Redeemed:                 acct.MonthlyCoinRedeemed,
		RemainingRedeemableCoins: acct.RemainingRedeemable(m.cfg.MaxMonthlyCoins),
		DollarValueRedeemed:      m.cfg.CoinsToUSD(acct.MonthlyCoinRedeemed),
	}, nil
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	return nil
}
