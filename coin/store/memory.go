// Package store provides an in-memory coin.TxStore.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/flipfactory/coin-ledger/coin"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps accounts and redemptions in maps. Every method and every
// WithTx call holds one mutex, so transactions are fully serialized.
type Memory struct {
	mu          sync.Mutex
	accounts    map[string]coin.Account
	redemptions []coin.RedemptionRequest // redemptions[i].ID == i+1
}

var _ coin.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{accounts: make(map[string]coin.Account)}
}

func (m *Memory) EnsureAccount(_ context.Context, userID string, today time.Time) (coin.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureAccountLocked(userID, today), nil
}

func (m *Memory) SaveAccount(_ context.Context, acct coin.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAccountLocked(acct)
}

func (m *Memory) ResetAccounts(_ context.Context, today time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetAccountsLocked(today), nil
}

func (m *Memory) InsertRedemption(_ context.Context, r coin.RedemptionRequest) (coin.RedemptionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertRedemptionLocked(r), nil
}

func (m *Memory) GetRedemption(_ context.Context, id coin.RedemptionID) (*coin.RedemptionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getRedemptionLocked(id), nil
}

func (m *Memory) SetRedemptionStatus(_ context.Context, id coin.RedemptionID, status coin.RedemptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setRedemptionStatusLocked(id, status)
}

func (m *Memory) ExpirePending(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expirePendingLocked(cutoff), nil
}

func (m *Memory) ListRedemptions(_ context.Context, filter coin.RedemptionFilter) ([]coin.RedemptionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listRedemptionsLocked(filter), nil
}

// =============================================================================
// LOCKED HELPERS
// =============================================================================

func (m *Memory) ensureAccountLocked(userID string, today time.Time) coin.Account {
	if acct, ok := m.accounts[userID]; ok {
		return acct
	}
	acct := coin.Account{UserID: userID, LastReset: coin.Today(today)}
	m.accounts[userID] = acct
	return acct
}

func (m *Memory) saveAccountLocked(acct coin.Account) error {
	if _, ok := m.accounts[acct.UserID]; !ok {
		return errAccountMissing(acct.UserID)
	}
	m.accounts[acct.UserID] = acct
	return nil
}

func (m *Memory) resetAccountsLocked(today time.Time) int {
	for id, acct := range m.accounts {
		acct.MonthlyCoinEarned = 0
		acct.MonthlyCoinRedeemed = 0
		acct.LastReset = coin.Today(today)
		m.accounts[id] = acct
	}
	return len(m.accounts)
}

func (m *Memory) insertRedemptionLocked(r coin.RedemptionRequest) coin.RedemptionID {
	r.ID = coin.RedemptionID(len(m.redemptions) + 1)
	r.RequestedAt = r.RequestedAt.UTC()
	m.redemptions = append(m.redemptions, r)
	return r.ID
}

func (m *Memory) getRedemptionLocked(id coin.RedemptionID) *coin.RedemptionRequest {
	if id <= 0 || int(id) > len(m.redemptions) {
		return nil
	}
	r := m.redemptions[id-1]
	return &r
}

func (m *Memory) setRedemptionStatusLocked(id coin.RedemptionID, status coin.RedemptionStatus) error {
	if id <= 0 || int(id) > len(m.redemptions) {
		return coin.ErrRedemptionNotFound
	}
	m.redemptions[id-1].Status = status
	return nil
}

func (m *Memory) expirePendingLocked(cutoff time.Time) int {
	n := 0
	for i := range m.redemptions {
		r := &m.redemptions[i]
		if r.Status == coin.StatusPending && r.RequestedAt.Before(cutoff) {
			r.Status = coin.StatusExpired
			n++
		}
	}
	return n
}

func (m *Memory) listRedemptionsLocked(filter coin.RedemptionFilter) []coin.RedemptionRequest {
	var out []coin.RedemptionRequest
	for _, r := range m.redemptions {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(coin.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts    map[string]coin.Account
	redemptions []coin.RedemptionRequest
}

func (m *Memory) snapshot() memorySnapshot {
	accounts := make(map[string]coin.Account, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	return memorySnapshot{
		accounts:    accounts,
		redemptions: append([]coin.RedemptionRequest(nil), m.redemptions...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.redemptions = s.redemptions
}

// txView runs against the parent while WithTx holds its lock.
type txView struct {
	parent *Memory
}

func (tv *txView) EnsureAccount(_ context.Context, userID string, today time.Time) (coin.Account, error) {
	return tv.parent.ensureAccountLocked(userID, today), nil
}

func (tv *txView) SaveAccount(_ context.Context, acct coin.Account) error {
	return tv.parent.saveAccountLocked(acct)
}

func (tv *txView) ResetAccounts(_ context.Context, today time.Time) (int, error) {
	return tv.parent.resetAccountsLocked(today), nil
}

func (tv *txView) InsertRedemption(_ context.Context, r coin.RedemptionRequest) (coin.RedemptionID, error) {
	return tv.parent.insertRedemptionLocked(r), nil
}

func (tv *txView) GetRedemption(_ context.Context, id coin.RedemptionID) (*coin.RedemptionRequest, error) {
	return tv.parent.getRedemptionLocked(id), nil
}

func (tv *txView) SetRedemptionStatus(_ context.Context, id coin.RedemptionID, status coin.RedemptionStatus) error {
	return tv.parent.setRedemptionStatusLocked(id, status)
}

func (tv *txView) ExpirePending(_ context.Context, cutoff time.Time) (int, error) {
	return tv.parent.expirePendingLocked(cutoff), nil
}

func (tv *txView) ListRedemptions(_ context.Context, filter coin.RedemptionFilter) ([]coin.RedemptionRequest, error) {
	return tv.parent.listRedemptionsLocked(filter), nil
}

type errAccountMissing string

func (e errAccountMissing) Error() string {
	return "account not found: " + string(e)
}
