package coin

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 256

// accountLocks serializes mutations of one account while letting other
// accounts proceed in parallel. ResetAll takes the global lock exclusively
// and waits for every in-flight per-account mutation to finish.
type accountLocks struct {
	global sync.RWMutex
	shards [lockShards]sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{}
}

// lock acquires the shard owning userID. The returned func releases it.
func (l *accountLocks) lock(userID string) func() {
	l.global.RLock()
	shard := &l.shards[shardOf(userID)]
	shard.Lock()
	return func() {
		shard.Unlock()
		l.global.RUnlock()
	}
}

func shardOf(userID string) uint64 {
	return xxhash.Sum64String(userID) % lockShards
}

// lockAll blocks every per-account mutation until the returned func runs.
func (l *accountLocks) lockAll() func() {
	l.global.Lock()
	return l.global.Unlock
}
