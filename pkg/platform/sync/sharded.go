package sync

import (
	"context"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used by NewShardedMutex.
const DefaultShards = 64

// ShardedMutex locks per key by hashing keys onto a fixed set of shards.
// Distinct keys may share a shard; the same key always maps to the same one.
// Each shard is a one-slot channel so a waiter can give up when its context
// ends.
type ShardedMutex struct {
	shards []chan struct{}
}

func NewShardedMutex() *ShardedMutex {
	return NewShardedMutexN(DefaultShards)
}

// NewShardedMutexN creates a mutex with n shards. n below 1 is treated as 1.
func NewShardedMutexN(n int) *ShardedMutex {
	if n < 1 {
		n = 1
	}
	m := &ShardedMutex{shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock blocks until the shard for key is held.
func (m *ShardedMutex) Lock(key string) {
	m.shards[m.shardFor(key)] <- struct{}{}
}

// LockContext acquires the shard for key, or returns ctx.Err() if ctx ends
// first. The lock is not held when an error is returned.
func (m *ShardedMutex) LockContext(ctx context.Context, key string) error {
	select {
	case m.shards[m.shardFor(key)] <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the shard for key. Unlocking a shard that is not held
// panics, as with sync.Mutex.
func (m *ShardedMutex) Unlock(key string) {
	select {
	case <-m.shards[m.shardFor(key)]:
	default:
		panic("sync: unlock of unlocked shard")
	}
}

func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(len(m.shards)))
}
