package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/opsledger/treasury-infra/internal/ports"
)

const localShardCount = 16

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

type localShard struct {
	mu      sync.Mutex
	entries map[string]localEntry
}

// LocalBackend is the process-local fallback tier: a sharded TTL map with lazy
// expiry on access. It never fails; the worst outcome of any call is a miss.
// Sharding keeps lock contention low under a full web-server worker pool.
type LocalBackend struct {
	shards [localShardCount]*localShard
	nowFn  func() time.Time
}

func NewLocalBackend() *LocalBackend {
	b := &LocalBackend{nowFn: time.Now}
	for i := range b.shards {
		b.shards[i] = &localShard{entries: make(map[string]localEntry)}
	}
	return b
}

func (b *LocalBackend) shard(key string) *localShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return b.shards[h.Sum32()%localShardCount]
}

func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, ports.LookupStatus) {
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ports.LookupMiss
	}
	if !entry.expiresAt.IsZero() && b.nowFn().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, ports.LookupMiss
	}
	return entry.value, ports.LookupHit
}

func (b *LocalBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) bool {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = b.nowFn().Add(ttl)
	}
	s := b.shard(key)
	s.mu.Lock()
	s.entries[key] = localEntry{value: value, expiresAt: expiresAt}
	s.mu.Unlock()
	return true
}

func (b *LocalBackend) Delete(_ context.Context, key string) bool {
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

// DeletePattern is deliberately unsupported on the fallback tier: pattern
// invalidation is best-effort against the shared store only.
func (b *LocalBackend) DeletePattern(context.Context, string) (int, bool) {
	return 0, false
}

func (b *LocalBackend) Flush(context.Context) (int, bool) {
	total := 0
	for _, s := range b.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.entries = make(map[string]localEntry)
		s.mu.Unlock()
	}
	return total, true
}

func (b *LocalBackend) Available(context.Context) bool {
	return true
}

// Len reports the number of retained entries, counting expired-but-unswept ones.
func (b *LocalBackend) Len() int {
	total := 0
	for _, s := range b.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}
