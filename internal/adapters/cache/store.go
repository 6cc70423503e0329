package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opsledger/treasury-infra/internal/ports"
)

// Stats is the counter snapshot exposed on the admin surface.
type Stats struct {
	Hits                 uint64  `json:"hits"`
	Misses               uint64  `json:"misses"`
	Sets                 uint64  `json:"sets"`
	Deletes              uint64  `json:"deletes"`
	FallbackHits         uint64  `json:"fallback_hits"`
	FallbackSets         uint64  `json:"fallback_sets"`
	PatternInvalidations uint64  `json:"pattern_invalidations"`
	HitRate              float64 `json:"hit_rate"`
	SharedAvailable      bool    `json:"shared_available"`
}

// Store is the tiered cache: a shared external backend tried first, a local
// fallback behind it. Callers never see backend failures; every degraded path
// resolves to a miss, a false set, or a shorter-lived local hit.
type Store struct {
	shared     ports.CacheBackend // nil when the external store is disabled
	local      ports.CacheBackend
	defaultTTL time.Duration
	// Local fallback writes are capped so entries stranded by a Redis outage
	// do not outlive the shared copy they stand in for.
	fallbackTTLCap time.Duration
	logger         *slog.Logger

	hits         atomic.Uint64
	misses       atomic.Uint64
	sets         atomic.Uint64
	deletes      atomic.Uint64
	fallbackHits atomic.Uint64
	fallbackSets atomic.Uint64
	patternInv   atomic.Uint64
}

type StoreOptions struct {
	Shared         ports.CacheBackend
	Local          ports.CacheBackend
	DefaultTTL     time.Duration
	FallbackTTLCap time.Duration
	Logger         *slog.Logger
}

func NewStore(opts StoreOptions) *Store {
	local := opts.Local
	if local == nil {
		local = NewLocalBackend()
	}
	defaultTTL := opts.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	fallbackCap := opts.FallbackTTLCap
	if fallbackCap <= 0 {
		fallbackCap = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		shared:         opts.Shared,
		local:          local,
		defaultTTL:     defaultTTL,
		fallbackTTLCap: fallbackCap,
		logger:         logger,
	}
}

// GetRaw returns the serialized value for key. A shared-store miss is final;
// the local tier answers only when the shared tier is absent or unavailable.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, bool) {
	if s.shared != nil {
		raw, status := s.shared.Get(ctx, key)
		switch status {
		case ports.LookupHit:
			s.hits.Add(1)
			return raw, true
		case ports.LookupMiss:
			s.misses.Add(1)
			return nil, false
		}
		// LookupUnavailable: fall through to the local tier.
	}

	raw, status := s.local.Get(ctx, key)
	if status == ports.LookupHit {
		s.hits.Add(1)
		if s.shared != nil {
			s.fallbackHits.Add(1)
		}
		return raw, true
	}
	s.misses.Add(1)
	return nil, false
}

// Get unmarshals the cached value into dest. Decode failures count as misses;
// a poisoned entry must never break a read path.
func (s *Store) Get(ctx context.Context, key string, dest any) bool {
	raw, ok := s.GetRaw(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.logger.WarnContext(ctx, "cache entry failed to decode, treating as miss",
			"module", "cache.store",
			"layer", "adapter",
			"operation", "cache_get",
			"outcome", "failure",
			"key", key,
			"error", err,
		)
		s.hits.Add(^uint64(0)) // undo the hit counted by GetRaw
		s.misses.Add(1)
		return false
	}
	return true
}

// Set serializes value and writes it through. Returns false only when nothing
// was stored anywhere; callers treat that as "proceed uncached".
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.WarnContext(ctx, "cache value failed to encode, set skipped",
			"module", "cache.store",
			"layer", "adapter",
			"operation", "cache_set",
			"outcome", "failure",
			"key", key,
			"error", err,
		)
		return false
	}

	if s.shared != nil && s.shared.Set(ctx, key, raw, ttl) {
		s.sets.Add(1)
		return true
	}

	localTTL := ttl
	if s.shared != nil && localTTL > s.fallbackTTLCap {
		localTTL = s.fallbackTTLCap
	}
	if s.local.Set(ctx, key, raw, localTTL) {
		s.sets.Add(1)
		if s.shared != nil {
			s.fallbackSets.Add(1)
		}
		return true
	}
	return false
}

// Delete removes key from both tiers. True when either tier held it.
func (s *Store) Delete(ctx context.Context, key string) bool {
	removed := false
	if s.shared != nil && s.shared.Delete(ctx, key) {
		removed = true
	}
	if s.local.Delete(ctx, key) {
		removed = true
	}
	if removed {
		s.deletes.Add(1)
	}
	return removed
}

// InvalidatePattern drops shared-store keys matching the glob. Best-effort:
// with only the fallback active this is a no-op returning 0.
func (s *Store) InvalidatePattern(ctx context.Context, pattern string) int {
	if s.shared == nil {
		return 0
	}
	count, ok := s.shared.DeletePattern(ctx, pattern)
	if !ok {
		s.logger.WarnContext(ctx, "pattern invalidation incomplete",
			"module", "cache.store",
			"layer", "adapter",
			"operation", "cache_invalidate_pattern",
			"outcome", "failure",
			"pattern", pattern,
			"deleted", count,
		)
	}
	if count > 0 {
		s.patternInv.Add(uint64(count))
	}
	return count
}

// Clear flushes both tiers and returns the number of removed entries.
func (s *Store) Clear(ctx context.Context) int {
	total := 0
	if s.shared != nil {
		n, _ := s.shared.Flush(ctx)
		total += n
	}
	n, _ := s.local.Flush(ctx)
	total += n
	return total
}

// Stats snapshots the counters and derives the hit rate.
func (s *Store) Stats(ctx context.Context) Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	stats := Stats{
		Hits:                 hits,
		Misses:               misses,
		Sets:                 s.sets.Load(),
		Deletes:              s.deletes.Load(),
		FallbackHits:         s.fallbackHits.Load(),
		FallbackSets:         s.fallbackSets.Load(),
		PatternInvalidations: s.patternInv.Load(),
		SharedAvailable:      s.shared != nil && s.shared.Available(ctx),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}
