package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opsledger/treasury-infra/internal/ports"
)

// downBackend simulates a shared tier that cannot answer: every lookup reports
// unavailable and every write fails.
type downBackend struct{}

func (downBackend) Get(context.Context, string) ([]byte, ports.LookupStatus) {
	return nil, ports.LookupUnavailable
}
func (downBackend) Set(context.Context, string, []byte, time.Duration) bool { return false }
func (downBackend) Delete(context.Context, string) bool                     { return false }
func (downBackend) DeletePattern(context.Context, string) (int, bool)       { return 0, false }
func (downBackend) Flush(context.Context) (int, bool)                       { return 0, false }
func (downBackend) Available(context.Context) bool                          { return false }

// mapBackend is a reachable shared tier over a plain map, answering hit or
// miss without TTL handling.
type mapBackend struct {
	entries map[string][]byte
}

func newMapBackend() *mapBackend {
	return &mapBackend{entries: make(map[string][]byte)}
}

func (m *mapBackend) Get(_ context.Context, key string) ([]byte, ports.LookupStatus) {
	raw, ok := m.entries[key]
	if !ok {
		return nil, ports.LookupMiss
	}
	return raw, ports.LookupHit
}

func (m *mapBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) bool {
	m.entries[key] = value
	return true
}

func (m *mapBackend) Delete(_ context.Context, key string) bool {
	if _, ok := m.entries[key]; !ok {
		return false
	}
	delete(m.entries, key)
	return true
}

func (m *mapBackend) DeletePattern(context.Context, string) (int, bool) { return 0, true }

func (m *mapBackend) Flush(context.Context) (int, bool) {
	n := len(m.entries)
	m.entries = make(map[string][]byte)
	return n, true
}

func (m *mapBackend) Available(context.Context) bool { return true }

func newLocalOnlyStore() *Store {
	return NewStore(StoreOptions{DefaultTTL: time.Minute})
}

func TestSetGetDeleteLocalOnly(t *testing.T) {
	t.Parallel()

	store := newLocalOnlyStore()
	ctx := context.Background()

	if !store.Set(ctx, "x", map[string]int{"a": 1}, 60*time.Second) {
		t.Fatalf("set should succeed in local-only mode")
	}

	var got map[string]int
	if !store.Get(ctx, "x", &got) {
		t.Fatalf("get should hit after set")
	}
	if got["a"] != 1 {
		t.Fatalf("expected a=1, got %v", got)
	}

	stats := store.Stats(ctx)
	if stats.Sets != 1 || stats.Hits != 1 {
		t.Fatalf("expected 1 set and 1 hit, got sets=%d hits=%d", stats.Sets, stats.Hits)
	}

	if !store.Delete(ctx, "x") {
		t.Fatalf("delete should report removal")
	}
	if store.Get(ctx, "x", &got) {
		t.Fatalf("get after delete should miss")
	}
	if store.Delete(ctx, "x") {
		t.Fatalf("second delete should report nothing removed")
	}
}

func TestGetMissCountsAndHitRate(t *testing.T) {
	t.Parallel()

	store := newLocalOnlyStore()
	ctx := context.Background()

	var dest string
	store.Get(ctx, "absent", &dest)
	store.Set(ctx, "present", "v", time.Minute)
	store.Get(ctx, "present", &dest)

	stats := store.Stats(ctx)
	if stats.Misses != 1 || stats.Hits != 1 {
		t.Fatalf("expected 1 miss and 1 hit, got misses=%d hits=%d", stats.Misses, stats.Hits)
	}
	if stats.HitRate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %f", stats.HitRate)
	}
}

func TestSetUnserializableValueFails(t *testing.T) {
	t.Parallel()

	store := newLocalOnlyStore()
	ctx := context.Background()

	// Channels cannot be JSON-encoded; set must report failure, not panic.
	if store.Set(ctx, "bad", make(chan int), time.Minute) {
		t.Fatalf("set of unserializable value should return false")
	}
	var dest any
	if store.Get(ctx, "bad", &dest) {
		t.Fatalf("nothing should have been stored")
	}
}

func TestInvalidatePatternIsNoopWithoutSharedStore(t *testing.T) {
	t.Parallel()

	store := newLocalOnlyStore()
	ctx := context.Background()

	store.Set(ctx, "txn:1:detail", "v", time.Minute)
	if count := store.InvalidatePattern(ctx, "txn:*"); count != 0 {
		t.Fatalf("pattern invalidation must be a no-op in local-only mode, got %d", count)
	}
	var dest string
	if !store.Get(ctx, "txn:1:detail", &dest) {
		t.Fatalf("entry should survive the no-op pattern invalidation")
	}
}

func TestLocalEntriesExpireLazily(t *testing.T) {
	t.Parallel()

	local := NewLocalBackend()
	now := time.Now()
	local.nowFn = func() time.Time { return now }

	store := NewStore(StoreOptions{Local: local, DefaultTTL: time.Minute})
	ctx := context.Background()

	store.Set(ctx, "short", "v", time.Second)
	var dest string
	if !store.Get(ctx, "short", &dest) {
		t.Fatalf("entry should be live before expiry")
	}

	now = now.Add(2 * time.Second)
	if store.Get(ctx, "short", &dest) {
		t.Fatalf("expired entry should read as a miss")
	}
	if local.Len() != 0 {
		t.Fatalf("lazy expiry should have removed the entry, %d left", local.Len())
	}
}

func TestClearFlushesEverything(t *testing.T) {
	t.Parallel()

	store := newLocalOnlyStore()
	ctx := context.Background()

	store.Set(ctx, "a", 1, time.Minute)
	store.Set(ctx, "b", 2, time.Minute)

	if count := store.Clear(ctx); count != 2 {
		t.Fatalf("expected 2 cleared entries, got %d", count)
	}
	var dest int
	if store.Get(ctx, "a", &dest) || store.Get(ctx, "b", &dest) {
		t.Fatalf("entries should be gone after clear")
	}
}

func TestSharedUnavailableFallsBackToLocal(t *testing.T) {
	t.Parallel()

	local := NewLocalBackend()
	now := time.Now()
	local.nowFn = func() time.Time { return now }

	store := NewStore(StoreOptions{
		Shared:         downBackend{},
		Local:          local,
		DefaultTTL:     5 * time.Minute,
		FallbackTTLCap: time.Minute,
	})
	ctx := context.Background()

	// The shared write fails, so the entry lands in the local tier with its
	// TTL capped at the fallback limit despite the hour requested.
	if !store.Set(ctx, "k", "v", time.Hour) {
		t.Fatalf("set must succeed via the local tier when the shared tier is down")
	}

	var dest string
	if !store.Get(ctx, "k", &dest) || dest != "v" {
		t.Fatalf("get must fall back to the local tier, got %q", dest)
	}

	stats := store.Stats(ctx)
	if stats.Sets != 1 || stats.FallbackSets != 1 {
		t.Fatalf("expected 1 set and 1 fallback set, got sets=%d fallback_sets=%d", stats.Sets, stats.FallbackSets)
	}
	if stats.Hits != 1 || stats.FallbackHits != 1 {
		t.Fatalf("expected 1 hit and 1 fallback hit, got hits=%d fallback_hits=%d", stats.Hits, stats.FallbackHits)
	}
	if stats.SharedAvailable {
		t.Fatalf("stats must report the shared tier unavailable")
	}

	now = now.Add(2 * time.Minute)
	if store.Get(ctx, "k", &dest) {
		t.Fatalf("fallback entry must expire at the capped TTL, not the requested one")
	}
}

func TestSharedMissIsFinal(t *testing.T) {
	t.Parallel()

	local := NewLocalBackend()
	store := NewStore(StoreOptions{Shared: newMapBackend(), Local: local, DefaultTTL: time.Minute})
	ctx := context.Background()

	// A local entry left over from an earlier outage must not answer when the
	// shared tier is reachable and says the key is gone.
	local.Set(ctx, "stale", []byte(`"old"`), time.Minute)

	var dest string
	if store.Get(ctx, "stale", &dest) {
		t.Fatalf("a reachable shared tier's miss is final, got %q from the local tier", dest)
	}

	stats := store.Stats(ctx)
	if stats.Misses != 1 || stats.FallbackHits != 0 {
		t.Fatalf("expected 1 miss and no fallback hits, got misses=%d fallback_hits=%d", stats.Misses, stats.FallbackHits)
	}
}

func TestSharedHitSkipsLocalTier(t *testing.T) {
	t.Parallel()

	shared := newMapBackend()
	store := NewStore(StoreOptions{Shared: shared, DefaultTTL: time.Minute})
	ctx := context.Background()

	if !store.Set(ctx, "k", "v", time.Minute) {
		t.Fatalf("set against a reachable shared tier must succeed")
	}

	var dest string
	if !store.Get(ctx, "k", &dest) || dest != "v" {
		t.Fatalf("expected shared-tier hit, got %q", dest)
	}

	stats := store.Stats(ctx)
	if stats.Hits != 1 || stats.FallbackHits != 0 || stats.FallbackSets != 0 {
		t.Fatalf("shared-tier traffic must not touch the fallback counters: %+v", stats)
	}
	if !stats.SharedAvailable {
		t.Fatalf("stats must report the shared tier available")
	}
}

func TestGetDecodesIntoStruct(t *testing.T) {
	t.Parallel()

	type summary struct {
		Total    int    `json:"total"`
		Currency string `json:"currency"`
	}

	store := newLocalOnlyStore()
	ctx := context.Background()

	store.Set(ctx, "txn:summary:2026-08", summary{Total: 42, Currency: "EUR"}, time.Minute)

	var got summary
	if !store.Get(ctx, "txn:summary:2026-08", &got) {
		t.Fatalf("expected hit")
	}
	if got.Total != 42 || got.Currency != "EUR" {
		t.Fatalf("decoded value mismatch: %+v", got)
	}
}
