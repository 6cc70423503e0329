package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// cacheKeyFor derives a deterministic cache key from a prefix and the
// computation's arguments. Arguments are canonicalized through JSON (maps
// marshal with sorted keys), so identical logical inputs always map to the
// same key without any runtime introspection.
func cacheKeyFor(prefix string, args any) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("normalize cache key args: %w", err)
	}
	sum := sha256.Sum256(raw)
	return prefix + ":" + hex.EncodeToString(sum[:16]), nil
}

// CachedJSON wraps an expensive computation with cache-and-tag semantics: on a
// hit the serialized result comes straight from the cache; on a miss compute
// runs once, its result is stored under the derived key with the given tags,
// and the serialized form is returned. A failed set degrades to "computed but
// uncached"; only argument normalization or compute itself can fail the call.
func (s *Service) CachedJSON(ctx context.Context, prefix string, args any, ttl time.Duration, tags []string, compute func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	key, err := cacheKeyFor(prefix, args)
	if err != nil {
		return nil, err
	}

	if raw, ok := s.cache.GetRaw(ctx, key); ok {
		return raw, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode computed value: %w", err)
	}
	if s.CacheSet(ctx, key, value, ttl, tags...) {
		return raw, nil
	}
	s.logger.WarnContext(ctx, "computed value could not be cached",
		"module", "application.service",
		"operation", "cached_json",
		"outcome", "degraded",
		"key", key,
	)
	return raw, nil
}
