package ports

import (
	"context"
	"time"
)

// LookupStatus is the explicit outcome of a backend read. Fallback to the local
// backend is a designed branch on LookupUnavailable, not an error-path accident.
type LookupStatus int

const (
	// LookupHit means the backend returned a live value.
	LookupHit LookupStatus = iota
	// LookupMiss means the backend answered and the key is absent or expired.
	LookupMiss
	// LookupUnavailable means the backend could not answer (timeout, refused
	// connection, decode failure on the transport). Callers fall back.
	LookupUnavailable
)

// CacheBackend is one physical cache tier. Implementations never surface transport
// errors; they report LookupUnavailable / false and let the store degrade.
type CacheBackend interface {
	// Get returns the raw serialized value and the lookup outcome.
	Get(ctx context.Context, key string) ([]byte, LookupStatus)
	// Set stores value under key for ttl. Returns false when the write did not land.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	// Delete removes key. Returns true only when an entry was actually removed.
	Delete(ctx context.Context, key string) bool
	// DeletePattern removes every key matching the glob pattern. ok is false when
	// the backend cannot perform pattern deletes (unsupported or unreachable).
	DeletePattern(ctx context.Context, pattern string) (count int, ok bool)
	// Flush drops every entry and reports how many were removed.
	Flush(ctx context.Context) (count int, ok bool)
	// Available reports whether the backend can currently serve requests.
	Available(ctx context.Context) bool
}
