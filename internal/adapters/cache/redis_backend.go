package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsledger/treasury-infra/internal/ports"
)

// Connect builds a Redis client from either a redis:// URL or a bare host:port.
// Timeouts bound every command so an unreachable store degrades to fallback
// instead of stalling request workers.
func Connect(_ context.Context, redisURL string, dialTimeout, opTimeout time.Duration) (*redis.Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	if opTimeout <= 0 {
		opTimeout = time.Second
	}
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		opt.DialTimeout = dialTimeout
		opt.ReadTimeout = opTimeout
		opt.WriteTimeout = opTimeout
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         redisURL,
		DialTimeout:  dialTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	}), nil
}

// RedisBackend is the shared external cache tier. Every entry lives under a
// keyspace prefix so Flush and pattern deletes never touch unrelated data on a
// shared Redis deployment.
type RedisBackend struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisBackend(client *redis.Client, prefix string, logger *slog.Logger) *RedisBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "cache:"
	}
	return &RedisBackend{client: client, prefix: prefix, logger: logger}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, ports.LookupStatus) {
	raw, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ports.LookupMiss
		}
		b.warn(ctx, "cache_get", key, err)
		return nil, ports.LookupUnavailable
	}
	return raw, ports.LookupHit
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if err := b.client.Set(ctx, b.prefix+key, value, ttl).Err(); err != nil {
		b.warn(ctx, "cache_set", key, err)
		return false
	}
	return true
}

func (b *RedisBackend) Delete(ctx context.Context, key string) bool {
	n, err := b.client.Del(ctx, b.prefix+key).Result()
	if err != nil {
		b.warn(ctx, "cache_delete", key, err)
		return false
	}
	return n > 0
}

// DeletePattern scans the prefixed keyspace and deletes matches in batches.
// SCAN keeps the operation incremental on large keyspaces where KEYS would
// block the server.
func (b *RedisBackend) DeletePattern(ctx context.Context, pattern string) (int, bool) {
	iter := b.client.Scan(ctx, 0, b.prefix+pattern, 200).Iterator()
	deleted := 0
	batch := make([]string, 0, 200)
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		n, err := b.client.Del(ctx, batch...).Result()
		if err != nil {
			b.warn(ctx, "cache_delete_pattern", pattern, err)
			return false
		}
		deleted += int(n)
		batch = batch[:0]
		return true
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) && !flush() {
			return deleted, false
		}
	}
	if err := iter.Err(); err != nil {
		b.warn(ctx, "cache_delete_pattern", pattern, err)
		return deleted, false
	}
	if !flush() {
		return deleted, false
	}
	return deleted, true
}

func (b *RedisBackend) Flush(ctx context.Context) (int, bool) {
	return b.DeletePattern(ctx, "*")
}

func (b *RedisBackend) Available(ctx context.Context) bool {
	return b.client.Ping(ctx).Err() == nil
}

func (b *RedisBackend) warn(ctx context.Context, operation, subject string, err error) {
	b.logger.WarnContext(ctx, "redis cache backend degraded",
		"module", "cache.redis_backend",
		"layer", "adapter",
		"operation", operation,
		"outcome", "failure",
		"subject", subject,
		"error", err,
	)
}
