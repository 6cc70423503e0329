package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/opsledger/treasury-infra/internal/adapters/cache"
	"github.com/opsledger/treasury-infra/internal/adapters/events"
	"github.com/opsledger/treasury-infra/internal/domain"
	"github.com/opsledger/treasury-infra/internal/monitoring"
)

// transactionPatterns is the fixed set of well-known shared-store key patterns
// holding transaction-derived aggregates. Composite invalidation always clears
// all of them; listing or dashboard caches can never survive a transaction write.
var transactionPatterns = []string{
	"txn:list:*",
	"txn:summary:*",
	"dashboard:*",
}

// transactionTag groups every locally tagged transaction aggregate.
const transactionTag = "transactions"

// Service is the facade business services and the admin surface consume. One
// explicitly constructed instance per process; tests build isolated instances
// with local-only dependencies.
type Service struct {
	cfg     Config
	cache   *cache.Store
	tags    *cache.TagIndex
	warmer  *cache.Warmer
	bus     *events.Bus
	metrics *monitoring.Collector
	alerts  *monitoring.AlertEngine
	logger  *slog.Logger
}

type Config struct {
	// Source identifies this process in published events and raised alerts.
	Source string
}

type Dependencies struct {
	Config  Config
	Cache   *cache.Store
	Tags    *cache.TagIndex
	Warmer  *cache.Warmer
	Bus     *events.Bus
	Metrics *monitoring.Collector
	Alerts  *monitoring.AlertEngine
	Logger  *slog.Logger
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.Source == "" {
		cfg.Source = "treasury-infra"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		cache:   deps.Cache,
		tags:    deps.Tags,
		warmer:  deps.Warmer,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		alerts:  deps.Alerts,
		logger:  logger,
	}
}

// CacheGet decodes the cached value for key into dest.
func (s *Service) CacheGet(ctx context.Context, key string, dest any) bool {
	return s.cache.Get(ctx, key, dest)
}

// CacheSet stores value under key, optionally tagging it for bulk invalidation.
// A false return means "proceed uncached"; tagging is skipped so the index
// never references a key that was not stored.
func (s *Service) CacheSet(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) bool {
	if !s.cache.Set(ctx, key, value, ttl) {
		return false
	}
	if len(tags) > 0 {
		if err := s.tags.Tag(key, tags...); err != nil {
			s.logger.WarnContext(ctx, "cache set stored but tagging rejected",
				"module", "application.service",
				"operation", "cache_set",
				"outcome", "degraded",
				"key", key,
				"error", err,
			)
		}
	}
	return true
}

// CacheDelete removes key from the store and the tag index.
func (s *Service) CacheDelete(ctx context.Context, key string) {
	s.tags.InvalidateKey(ctx, key)
}

// TagKey applies tags to an already cached key.
func (s *Service) TagKey(key string, tags ...string) error {
	return s.tags.Tag(key, tags...)
}

// InvalidateByTag clears every key under tag and reports the count.
func (s *Service) InvalidateByTag(ctx context.Context, tag string) int {
	return s.tags.InvalidateByTag(ctx, tag)
}

// InvalidateByTags clears several tags at once.
func (s *Service) InvalidateByTags(ctx context.Context, tags []string) int {
	return s.tags.InvalidateByTags(ctx, tags)
}

// InvalidateTransactionCache clears the well-known transaction aggregate
// patterns plus the transaction tag, then announces the invalidation on the
// bus. When id is given the per-transaction keyspace is cleared too. The cache
// mutation and the publish are independent steps: a crash between them leaves
// the cache correct with the event unpublished.
func (s *Service) InvalidateTransactionCache(ctx context.Context, id string) int {
	patterns := transactionPatterns
	if id != "" {
		patterns = append(append([]string(nil), transactionPatterns...), "txn:"+id+":*")
	}

	total := 0
	for _, pattern := range patterns {
		count := s.cache.InvalidatePattern(ctx, pattern)
		total += count
		_, _ = s.bus.Publish(ctx, domain.EventCacheInvalidated, map[string]any{
			"pattern":    pattern,
			"keys_count": count,
		}, s.cfg.Source, nil)
	}
	if tagged := s.tags.InvalidateByTag(ctx, transactionTag); tagged > 0 {
		total += tagged
		_, _ = s.bus.Publish(ctx, domain.EventCacheInvalidated, map[string]any{
			"tag":        transactionTag,
			"keys_count": tagged,
		}, s.cfg.Source, nil)
	}

	s.metrics.Record("cache.invalidations", float64(total), map[string]string{"scope": "transactions"})
	return total
}

// PublishEvent forwards to the bus with the service source.
func (s *Service) PublishEvent(ctx context.Context, eventType domain.EventType, data map[string]any) (string, error) {
	return s.bus.Publish(ctx, eventType, data, s.cfg.Source, nil)
}

// RecordMetric forwards to the collector.
func (s *Service) RecordMetric(name string, value float64, tags map[string]string) {
	s.metrics.Record(name, value, tags)
}

// RaiseAlert creates an alert through the engine, subject to deduplication.
func (s *Service) RaiseAlert(ctx context.Context, level domain.AlertLevel, title, message string, metadata map[string]string) (domain.Alert, bool) {
	return s.alerts.CreateAlert(ctx, level, title, message, s.cfg.Source, metadata)
}

// RegisterWarmingStrategy adds a named warming strategy.
func (s *Service) RegisterWarmingStrategy(strategy cache.WarmingStrategy) error {
	return s.warmer.Register(strategy)
}

// WarmCache runs one named warming pass.
func (s *Service) WarmCache(ctx context.Context, name string) (cache.WarmResult, error) {
	return s.warmer.Warm(ctx, name)
}

// WarmingStrategies lists registered strategy names.
func (s *Service) WarmingStrategies() []string {
	return s.warmer.Strategies()
}
