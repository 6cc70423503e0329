package application

import (
	"context"
	"fmt"

	"github.com/opsledger/treasury-infra/internal/adapters/cache"
	"github.com/opsledger/treasury-infra/internal/domain"
)

// Admin read/mutate operations backing the operator surface. These stay thin:
// the components own their semantics, this layer only names the operations.

// CacheStats snapshots the store counters.
func (s *Service) CacheStats(ctx context.Context) cache.Stats {
	return s.cache.Stats(ctx)
}

// InvalidateKey drops a single key everywhere.
func (s *Service) InvalidateKey(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty cache key", domain.ErrInvalidInput)
	}
	s.tags.InvalidateKey(ctx, key)
	return nil
}

// InvalidatePattern clears shared-store keys matching the glob pattern.
func (s *Service) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, fmt.Errorf("%w: empty pattern", domain.ErrInvalidInput)
	}
	return s.cache.InvalidatePattern(ctx, pattern), nil
}

// ClearCache flushes both cache tiers and announces the wipe.
func (s *Service) ClearCache(ctx context.Context) int {
	count := s.cache.Clear(ctx)
	_, _ = s.bus.Publish(ctx, domain.EventCacheInvalidated, map[string]any{
		"pattern":    "*",
		"keys_count": count,
	}, s.cfg.Source, nil)
	return count
}

// Alerts reads retained alerts with optional level/source filters.
func (s *Service) Alerts(level domain.AlertLevel, source string, limit int) ([]domain.Alert, error) {
	if level != "" {
		if err := domain.ValidateAlertLevel(level); err != nil {
			return nil, err
		}
	}
	return s.alerts.Alerts(level, source, limit), nil
}

// MetricSummary aggregates one metric's retained samples.
func (s *Service) MetricSummary(name string) (domain.MetricSummary, error) {
	summary, ok := s.metrics.Summary(name)
	if !ok {
		return domain.MetricSummary{}, fmt.Errorf("%w: metric %q", domain.ErrNotFound, name)
	}
	return summary, nil
}

// MetricNames lists every recorded metric.
func (s *Service) MetricNames() []string {
	return s.metrics.Names()
}

// EventHistory reads the most recent events, newest first.
func (s *Service) EventHistory(ctx context.Context, limit int) []domain.Event {
	return s.bus.History(ctx, limit)
}
