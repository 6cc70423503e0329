package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opsledger/treasury-infra/internal/domain"
)

// WarmingStrategy names a set of keys to keep hot and how to recompute them.
// Warmed entries get a longer TTL than regular writes so they survive until the
// next warming pass.
type WarmingStrategy struct {
	Name    string
	Keys    []string
	TTL     time.Duration
	Compute func(ctx context.Context, key string) (any, error)
}

// WarmResult summarizes one warming pass.
type WarmResult struct {
	Strategy string `json:"strategy"`
	Warmed   int    `json:"warmed"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}

// Warmer is the named-strategy registry for proactive cache population.
// Warming never fails the caller: recompute errors are logged and counted.
type Warmer struct {
	store  *Store
	logger *slog.Logger

	mu         sync.RWMutex
	strategies map[string]WarmingStrategy
}

func NewWarmer(store *Store, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		store:      store,
		logger:     logger,
		strategies: make(map[string]WarmingStrategy),
	}
}

// Register validates and stores a strategy. Re-registering a name is rejected
// so two components cannot silently fight over the same strategy slot.
func (w *Warmer) Register(strategy WarmingStrategy) error {
	if strategy.Name == "" {
		return fmt.Errorf("%w: strategy name required", domain.ErrInvalidInput)
	}
	if len(strategy.Keys) == 0 {
		return fmt.Errorf("%w: strategy %q has no keys", domain.ErrInvalidInput, strategy.Name)
	}
	if strategy.Compute == nil {
		return fmt.Errorf("%w: strategy %q has no compute function", domain.ErrInvalidInput, strategy.Name)
	}
	if strategy.TTL <= 0 {
		strategy.TTL = 30 * time.Minute
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.strategies[strategy.Name]; exists {
		return fmt.Errorf("%w: %q", domain.ErrDuplicateStrategy, strategy.Name)
	}
	w.strategies[strategy.Name] = strategy
	return nil
}

// Strategies returns the registered strategy names.
func (w *Warmer) Strategies() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.strategies))
	for name := range w.strategies {
		names = append(names, name)
	}
	return names
}

// Warm probes each of the strategy's keys and recomputes the missing ones.
// Only an unknown strategy name is an error; per-key failures are swallowed
// after logging.
func (w *Warmer) Warm(ctx context.Context, name string) (WarmResult, error) {
	w.mu.RLock()
	strategy, ok := w.strategies[name]
	w.mu.RUnlock()
	if !ok {
		return WarmResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, name)
	}

	result := WarmResult{Strategy: name}
	for _, key := range strategy.Keys {
		if _, hit := w.store.GetRaw(ctx, key); hit {
			result.Skipped++
			continue
		}
		value, err := strategy.Compute(ctx, key)
		if err != nil {
			result.Failed++
			w.logger.WarnContext(ctx, "cache warming recompute failed",
				"module", "cache.warmer",
				"layer", "adapter",
				"operation", "cache_warm",
				"outcome", "failure",
				"strategy", name,
				"key", key,
				"error", err,
			)
			continue
		}
		if !w.store.Set(ctx, key, value, strategy.TTL) {
			result.Failed++
			continue
		}
		result.Warmed++
	}

	w.logger.InfoContext(ctx, "cache warming pass completed",
		"module", "cache.warmer",
		"layer", "adapter",
		"operation", "cache_warm",
		"outcome", "success",
		"strategy", name,
		"warmed", result.Warmed,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}
