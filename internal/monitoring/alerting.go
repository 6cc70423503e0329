package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsledger/treasury-infra/internal/domain"
)

// Thresholds holds the three ascending severity cutoffs for one metric. A
// sample at or above Critical raises critical, then Error, then Warning; the
// highest crossed level wins, so one sample yields at most one alert per tick.
type Thresholds struct {
	Warning  float64 `yaml:"warning"`
	Error    float64 `yaml:"error"`
	Critical float64 `yaml:"critical"`
	// Source names the alert origin, e.g. "system.cpu" for the "cpu" metric.
	Source string `yaml:"source"`
}

// AlertHandler reacts to a stored alert inside the raising call stack.
type AlertHandler func(ctx context.Context, alert domain.Alert)

// AlertEngine evaluates metric thresholds on a timer and retains raised alerts
// in a bounded ring. Identical (source,title) pairs inside the dedup window are
// suppressed to keep an oscillating metric from producing an alert storm.
type AlertEngine struct {
	collector    *Collector
	logger       *slog.Logger
	capacity     int
	dedupWindow  time.Duration
	evalInterval time.Duration
	nowFn        func() time.Time

	mu         sync.Mutex
	thresholds map[string]Thresholds
	alerts     []domain.Alert // ring: head indexes the oldest entry
	head       int
	size       int
	handlers   []AlertHandler
}

type AlertEngineOptions struct {
	Collector    *Collector
	Logger       *slog.Logger
	Capacity     int
	DedupWindow  time.Duration
	EvalInterval time.Duration
}

func NewAlertEngine(opts AlertEngineOptions) *AlertEngine {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = 1000
	}
	dedup := opts.DedupWindow
	if dedup <= 0 {
		dedup = 5 * time.Minute
	}
	interval := opts.EvalInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertEngine{
		collector:    opts.Collector,
		logger:       logger,
		capacity:     capacity,
		dedupWindow:  dedup,
		evalInterval: interval,
		nowFn:        func() time.Time { return time.Now().UTC() },
		thresholds:   make(map[string]Thresholds),
	}
}

// SetThreshold registers the rule for one metric. Thresholds must ascend
// strictly; rejecting here keeps a misconfigured rule from ever evaluating.
func (e *AlertEngine) SetThreshold(metric string, t Thresholds) error {
	if metric == "" {
		return fmt.Errorf("%w: empty metric name", domain.ErrInvalidInput)
	}
	if !(t.Warning < t.Error && t.Error < t.Critical) {
		return fmt.Errorf("%w: %s thresholds must ascend warning<error<critical (%.2f, %.2f, %.2f)",
			domain.ErrInvalidThreshold, metric, t.Warning, t.Error, t.Critical)
	}
	if t.Source == "" {
		t.Source = "metric." + metric
	}
	e.mu.Lock()
	e.thresholds[metric] = t
	e.mu.Unlock()
	return nil
}

// OnAlert registers a synchronous alert handler. Handlers run inside
// CreateAlert with the same per-handler isolation as bus dispatch.
func (e *AlertEngine) OnAlert(handler AlertHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	e.handlers = append(e.handlers, handler)
	e.mu.Unlock()
}

// Run evaluates thresholds on a timer until context cancellation.
func (e *AlertEngine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.evalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.EvaluateOnce(ctx)
		}
	}
}

// EvaluateOnce compares each rule's latest sample against its thresholds and
// raises the highest crossed level. Returns the number of alerts stored.
func (e *AlertEngine) EvaluateOnce(ctx context.Context) int {
	e.mu.Lock()
	rules := make(map[string]Thresholds, len(e.thresholds))
	for metric, t := range e.thresholds {
		rules[metric] = t
	}
	e.mu.Unlock()

	raised := 0
	for metric, t := range rules {
		sample, ok := e.collector.Latest(metric)
		if !ok {
			continue
		}
		var level domain.AlertLevel
		switch {
		case sample.Value >= t.Critical:
			level = domain.AlertCritical
		case sample.Value >= t.Error:
			level = domain.AlertError
		case sample.Value >= t.Warning:
			level = domain.AlertWarning
		default:
			continue
		}
		_, stored := e.CreateAlert(ctx, level,
			fmt.Sprintf("%s threshold exceeded", metric),
			fmt.Sprintf("%s is %.2f (warning %.2f, error %.2f, critical %.2f)",
				metric, sample.Value, t.Warning, t.Error, t.Critical),
			t.Source,
			map[string]string{"metric": metric, "value": fmt.Sprintf("%.2f", sample.Value)},
		)
		if stored {
			raised++
		}
	}
	return raised
}

// CreateAlert stores and dispatches an alert unless an identical (source,title)
// pair was stored inside the trailing dedup window. The bool reports whether
// the alert was stored or suppressed.
func (e *AlertEngine) CreateAlert(ctx context.Context, level domain.AlertLevel, title, message, source string, metadata map[string]string) (domain.Alert, bool) {
	if err := domain.ValidateAlertLevel(level); err != nil {
		level = domain.AlertInfo
	}
	now := e.nowFn()
	alert := domain.Alert{
		ID:        uuid.NewString(),
		Title:     title,
		Message:   message,
		Level:     level,
		Source:    source,
		Metadata:  metadata,
		Timestamp: now,
	}

	e.mu.Lock()
	cutoff := now.Add(-e.dedupWindow)
	for i := 0; i < e.size; i++ {
		prior := e.alerts[(e.head+i)%len(e.alerts)]
		if prior.Source == source && prior.Title == title && prior.Timestamp.After(cutoff) {
			e.mu.Unlock()
			return prior, false
		}
	}
	if len(e.alerts) < e.capacity {
		e.alerts = append(e.alerts, alert)
		e.size++
	} else {
		e.alerts[e.head] = alert
		e.head = (e.head + 1) % len(e.alerts)
	}
	handlers := make([]AlertHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.Unlock()

	e.logger.Log(ctx, slogLevel(level), "alert raised",
		"module", "monitoring.alert_engine",
		"layer", "adapter",
		"operation", "create_alert",
		"outcome", "success",
		"alert_id", alert.ID,
		"alert_level", level,
		"source", source,
		"title", title,
	)
	for i, handler := range handlers {
		e.invoke(ctx, alert, i, handler)
	}
	return alert, true
}

func (e *AlertEngine) invoke(ctx context.Context, alert domain.Alert, index int, handler AlertHandler) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.ErrorContext(ctx, "alert handler panicked",
				"module", "monitoring.alert_engine",
				"layer", "adapter",
				"operation", "alert_dispatch",
				"outcome", "failure",
				"alert_id", alert.ID,
				"handler_index", index,
				"panic", rec,
			)
		}
	}()
	handler(ctx, alert)
}

// Alerts returns retained alerts newest first, optionally filtered by level
// and source. limit <= 0 means no limit.
func (e *AlertEngine) Alerts(level domain.AlertLevel, source string, limit int) []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Alert, 0, e.size)
	for i := e.size - 1; i >= 0; i-- {
		alert := e.alerts[(e.head+i)%len(e.alerts)]
		if level != "" && alert.Level != level {
			continue
		}
		if source != "" && alert.Source != source {
			continue
		}
		out = append(out, alert)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func slogLevel(level domain.AlertLevel) slog.Level {
	switch level {
	case domain.AlertCritical, domain.AlertError:
		return slog.LevelError
	case domain.AlertWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
