package monitoring

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/opsledger/treasury-infra/internal/domain"
)

func newTestEngine(collector *Collector) *AlertEngine {
	return NewAlertEngine(AlertEngineOptions{
		Collector:   collector,
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
		DedupWindow: 5 * time.Minute,
	})
}

func TestSetThresholdValidation(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(NewCollector(10))

	if err := engine.SetThreshold("", Thresholds{Warning: 1, Error: 2, Critical: 3}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty metric should be rejected, got %v", err)
	}
	cases := []Thresholds{
		{Warning: 3, Error: 2, Critical: 1},
		{Warning: 1, Error: 1, Critical: 2},
		{Warning: 1, Error: 2, Critical: 2},
	}
	for _, bad := range cases {
		if err := engine.SetThreshold("cpu", bad); !errors.Is(err, domain.ErrInvalidThreshold) {
			t.Fatalf("non-ascending thresholds %+v should be rejected, got %v", bad, err)
		}
	}
	if err := engine.SetThreshold("cpu", Thresholds{Warning: 70, Error: 85, Critical: 95}); err != nil {
		t.Fatalf("valid thresholds rejected: %v", err)
	}
}

func TestEvaluateRaisesHighestCrossedLevel(t *testing.T) {
	t.Parallel()

	collector := NewCollector(10)
	engine := newTestEngine(collector)
	ctx := context.Background()

	if err := engine.SetThreshold("cpu", Thresholds{Warning: 70, Error: 85, Critical: 95, Source: "system.cpu"}); err != nil {
		t.Fatalf("set threshold failed: %v", err)
	}

	collector.Record("cpu", 96, nil)
	if raised := engine.EvaluateOnce(ctx); raised != 1 {
		t.Fatalf("expected exactly one alert, got %d", raised)
	}

	alerts := engine.Alerts("", "", 0)
	if len(alerts) != 1 {
		t.Fatalf("expected one retained alert, got %d", len(alerts))
	}
	alert := alerts[0]
	if alert.Level != domain.AlertCritical {
		t.Fatalf("96 with critical=95 must raise critical, got %s", alert.Level)
	}
	if alert.Source != "system.cpu" {
		t.Fatalf("expected source system.cpu, got %s", alert.Source)
	}
}

func TestEvaluateBelowWarningRaisesNothing(t *testing.T) {
	t.Parallel()

	collector := NewCollector(10)
	engine := newTestEngine(collector)

	_ = engine.SetThreshold("cpu", Thresholds{Warning: 70, Error: 85, Critical: 95})
	collector.Record("cpu", 42, nil)

	if raised := engine.EvaluateOnce(context.Background()); raised != 0 {
		t.Fatalf("value below warning must raise nothing, got %d", raised)
	}
}

func TestDedupSuppressesWithinWindow(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(NewCollector(10))
	ctx := context.Background()

	now := time.Now().UTC()
	engine.nowFn = func() time.Time { return now }

	first, stored := engine.CreateAlert(ctx, domain.AlertError, "disk full", "disk at 99%", "system.disk", nil)
	if !stored {
		t.Fatalf("first alert must be stored")
	}

	now = now.Add(time.Minute)
	dup, stored := engine.CreateAlert(ctx, domain.AlertError, "disk full", "disk at 99%", "system.disk", nil)
	if stored {
		t.Fatalf("identical alert inside the window must be suppressed")
	}
	if dup.ID != first.ID {
		t.Fatalf("suppression must return the prior alert, got %s want %s", dup.ID, first.ID)
	}

	// Different title within the window is a distinct alert.
	if _, stored := engine.CreateAlert(ctx, domain.AlertError, "disk degraded", "io errors", "system.disk", nil); !stored {
		t.Fatalf("different title must not be suppressed")
	}

	// Once the window passes, the same pair alerts again.
	now = now.Add(6 * time.Minute)
	second, stored := engine.CreateAlert(ctx, domain.AlertError, "disk full", "disk at 99%", "system.disk", nil)
	if !stored {
		t.Fatalf("alert after the window must be stored")
	}
	if second.ID == first.ID {
		t.Fatalf("post-window alert must be a new record")
	}

	if got := len(engine.Alerts("", "system.disk", 0)); got != 3 {
		t.Fatalf("expected 3 retained alerts, got %d", got)
	}
}

func TestEvaluateDedupAcrossTicks(t *testing.T) {
	t.Parallel()

	collector := NewCollector(10)
	engine := newTestEngine(collector)
	ctx := context.Background()

	_ = engine.SetThreshold("cpu", Thresholds{Warning: 70, Error: 85, Critical: 95, Source: "system.cpu"})
	collector.Record("cpu", 96, nil)

	if raised := engine.EvaluateOnce(ctx); raised != 1 {
		t.Fatalf("first tick should raise, got %d", raised)
	}
	if raised := engine.EvaluateOnce(ctx); raised != 0 {
		t.Fatalf("second tick inside the window should be suppressed, got %d", raised)
	}
	if got := len(engine.Alerts("", "system.cpu", 0)); got != 1 {
		t.Fatalf("expected exactly one retained alert, got %d", got)
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(NewCollector(10))
	ctx := context.Background()

	ran := false
	engine.OnAlert(func(context.Context, domain.Alert) { panic("boom") })
	engine.OnAlert(func(context.Context, domain.Alert) { ran = true })

	if _, stored := engine.CreateAlert(ctx, domain.AlertWarning, "t", "m", "s", nil); !stored {
		t.Fatalf("alert must store despite a handler panic")
	}
	if !ran {
		t.Fatalf("second handler must run after the first panics")
	}
}

func TestAlertsFilterAndLimit(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(NewCollector(10))
	ctx := context.Background()

	engine.CreateAlert(ctx, domain.AlertWarning, "w1", "", "a", nil)
	engine.CreateAlert(ctx, domain.AlertError, "e1", "", "a", nil)
	engine.CreateAlert(ctx, domain.AlertError, "e2", "", "b", nil)
	engine.CreateAlert(ctx, domain.AlertCritical, "c1", "", "b", nil)

	if got := engine.Alerts(domain.AlertError, "", 0); len(got) != 2 {
		t.Fatalf("expected 2 error alerts, got %d", len(got))
	}
	if got := engine.Alerts("", "b", 0); len(got) != 2 {
		t.Fatalf("expected 2 alerts from source b, got %d", len(got))
	}

	limited := engine.Alerts("", "", 2)
	if len(limited) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(limited))
	}
	// Newest first.
	if limited[0].Title != "c1" || limited[1].Title != "e2" {
		t.Fatalf("expected newest-first ordering, got %s then %s", limited[0].Title, limited[1].Title)
	}
}

func TestAlertRingEvictsOldest(t *testing.T) {
	t.Parallel()

	engine := NewAlertEngine(AlertEngineOptions{
		Collector: NewCollector(10),
		Logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Capacity:  2,
		// Short window so distinct stores are never suppressed by timestamp.
		DedupWindow: time.Nanosecond,
	})
	ctx := context.Background()

	engine.CreateAlert(ctx, domain.AlertInfo, "a", "", "s", nil)
	engine.CreateAlert(ctx, domain.AlertInfo, "b", "", "s", nil)
	engine.CreateAlert(ctx, domain.AlertInfo, "c", "", "s", nil)

	alerts := engine.Alerts("", "", 0)
	if len(alerts) != 2 {
		t.Fatalf("expected ring capacity 2, got %d", len(alerts))
	}
	if alerts[0].Title != "c" || alerts[1].Title != "b" {
		t.Fatalf("oldest alert should be evicted, got %s then %s", alerts[0].Title, alerts[1].Title)
	}
}
