package events

import (
	"context"
	"testing"
	"time"

	"github.com/opsledger/treasury-infra/internal/domain"
)

func appendEvent(t *testing.T, log *LocalLog, eventType domain.EventType, data map[string]any) string {
	t.Helper()
	id, err := log.Append(context.Background(), domain.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    "test",
		Data:      data,
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	return id
}

func TestAppendOrderAndHistory(t *testing.T) {
	t.Parallel()

	log := NewLocalLog(100)
	ctx := context.Background()

	first := appendEvent(t, log, domain.EventTransactionCreated, map[string]any{"n": 1})
	second := appendEvent(t, log, domain.EventTransactionUpdated, map[string]any{"n": 2})
	third := appendEvent(t, log, domain.EventTransactionDeleted, map[string]any{"n": 3})

	history, err := log.History(ctx, 2)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	if history[0].ID != third || history[1].ID != second {
		t.Fatalf("history must be reverse-chronological, got %s then %s", history[0].ID, history[1].ID)
	}
	_ = first
}

func TestRetentionTrimsOldest(t *testing.T) {
	t.Parallel()

	log := NewLocalLog(3)
	for i := 0; i < 5; i++ {
		appendEvent(t, log, domain.EventSystemHealth, map[string]any{"i": i})
	}

	history, _ := log.History(context.Background(), 10)
	if len(history) != 3 {
		t.Fatalf("expected retention of 3, got %d", len(history))
	}
	if history[len(history)-1].Data["i"].(int) != 2 {
		t.Fatalf("oldest retained event should be i=2, got %v", history[len(history)-1].Data["i"])
	}
}

func TestConsumeAckRedelivery(t *testing.T) {
	t.Parallel()

	log := NewLocalLog(100)
	ctx := context.Background()

	id := appendEvent(t, log, domain.EventTransactionCreated, nil)

	delivered, err := log.ReadGroup(ctx, "g", "c1", 10, 0)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(delivered) != 1 || delivered[0].ID != id {
		t.Fatalf("expected one delivery of %s, got %v", id, delivered)
	}

	// Not acknowledged: a later consume must redeliver.
	redelivered, err := log.ReadGroup(ctx, "g", "c1", 10, 0)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(redelivered) != 1 || redelivered[0].ID != id {
		t.Fatalf("unacked event must redeliver, got %v", redelivered)
	}

	if n, err := log.Ack(ctx, "g", id); err != nil || n != 1 {
		t.Fatalf("ack failed: n=%d err=%v", n, err)
	}

	after, err := log.ReadGroup(ctx, "g", "c1", 10, 0)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("acked event must never redeliver, got %v", after)
	}
}

func TestGroupsHaveIndependentCursors(t *testing.T) {
	t.Parallel()

	log := NewLocalLog(100)
	ctx := context.Background()

	id := appendEvent(t, log, domain.EventReportGenerated, nil)

	a, _ := log.ReadGroup(ctx, "groupA", "c", 10, 0)
	if len(a) != 1 {
		t.Fatalf("groupA should see the event")
	}
	_, _ = log.Ack(ctx, "groupA", id)

	b, _ := log.ReadGroup(ctx, "groupB", "c", 10, 0)
	if len(b) != 1 || b[0].ID != id {
		t.Fatalf("groupB must have its own cursor, got %v", b)
	}
}

func TestBlockTimeoutReturnsEmpty(t *testing.T) {
	t.Parallel()

	log := NewLocalLog(100)
	ctx := context.Background()

	start := time.Now()
	events, err := log.ReadGroup(ctx, "g", "c", 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected empty read on timeout, got %v", events)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("read returned before the block timeout")
	}
}

func TestBlockedReadWakesOnAppend(t *testing.T) {
	t.Parallel()

	log := NewLocalLog(100)
	ctx := context.Background()

	done := make(chan []domain.Event, 1)
	go func() {
		events, _ := log.ReadGroup(ctx, "g", "c", 10, 2*time.Second)
		done <- events
	}()

	time.Sleep(20 * time.Millisecond)
	appendEvent(t, log, domain.EventSystemHealth, nil)

	select {
	case events := <-done:
		if len(events) != 1 {
			t.Fatalf("expected the appended event, got %v", events)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked read did not wake on append")
	}
}

func TestAckUnknownGroup(t *testing.T) {
	t.Parallel()

	log := NewLocalLog(100)
	if _, err := log.Ack(context.Background(), "ghost", "1"); err == nil {
		t.Fatalf("ack on unknown group should fail")
	}
}
