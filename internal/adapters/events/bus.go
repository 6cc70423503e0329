package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsledger/treasury-infra/internal/domain"
	"github.com/opsledger/treasury-infra/internal/ports"
)

// Handler reacts to an event inside the publishing call stack.
type Handler func(ctx context.Context, event domain.Event) error

// Bus is the append-only event bus. Publish appends to the durable log and then
// synchronously invokes in-process subscribers in registration order, so all
// local reactions complete before the publishing call returns. Pull-based
// consumer groups read the same log independently.
type Bus struct {
	log       ports.EventLog
	forwarder ports.EventForwarder // nil when mirroring is disabled
	logger    *slog.Logger
	nowFn     func() time.Time

	mu       sync.RWMutex
	handlers map[domain.EventType][]Handler
}

type BusOptions struct {
	Log       ports.EventLog
	Forwarder ports.EventForwarder
	Logger    *slog.Logger
}

func NewBus(opts BusOptions) *Bus {
	log := opts.Log
	if log == nil {
		log = NewLocalLog(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		log:       log,
		forwarder: opts.Forwarder,
		logger:    logger,
		nowFn:     func() time.Time { return time.Now().UTC() },
		handlers:  make(map[domain.EventType][]Handler),
	}
}

// Subscribe registers a handler for the given event types. Types are validated
// here so a typoed kind fails at wiring time, not silently at dispatch.
func (b *Bus) Subscribe(types []domain.EventType, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil handler", domain.ErrInvalidInput)
	}
	if len(types) == 0 {
		return fmt.Errorf("%w: no event types", domain.ErrInvalidInput)
	}
	for _, t := range types {
		if err := domain.ValidateEventType(t); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.handlers[t] = append(b.handlers[t], handler)
	}
	return nil
}

// Publish appends the event and dispatches local handlers before returning.
// A failed append degrades to notifications-only: handlers still run and a
// locally generated id comes back, with a warning logged. Only an invalid
// event type is an error.
func (b *Bus) Publish(ctx context.Context, eventType domain.EventType, data map[string]any, source string, metadata map[string]string) (string, error) {
	if err := domain.ValidateEventType(eventType); err != nil {
		return "", err
	}
	event := domain.Event{
		Type:      eventType,
		Timestamp: b.nowFn(),
		Source:    source,
		Data:      data,
		Metadata:  metadata,
	}

	id, err := b.log.Append(ctx, event)
	if err != nil {
		id = uuid.NewString()
		b.logger.WarnContext(ctx, "event log unavailable, delivering to local handlers only",
			"module", "events.bus",
			"layer", "adapter",
			"operation", "event_publish",
			"outcome", "degraded",
			"event_type", eventType,
			"event_id", id,
			"error", err,
		)
	}
	event.ID = id

	if b.forwarder != nil && err == nil {
		if fwdErr := b.forwarder.Forward(ctx, event); fwdErr != nil {
			b.logger.WarnContext(ctx, "event forward failed",
				"module", "events.bus",
				"layer", "adapter",
				"operation", "event_forward",
				"outcome", "failure",
				"event_type", eventType,
				"event_id", id,
				"error", fwdErr,
			)
		}
	}

	b.dispatch(ctx, event)
	return id, nil
}

// dispatch runs handlers in registration order. Each handler is isolated: a
// panic or error is logged and the remaining handlers still run.
func (b *Bus) dispatch(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for i, handler := range handlers {
		b.invoke(ctx, event, i, handler)
	}
}

func (b *Bus) invoke(ctx context.Context, event domain.Event, index int, handler Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.ErrorContext(ctx, "event handler panicked",
				"module", "events.bus",
				"layer", "adapter",
				"operation", "event_dispatch",
				"outcome", "failure",
				"event_type", event.Type,
				"event_id", event.ID,
				"handler_index", index,
				"panic", rec,
			)
		}
	}()
	if err := handler(ctx, event); err != nil {
		b.logger.WarnContext(ctx, "event handler failed",
			"module", "events.bus",
			"layer", "adapter",
			"operation", "event_dispatch",
			"outcome", "failure",
			"event_type", event.Type,
			"event_id", event.ID,
			"handler_index", index,
			"error", err,
		)
	}
}

// Consume reads up to count unacknowledged events for the group, blocking up to
// block. Log failures degrade to an empty read with a warning.
func (b *Bus) Consume(ctx context.Context, group, consumer string, count int, block time.Duration) []domain.Event {
	events, err := b.log.ReadGroup(ctx, group, consumer, count, block)
	if err != nil && ctx.Err() == nil {
		b.logger.WarnContext(ctx, "consumer group read failed",
			"module", "events.bus",
			"layer", "adapter",
			"operation", "event_consume",
			"outcome", "failure",
			"group", group,
			"consumer", consumer,
			"error", err,
		)
		return nil
	}
	return events
}

// Ack acknowledges processed events for the group and returns how many acks
// were accepted. Events left unacked redeliver on a later Consume.
func (b *Bus) Ack(ctx context.Context, group string, ids ...string) int {
	n, err := b.log.Ack(ctx, group, ids...)
	if err != nil {
		b.logger.WarnContext(ctx, "event ack failed",
			"module", "events.bus",
			"layer", "adapter",
			"operation", "event_ack",
			"outcome", "failure",
			"group", group,
			"error", err,
		)
	}
	return n
}

// History returns the most recent count events, newest first. Diagnostics only:
// no cursor movement, no acknowledgment.
func (b *Bus) History(ctx context.Context, count int) []domain.Event {
	events, err := b.log.History(ctx, count)
	if err != nil {
		b.logger.WarnContext(ctx, "event history read failed",
			"module", "events.bus",
			"layer", "adapter",
			"operation", "event_history",
			"outcome", "failure",
			"error", err,
		)
		return nil
	}
	return events
}
