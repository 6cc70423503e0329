package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opsledger/treasury-infra/internal/domain"
)

// Processor handles one consumer-group delivery. Returning an error leaves the
// event unacknowledged so it redelivers; processors must therefore be
// idempotent.
type Processor func(ctx context.Context, event domain.Event) error

// ConsumerWorker is the pull side of the bus for out-of-band reactions. It
// consumes as a group member, dispatches to registered processors and
// acknowledges only successful deliveries.
type ConsumerWorker struct {
	logger     *slog.Logger
	bus        *Bus
	group      string
	consumer   string
	batchSize  int
	block      time.Duration
	processors map[domain.EventType]Processor
}

func NewConsumerWorker(logger *slog.Logger, bus *Bus, group, consumer string) *ConsumerWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if group == "" {
		group = "treasury-infra"
	}
	if consumer == "" {
		consumer = "worker-1"
	}
	return &ConsumerWorker{
		logger:     logger,
		bus:        bus,
		group:      group,
		consumer:   consumer,
		batchSize:  50,
		block:      2 * time.Second,
		processors: make(map[domain.EventType]Processor),
	}
}

// Handle registers the processor for one event type. Last registration wins;
// the worker is wired once at bootstrap, not concurrently.
func (w *ConsumerWorker) Handle(eventType domain.EventType, processor Processor) error {
	if err := domain.ValidateEventType(eventType); err != nil {
		return err
	}
	if processor == nil {
		return domain.ErrInvalidInput
	}
	w.processors[eventType] = processor
	return nil
}

// Run consumes until context cancellation.
func (w *ConsumerWorker) Run(ctx context.Context) error {
	for {
		if err := w.processOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (w *ConsumerWorker) processOnce(ctx context.Context) error {
	deliveries := w.bus.Consume(ctx, w.group, w.consumer, w.batchSize, w.block)
	if len(deliveries) == 0 {
		return ctx.Err()
	}

	acked := make([]string, 0, len(deliveries))
	for _, event := range deliveries {
		processor, ok := w.processors[event.Type]
		if !ok {
			// No processor registered for this kind: nothing to do, safe to ack.
			acked = append(acked, event.ID)
			continue
		}
		if err := w.process(ctx, event, processor); err != nil {
			w.logger.WarnContext(ctx, "event processing failed, left unacked for redelivery",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_event",
				"outcome", "failure",
				"event_type", event.Type,
				"event_id", event.ID,
				"error", err,
			)
			continue
		}
		acked = append(acked, event.ID)
	}
	if len(acked) > 0 {
		w.bus.Ack(ctx, w.group, acked...)
	}
	return nil
}

// process isolates processor panics so one bad delivery cannot kill the loop.
func (w *ConsumerWorker) process(ctx context.Context, event domain.Event, processor Processor) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New("processor panicked")
			w.logger.ErrorContext(ctx, "event processor panicked",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_event",
				"outcome", "failure",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", rec,
			)
		}
	}()
	return processor(ctx, event)
}
