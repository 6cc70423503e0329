package ports

import (
	"context"
	"time"

	"github.com/opsledger/treasury-infra/internal/domain"
)

// EventLog is the durable append-only log behind the bus. The Redis Streams
// implementation is authoritative in shared deployments; the in-process
// implementation carries the same semantics for local-only mode and tests.
type EventLog interface {
	// Append stores the event and returns the log-assigned id. The event's ID
	// field is ignored on input; the returned id is authoritative.
	Append(ctx context.Context, event domain.Event) (string, error)
	// ReadGroup returns up to count events not yet acknowledged by group,
	// blocking up to block for new entries. A nil slice on timeout is normal.
	ReadGroup(ctx context.Context, group, consumer string, count int, block time.Duration) ([]domain.Event, error)
	// Ack marks event ids processed for group and returns how many were accepted.
	Ack(ctx context.Context, group string, ids ...string) (int, error)
	// History returns the most recent count events, newest first.
	History(ctx context.Context, count int) ([]domain.Event, error)
}

// EventForwarder mirrors durably published events to an external broker for
// consumers outside the primary deployment. Forward failures are logged by the
// bus and never surfaced to publishers.
type EventForwarder interface {
	Forward(ctx context.Context, event domain.Event) error
	Close() error
}
