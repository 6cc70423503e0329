package domain

import (
	"fmt"
	"time"
)

// EventType enumerates the domain event kinds the bus accepts.
// Publishing or subscribing with anything outside this set is rejected at the surface.
type EventType string

const (
	EventTransactionCreated   EventType = "transaction.created"
	EventTransactionUpdated   EventType = "transaction.updated"
	EventTransactionDeleted   EventType = "transaction.deleted"
	EventPaymentStatusChanged EventType = "payment.status_changed"
	EventCacheInvalidated     EventType = "cache.invalidated"
	EventAlertTriggered       EventType = "alert.triggered"
	EventReportGenerated      EventType = "report.generated"
	EventSystemHealth         EventType = "system.health"
)

var knownEventTypes = map[EventType]struct{}{
	EventTransactionCreated:   {},
	EventTransactionUpdated:   {},
	EventTransactionDeleted:   {},
	EventPaymentStatusChanged: {},
	EventCacheInvalidated:     {},
	EventAlertTriggered:       {},
	EventReportGenerated:      {},
	EventSystemHealth:         {},
}

// ValidateEventType checks membership in the domain enum.
func ValidateEventType(t EventType) error {
	if _, ok := knownEventTypes[t]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, t)
	}
	return nil
}

// Event is an immutable domain notification. Once published it is appended to the
// durable log and never mutated; consumers see the same envelope in every delivery.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Data      map[string]any    `json:"data,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
