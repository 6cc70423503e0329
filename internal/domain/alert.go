package domain

import (
	"fmt"
	"time"
)

// AlertLevel orders alert severities from informational to critical.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertError    AlertLevel = "error"
	AlertCritical AlertLevel = "critical"
)

// ValidateAlertLevel checks membership in the severity enum. An empty level is
// accepted by read filters, so callers filtering must check for "" themselves.
func ValidateAlertLevel(level AlertLevel) error {
	switch level {
	case AlertInfo, AlertWarning, AlertError, AlertCritical:
		return nil
	default:
		return fmt.Errorf("%w: unknown alert level %q", ErrInvalidInput, level)
	}
}

// Alert is a raised operational condition. Identical (source,title) pairs inside
// the dedup window collapse into the first occurrence.
type Alert struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Level     AlertLevel        `json:"level"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
