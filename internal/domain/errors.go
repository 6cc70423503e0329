package domain

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist.
	// Keeping this sentinel in domain allows adapters to map it consistently to 404/NOT_FOUND.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput marks validation failures on admin and producer surfaces.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTag rejects malformed tag names at registration time.
	// Tags become store-side key material, so whitespace and glob characters are refused.
	ErrInvalidTag = errors.New("invalid tag name")
	// ErrInvalidEventType rejects event kinds outside the domain enum.
	ErrInvalidEventType = errors.New("invalid event type")
	// ErrInvalidThreshold rejects alert threshold sets that are not strictly ascending.
	ErrInvalidThreshold = errors.New("invalid alert thresholds")
	// ErrUnknownStrategy is returned when a warming strategy name has no registration.
	ErrUnknownStrategy = errors.New("unknown warming strategy")
	// ErrDuplicateStrategy prevents silently replacing a registered warming strategy.
	ErrDuplicateStrategy = errors.New("warming strategy already registered")
	// ErrUnknownGroup is returned for ack calls against a consumer group that never consumed.
	ErrUnknownGroup = errors.New("unknown consumer group")
)
