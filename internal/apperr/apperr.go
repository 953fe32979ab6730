// Package apperr defines the error taxonomy from the system's error
// handling design: a small set of sentinel categories that callers branch
// on via errors.Is, independent of the human-readable message.
package apperr

import (
	"errors"
	"fmt"
)

// Category is one of the taxonomy's error classes.
type Category int

const (
	// Configuration covers missing credentials or an invalid interval;
	// fatal at startup.
	Configuration Category = iota
	// UpstreamData covers market-data fetch failure, empty batch, or
	// parse failure; recovered locally, the tick continues.
	UpstreamData
	// Broker covers network failure or SDK exception from the broker
	// client; the failing stage degrades and the tick continues.
	Broker
	// Precondition covers a SKIP_* routing reason; recorded in the skip
	// summary, the tick continues.
	Precondition
	// StateConflict means a second tick tried to start while the first
	// is still active.
	StateConflict
	// LiveDisabled means a live-submit request was made without the hard
	// enable flag; fatal for that call only.
	LiveDisabled
)

func (c Category) String() string {
	switch c {
	case Configuration:
		return "ConfigurationError"
	case UpstreamData:
		return "UpstreamDataError"
	case Broker:
		return "BrokerError"
	case Precondition:
		return "PreconditionSkip"
	case StateConflict:
		return "StateConflict"
	case LiveDisabled:
		return "LiveDisabled"
	default:
		return "UnknownError"
	}
}

// Error is a categorized application error.
type Error struct {
	Category Category
	Reason   string // short machine-readable reason, e.g. SKIP_COOLDOWN
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a categorized error with no wrapped cause.
func New(cat Category, reason string) *Error {
	return &Error{Category: cat, Reason: reason}
}

// Wrap builds a categorized error wrapping an underlying cause.
func Wrap(cat Category, reason string, err error) *Error {
	return &Error{Category: cat, Reason: reason, Err: err}
}

// Is supports errors.Is(err, apperr.Configuration) style category checks by
// comparing against a bare *Error built with New(cat, "").
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category
	}
	return false
}

// sentinels for errors.Is(err, apperr.ErrConfiguration) style checks.
var (
	ErrConfiguration  = New(Configuration, "")
	ErrUpstreamData   = New(UpstreamData, "")
	ErrBroker         = New(Broker, "")
	ErrPrecondition   = New(Precondition, "")
	ErrStateConflict  = New(StateConflict, "")
	ErrLiveDisabled   = New(LiveDisabled, "")
)
