// Package errs defines the error taxonomy shared by the alert pipeline.
//
// Typed errors carry context for logging and API responses and match their
// sentinel through errors.Is, so callers can branch on the class without
// depending on the concrete type.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors, one per class.
var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("conflict")
	ErrTransport      = errors.New("transport failure")
	ErrRateLimited    = errors.New("rate limited")
	ErrDeliveryFailed = errors.New("delivery failed")
)

// ValidationError reports a malformed rule or request field.
type ValidationError struct {
	Field   string
	Message string
}

// Validation creates a ValidationError.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictError reports an illegal alert state transition.
type ConflictError struct {
	AlertID string
	From    string
	To      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("alert %s: cannot transition from %s to %s", e.AlertID, e.From, e.To)
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransportError wraps a failure of the external publish/subscribe transport.
// Temporary errors are retried on the same subscription; the rest require a
// resubscribe.
type TransportError struct {
	Op        string
	Topic     string
	Err       error
	Temporary bool
}

func (e *TransportError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// RateLimitError is returned to callers that exceeded their request budget.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests exceeded, retry after %s", e.Limit, e.RetryAfter)
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// DeliveryError reports that a message could not be handed to one connection.
type DeliveryError struct {
	ConnID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.ConnID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDeliveryFailed.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailed
}

// IsTemporary reports whether err is a transient transport error.
func IsTemporary(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary
	}
	return false
}

// NotFound wraps ErrNotFound with the kind and id of the missing record.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
