// Package render writes the JSON envelope shared by every API handler.
package render

import (
	"errors"
	"net/http"

	"github.com/good-yellow-bee/sentinel/internal/errs"
)

// Error represents an API error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeValidationFailed = "VALIDATION_ERROR"
	ErrCodeUnavailable      = "SERVICE_UNAVAILABLE"
)

// Standard errors
var (
	ErrInvalidToken = &Error{
		Code:    ErrCodeUnauthorized,
		Message: "Invalid or expired token",
		Status:  http.StatusUnauthorized,
	}

	ErrNotFound = &Error{
		Code:    ErrCodeNotFound,
		Message: "Resource not found",
		Status:  http.StatusNotFound,
	}

	ErrInternalServer = &Error{
		Code:    ErrCodeInternalError,
		Message: "Internal server error",
		Status:  http.StatusInternalServerError,
	}

	ErrRateLimited = &Error{
		Code:    ErrCodeRateLimited,
		Message: "Too many requests",
		Status:  http.StatusTooManyRequests,
	}

	ErrTooManyConnections = &Error{
		Code:    ErrCodeUnavailable,
		Message: "Too many open connections",
		Status:  http.StatusServiceUnavailable,
	}
)

// NewBadRequest creates a bad request error with custom message.
func NewBadRequest(message string) *Error {
	return &Error{
		Code:    ErrCodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// NewValidationError creates a validation error with custom message.
func NewValidationError(message string) *Error {
	return &Error{
		Code:    ErrCodeValidationFailed,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// NewConflict creates a conflict error with custom message.
func NewConflict(message string) *Error {
	return &Error{
		Code:    ErrCodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// NewNotFound creates a not found error with custom message.
func NewNotFound(message string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: message,
		Status:  http.StatusNotFound,
	}
}

// FromError maps a service error onto its API error. Unclassified errors
// become a generic 500 so internals never leak to clients.
func FromError(err error) *Error {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, errs.ErrValidation):
		return NewValidationError(err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return NewNotFound(err.Error())
	case errors.Is(err, errs.ErrConflict):
		return NewConflict(err.Error())
	case errors.Is(err, errs.ErrRateLimited):
		return &Error{Code: ErrCodeRateLimited, Message: err.Error(), Status: http.StatusTooManyRequests}
	default:
		return ErrInternalServer
	}
}
