// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Validation errors (100-199): Invalid configuration, rules, conditions, and orders
//   - State errors (200-299): Persistence failures and missing or corrupted state
//   - Rule set errors (300-399): Rule file loading and schema version errors
//   - Risk errors (400-499): Risk gate blocks and cycle throttling
//   - Trading errors (500-599): Order execution and broker errors
//   - Lifecycle errors (600-699): Illegal proposal transitions and lookups
//   - Market data errors (700-799): Snapshot fetching, staleness, and mock data
//   - Notification errors (800-899): Alert and learning delivery failures
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeInvalidParameter, "invalid parameter value")
//
//	// Create a formatted error
//	err := errors.Newf(errors.ErrCodeProposalNotFound, "proposal not found: %s", id)
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeQueryFailed, "failed to execute query", originalErr)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodeStaleData) { ... }
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error if it's an *Error type.
// StaleDataError maps to the stale-data or mock-data code. Returns
// ErrCodeUnknown for anything else.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	var staleErr *StaleDataError
	if errors.As(err, &staleErr) {
		if staleErr.IsMock {
			return ErrCodeMockData
		}

		return ErrCodeStaleData
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// StaleDataError represents an error when a market snapshot is too old, or is
// flagged as mock data, to be safely used for signal generation.
type StaleDataError struct {
	AsOf    time.Time     // Freshness timestamp of the snapshot
	MaxAge  time.Duration // Maximum acceptable snapshot age
	IsMock  bool          // True if the snapshot was flagged as mock data
	Message string        // Human-readable message
}

// NewStaleDataError creates a new StaleDataError for an out-of-date snapshot.
func NewStaleDataError(asOf time.Time, maxAge time.Duration, message string) *StaleDataError {
	return &StaleDataError{
		AsOf:    asOf,
		MaxAge:  maxAge,
		IsMock:  false,
		Message: message,
	}
}

// NewMockDataError creates a new StaleDataError for a snapshot flagged as mock data.
func NewMockDataError(message string) *StaleDataError {
	return &StaleDataError{
		AsOf:    time.Time{},
		MaxAge:  0,
		IsMock:  true,
		Message: message,
	}
}

// Error implements the error interface.
func (e *StaleDataError) Error() string {
	return e.Message
}

// IsStaleDataError checks if an error is a StaleDataError.
// It uses errors.As to check the error chain.
func IsStaleDataError(err error) bool {
	var staleErr *StaleDataError

	return errors.As(err, &staleErr)
}
