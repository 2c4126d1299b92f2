// Package errors provides error code definitions shared across the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure. Codes drive retry and
// dead-letter decisions in the sync engine, so they are part of the
// engine's contract rather than free-form strings.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Storage errors
	ErrStorage           ErrorCode = "STORAGE_ERROR"
	ErrStorageCorruption ErrorCode = "STORAGE_CORRUPTION"

	// Cache errors
	ErrChecksumMismatch ErrorCode = "CHECKSUM_MISMATCH"
	ErrCacheMiss        ErrorCode = "CACHE_MISS"

	// Queue errors
	ErrQueueFull ErrorCode = "QUEUE_FULL"

	// Sync errors
	ErrTransientNetwork ErrorCode = "TRANSIENT_NETWORK_ERROR"
	ErrValidation       ErrorCode = "VALIDATION_ERROR"
	ErrConflict         ErrorCode = "CONFLICT"
	ErrSyncInProgress   ErrorCode = "SYNC_IN_PROGRESS"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the ErrorCode from an error, or ErrInternal when the
// error carries no code.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsTransient reports whether an error should be retried with backoff.
func IsTransient(err error) bool {
	return Is(err, ErrTransientNetwork)
}

// IsValidation reports whether an error is fatal for the operation that
// produced it (no retry, immediate dead-letter).
func IsValidation(err error) bool {
	return Is(err, ErrValidation)
}
