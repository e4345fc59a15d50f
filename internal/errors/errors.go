// Package errors defines the structured application error taxonomy for the
// zip-verifyer service.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeInvalidInput indicates a caller error (bad artifact, bad request).
	ErrCodeInvalidInput ErrorCode = "invalid_input"
	// ErrCodeDuplicate indicates the artifact was already submitted. This is an
	// expected outcome of deduplication, not a system fault.
	ErrCodeDuplicate ErrorCode = "duplicate"
	// ErrCodeStorageFailure indicates a content store fault during submission.
	ErrCodeStorageFailure ErrorCode = "storage_failure"
	// ErrCodeRecordFailure indicates a record store fault during submission.
	ErrCodeRecordFailure ErrorCode = "record_failure"
	// ErrCodeNotFound indicates a task was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeCacheFault indicates a malformed cache snapshot. Surfaced rather
	// than silently bypassed: it points at a serialization-contract violation.
	ErrCodeCacheFault ErrorCode = "cache_fault"
	// ErrCodeProviderFailure indicates an analysis provider call failed.
	ErrCodeProviderFailure ErrorCode = "provider_failure"
	// ErrCodeFetchFailure indicates the artifact could not be fetched for analysis.
	ErrCodeFetchFailure ErrorCode = "fetch_failure"
	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError is a structured application error with a code, message, and optional
// cause. It supports errors.Is and errors.As through Unwrap.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// InvalidInput creates a new InvalidInput error.
func InvalidInput(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message}
}

// InvalidInputf creates a new InvalidInput error with a formatted message.
func InvalidInputf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// Duplicate creates a new Duplicate error.
func Duplicate(message string) *AppError {
	return &AppError{Code: ErrCodeDuplicate, Message: message}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with a formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsInvalidInput checks if an error is an InvalidInput error.
func IsInvalidInput(err error) bool {
	return isCode(err, ErrCodeInvalidInput)
}

// IsDuplicate checks if an error is a Duplicate error.
func IsDuplicate(err error) bool {
	return isCode(err, ErrCodeDuplicate)
}

// IsStorageFailure checks if an error is a StorageFailure error.
func IsStorageFailure(err error) bool {
	return isCode(err, ErrCodeStorageFailure)
}

// IsRecordFailure checks if an error is a RecordFailure error.
func IsRecordFailure(err error) bool {
	return isCode(err, ErrCodeRecordFailure)
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsCacheFault checks if an error is a CacheFault error.
func IsCacheFault(err error) bool {
	return isCode(err, ErrCodeCacheFault)
}

// GetCode returns the ErrorCode from an error, or empty string if it is not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
