// Package errors provides structured error types for the cratemap application.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the pipeline and CLI
//   - Machine-readable error codes recorded on terminal job states
//   - User-friendly error messages in the run summary
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Error codes follow the pipeline's failure taxonomy:
//   - CONFIG_*: Fatal configuration errors, abort before any job starts
//   - FETCH_*, INGESTION_*: Retryable with bounded backoff
//   - ARCHIVE_*, PARSE_*, RESOLUTION_*: Terminal for a single job
//
// # Usage
//
//	err := errors.New(errors.ErrCodeArchiveCorrupt, "bad checksum for %s", name)
//	if errors.Is(err, errors.ErrCodeArchiveCorrupt) {
//	    // Handle archive error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeFetch, origErr, "failed to fetch %s", url)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Configuration errors - fatal, abort the whole run before any job starts
	ErrCodeConfig           Code = "CONFIG_ERROR"
	ErrCodeConfigCycle      Code = "CONFIG_DEPENDENCY_CYCLE"
	ErrCodeStoreUnreachable Code = "CONFIG_STORE_UNREACHABLE"

	// Input validation errors
	ErrCodeInvalidInput   Code = "INVALID_INPUT"
	ErrCodeInvalidPackage Code = "INVALID_PACKAGE"

	// Registry errors
	ErrCodeNotFound            Code = "NOT_FOUND"
	ErrCodeNoSatisfyingVersion Code = "NO_SATISFYING_VERSION"
	ErrCodeResolution          Code = "RESOLUTION_ERROR"

	// Fetch errors - retryable with bounded backoff
	ErrCodeFetch   Code = "FETCH_ERROR"
	ErrCodeNetwork Code = "NETWORK_ERROR"

	// Archive errors - terminal for the job
	ErrCodeArchiveCorrupt Code = "ARCHIVE_CORRUPT"
	ErrCodePathTraversal  Code = "ARCHIVE_PATH_TRAVERSAL"
	ErrCodeSizeLimit      Code = "ARCHIVE_SIZE_LIMIT"

	// IR loader errors - terminal for the job, job is skipped
	ErrCodeParse         Code = "PARSE_ERROR"
	ErrCodeUnsupportedIR Code = "UNSUPPORTED_IR_VERSION"

	// Store errors - retryable transaction failure, bounded, then terminal
	ErrCodeIngestion Code = "INGESTION_ERROR"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsFatal reports whether err must abort the whole run rather than a single
// job. Only configuration and store-connectivity errors are fatal.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case ErrCodeConfig, ErrCodeConfigCycle, ErrCodeStoreUnreachable:
		return true
	}
	return false
}

// IsSkip reports whether err marks a job Skipped rather than Failed.
// IR artifacts we cannot parse are skipped: the package exists, we just
// cannot analyze this particular encoding.
func IsSkip(err error) bool {
	switch GetCode(err) {
	case ErrCodeParse, ErrCodeUnsupportedIR:
		return true
	}
	return false
}
