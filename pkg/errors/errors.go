// Package errors provides structured error types for pkgrestore.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the CLI and the restore engine
//   - Machine-readable error codes for programmatic handling
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Error codes follow a hierarchical naming convention:
//   - INVALID_*: Input validation failures (project files, versions, paths)
//   - NOT_FOUND / UNRESOLVED_*: Resources or dependencies that cannot be found
//   - NETWORK_* / TRANSFER_*: Failures while talking to package sources
//   - INTERNAL_*: Unexpected internal errors
//
// Restore failures map onto the codes as follows. An unresolvable range is
// UNRESOLVED_DEPENDENCY and fails the restore. A cycle is CYCLIC_DEPENDENCY and
// only ever shows up as a diagnostic. VERSION_CONFLICT marks a potential
// downgrade warning. TRANSFER_FAILED, EXTRACT_FAILED and LOCK_TIMEOUT are
// per-item install failures that are aggregated at the end of the run.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidVersion, "invalid version %q", v)
//	if errors.Is(err, errors.ErrCodeInvalidVersion) {
//	    // Handle validation error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeTransferFailed, origErr, "download %s", id)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput    Code = "INVALID_INPUT"
	ErrCodeInvalidPackage  Code = "INVALID_PACKAGE"
	ErrCodeInvalidVersion  Code = "INVALID_VERSION"
	ErrCodeInvalidProject  Code = "INVALID_PROJECT"
	ErrCodeInvalidManifest Code = "INVALID_MANIFEST"
	ErrCodeInvalidPath     Code = "INVALID_PATH"
	ErrCodeInvalidFormat   Code = "INVALID_FORMAT"

	// Resource not found errors
	ErrCodeNotFound             Code = "NOT_FOUND"
	ErrCodePackageNotFound      Code = "PACKAGE_NOT_FOUND"
	ErrCodeFileNotFound         Code = "FILE_NOT_FOUND"
	ErrCodeUnresolvedDependency Code = "UNRESOLVED_DEPENDENCY"

	// Graph diagnostics
	ErrCodeCyclicDependency Code = "CYCLIC_DEPENDENCY"
	ErrCodeVersionConflict  Code = "VERSION_CONFLICT"

	// Network and transfer errors
	ErrCodeNetwork        Code = "NETWORK_ERROR"
	ErrCodeTimeout        Code = "TIMEOUT"
	ErrCodeRateLimited    Code = "RATE_LIMITED"
	ErrCodeTransferFailed Code = "TRANSFER_FAILED"

	// Installation errors
	ErrCodeExtractFailed Code = "EXTRACT_FAILED"
	ErrCodeLockTimeout   Code = "LOCK_TIMEOUT"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
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
// It unwraps the error chain (including joined errors) looking for an *Error
// with a matching code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Code == code {
		return true
	}
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range x.Unwrap() {
			if Is(inner, code) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return Is(x.Unwrap(), code)
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

// Count returns the number of leaf errors in err, flattening errors.Join trees.
// A nil error counts as zero.
func Count(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		n := 0
		for _, inner := range joined.Unwrap() {
			n += Count(inner)
		}
		return n
	}
	return 1
}
