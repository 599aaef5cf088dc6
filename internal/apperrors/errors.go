// Package apperrors defines the coded error taxonomy shared by the workflow
// engine and its HTTP surface.
//
// Engine-level failures map onto codes as follows:
//
//	definition parse failure   -> ErrCodeValidation
//	invalid step attribute     -> ErrCodeValidation
//	actor below required level -> ErrCodeUnauthorized
//	task not pending           -> ErrCodeConflict
//	missing task/instance      -> ErrCodeNotFound
//	empty/unusable definition  -> ErrCodeValidation
package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers and for HTTP status mapping.
type Code string

const (
	ErrCodeValidation   Code = "validation_error"
	ErrCodeUnauthorized Code = "unauthorized"
	ErrCodeConflict     Code = "conflict"
	ErrCodeNotFound     Code = "not_found"
	ErrCodeInternal     Code = "internal_error"
)

// Error is a coded error. Wrapped causes are preserved for errors.Is/As.
type Error struct {
	ErrCode Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrCode, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{ErrCode: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{ErrCode: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{ErrCode: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s %s not found", resource, id)
}

// InvalidInput reports a bad field value.
func InvalidInput(field, reason string) *Error {
	return Newf(ErrCodeValidation, "invalid %s: %s", field, reason)
}

// Unauthorized reports a failed authorization check.
func Unauthorized(message string) *Error {
	return New(ErrCodeUnauthorized, message)
}

// CodeOf extracts the code from an error chain, defaulting to internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.ErrCode
	}
	return ErrCodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
