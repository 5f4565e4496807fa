// Package errors provides structured error handling for the pipeline.
// Every error carries a category from the pipeline's failure taxonomy,
// optional key-value details, and the call stack at its creation point.
//
// Categories divide into fatal and non-fatal classes. A fatal error
// (configuration, structural parse, write) aborts the whole run; a
// non-fatal error (encoding persistence, validation) is logged and the
// run continues with degraded auxiliary artifacts. Use IsFatal to branch.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents configuration errors: missing source files,
	// references to columns that do not exist, invalid settings
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeParse represents row-local parse errors. These never abort a
	// run; the affected field is nulled instead.
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypeStructural represents structural parse errors: a whole column
	// missing or unreadable
	ErrorTypeStructural ErrorType = "structural"
	// ErrorTypeEncodingPersist represents failures writing the encoding
	// mapping artifacts
	ErrorTypeEncodingPersist ErrorType = "encoding_persist"
	// ErrorTypeWrite represents columnar write failures
	ErrorTypeWrite ErrorType = "write"
	// ErrorTypeValidation represents post-write validation failures
	ErrorTypeValidation ErrorType = "validation"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsFatal reports whether the error must abort the whole run. Configuration,
// structural parse, and write errors are fatal; encoding persistence and
// validation errors are not. Errors outside the taxonomy are treated as
// fatal.
func IsFatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return true
	}

	switch e.Type {
	case ErrorTypeEncodingPersist, ErrorTypeValidation, ErrorTypeParse:
		return false
	case ErrorTypeConfig, ErrorTypeStructural, ErrorTypeWrite, ErrorTypeInternal:
		return true
	default:
		return true
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
