// Package deskerrors provides structured error handling for deskstream with
// error categorization, key-value details and stack capture.
//
// # Overview
//
// Every failure that crosses a component boundary is a *Error carrying an
// ErrorType. Callers branch on the type rather than on message text:
//
//	if deskerrors.IsType(err, deskerrors.ErrorTypeExhaustedRetries) {
//	    // the transport gave up after its attempt budget
//	}
//
//	if code := deskerrors.StatusCode(err); code == http.StatusNotFound {
//	    // upstream rejected the request
//	}
//
// Errors wrap their cause and work with errors.Is / errors.As.
package deskerrors

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
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents network level failures
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeRateLimit represents throttling responses from upstream
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeUpstream represents non-retryable responses from the upstream API
	ErrorTypeUpstream ErrorType = "upstream"
	// ErrorTypeExhaustedRetries is returned once the transport attempt budget is spent
	ErrorTypeExhaustedRetries ErrorType = "exhausted_retries"
	// ErrorTypeData represents malformed payloads
	ErrorTypeData ErrorType = "data"
	// ErrorTypeSink represents failures writing to the durable store
	ErrorTypeSink ErrorType = "sink"
	// ErrorTypeCheckpoint represents checkpoint persistence failures
	ErrorTypeCheckpoint ErrorType = "checkpoint"
	// ErrorTypeState represents invalid orchestrator state transitions
	ErrorTypeState ErrorType = "state"
)

// DetailStatusCode is the detail key holding an HTTP status code.
const DetailStatusCode = "status_code"

// Error represents a structured error with context.
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

// Wrap wraps an existing error with additional context. Wrapping nil returns nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Upstream builds a non-retryable upstream error for the given HTTP status.
func Upstream(status int, message string) *Error {
	e := &Error{
		Type:    ErrorTypeUpstream,
		Message: message,
		Stack:   captureStack(2),
	}
	return e.WithDetail(DetailStatusCode, status)
}

// IsRetryable returns true if the error is transient from the transport's point of view.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType reports whether the outermost *Error in the chain has the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// HasType reports whether any *Error in the chain has the given type.
func HasType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// StatusCode returns the HTTP status recorded anywhere in the chain, or 0.
func StatusCode(err error) int {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0
		}
		if code, ok := e.Details[DetailStatusCode].(int); ok {
			return code
		}
		err = e.Cause
	}
	return 0
}

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
