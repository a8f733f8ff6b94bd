// Package apierr defines the error taxonomy shared by module handlers and
// the response layer.
//
// Handlers return *Error for expected, client-facing failures. The name of
// the error selects an HTTP status through Kinds; any error whose name is
// not in Kinds is treated as an internal failure and never exposed.
// Errors groups several failures (typically field validation) into one
// composite response.
package apierr

import (
	"fmt"
	"runtime"
	"strings"
)

// Error is a named, client-facing error.
type Error struct {
	// Name is the taxonomy key (e.g. "notfound", "invalid").
	Name string

	// Message is safe to show to the client.
	Message string

	// Data is an arbitrary safe payload returned to the client.
	Data map[string]any

	// Path is the field path for validation errors.
	Path string

	// Cause is the underlying error. It is logged, never returned.
	Cause error

	stack []uintptr
}

// New creates a named error and records the caller's stack.
func New(name, message string) *Error {
	return newError(name, message, 2)
}

// Newf creates a named error with a formatted message.
func Newf(name, format string, args ...any) *Error {
	return newError(name, fmt.Sprintf(format, args...), 2)
}

func newError(name, message string, skip int) *Error {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	return &Error{
		Name:    name,
		Message: message,
		stack:   pcs[:n],
	}
}

// WithData attaches a client-visible payload.
func (e *Error) WithData(data map[string]any) *Error {
	e.Data = data
	return e
}

// WithPath attaches a field path.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Name, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Stack returns the recorded call stack as "function file:line" frames,
// innermost first. The first frame is the constructor inside this package.
func (e *Error) Stack() []string {
	return formatStack(e.stack)
}

// Errors is a composite of several errors reported together.
type Errors []error

func (es Errors) Error() string {
	msgs := make([]string, 0, len(es))
	for _, err := range es {
		if err == nil {
			continue
		}
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d errors: %s", len(msgs), strings.Join(msgs, "; "))
}

// Unwrap exposes the members to errors.Is and errors.As.
func (es Errors) Unwrap() []error {
	return es
}

// Common constructors for the default taxonomy.

// NotFound returns a "notfound" error.
func NotFound(message string) *Error {
	return newError("notfound", message, 2)
}

// Forbidden returns a "forbidden" error.
func Forbidden(message string) *Error {
	return newError("forbidden", message, 2)
}

// Invalid returns an "invalid" error.
func Invalid(message string) *Error {
	return newError("invalid", message, 2)
}

// Required returns a "required" error for the given field path.
func Required(path string) *Error {
	return newError("required", "Required", 2).WithPath(path)
}

func formatStack(pcs []uintptr) []string {
	if len(pcs) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs)
	var out []string
	for {
		frame, more := frames.Next()
		out = append(out, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return out
}
