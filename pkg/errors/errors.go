// Package errors provides the structured error taxonomy for parcelfind.
// Every failure surfaced by the pipeline carries a code, a kind, context and a stack trace.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeInvalidInput      Code = "E100"
	CodeMissingCollection Code = "E101"
	CodeMissingJoinKey    Code = "E102"

	// Output errors (3xx)
	CodeNameCollision Code = "E301"
	CodeWriteDenied   Code = "E302"

	// Catch-all for backend and collaborator failures
	CodeUnexpected Code = "E999"
)

// Kind returns the taxonomy name reported to operators.
func (c Code) Kind() string {
	switch c {
	case CodeInvalidInput:
		return "InvalidInput"
	case CodeMissingCollection:
		return "MissingCollection"
	case CodeMissingJoinKey:
		return "MissingJoinKey"
	case CodeNameCollision:
		return "NameCollision"
	case CodeWriteDenied:
		return "WriteDenied"
	default:
		return "Unexpected"
	}
}

// PipelineError is the base error type for all parcelfind errors.
type PipelineError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
// Context keys are sorted so messages are stable across runs.
func (e *PipelineError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches another PipelineError by code.
func (e *PipelineError) Is(target error) bool {
	if t, ok := target.(*PipelineError); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the taxonomy name of the error.
func (e *PipelineError) Kind() string {
	return e.Code.Kind()
}

// WithContext adds context to the error.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new PipelineError.
func New(code Code, message string) *PipelineError {
	return &PipelineError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *PipelineError {
	if err == nil {
		return nil
	}

	return &PipelineError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *PipelineError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *PipelineError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// InvalidInput reports a bad invocation argument.
func InvalidInput(message string) *PipelineError {
	return New(CodeInvalidInput, message)
}

// MissingCollection reports a target collection absent from the working context.
func MissingCollection(name string) *PipelineError {
	return New(CodeMissingCollection, fmt.Sprintf("target feature collection %q is missing from the working context", name)).
		WithContext("collection", name)
}

// MissingJoinKey reports a join key absent from one or more schemas.
func MissingJoinKey(key string, sides []string, available map[string][]string) *PipelineError {
	err := New(CodeMissingJoinKey, fmt.Sprintf("join key %q not found in %s", key, strings.Join(sides, " and "))).
		WithContext("key", key)
	for side, cols := range available {
		err.WithContext("available."+side, cols)
	}
	return err
}

// NameCollision reports an output name that already exists at its destination.
func NameCollision(name, destination string) *PipelineError {
	return New(CodeNameCollision, fmt.Sprintf("output %q already exists", name)).
		WithContext("destination", destination)
}

// WriteDenied reports insufficient permission to write an output.
func WriteDenied(destination string, cause error) *PipelineError {
	if cause == nil {
		return New(CodeWriteDenied, "write denied").WithContext("destination", destination)
	}
	return Wrap(cause, CodeWriteDenied, "write denied").WithContext("destination", destination)
}

// Unexpected wraps a backend or collaborator failure.
func Unexpected(err error, operation string) *PipelineError {
	return Wrap(err, CodeUnexpected, operation+" failed").WithContext("operation", operation)
}

// Ensure returns err unchanged when it already carries a code, and wraps it as
// Unexpected otherwise.
func Ensure(err error, operation string) error {
	if err == nil {
		return nil
	}
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return err
	}
	return Unexpected(err, operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.Code
	}
	return CodeUnexpected
}

// Kind returns the taxonomy name for any error; nil has no kind.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	return GetCode(err).Kind()
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
