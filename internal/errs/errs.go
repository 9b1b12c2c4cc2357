// Package errs defines the classified error values that flow through the
// order pipeline. Every layer below the worker (router, executor, venue
// adapters, store, cache, queue) raises one of four kinds; the worker is the
// single place that decides retry versus terminate based on the kind and the
// retryable flag.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind tags an error with its pipeline classification.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindRouting    Kind = "ROUTING"
	KindExecution  Kind = "EXECUTION"
	KindSystem     Kind = "SYSTEM"
)

// Error carries a classification kind, a human message, structured context,
// a timestamp, and whether the worker may retry the operation.
type Error struct {
	Kind      Kind
	Message   string
	Context   map[string]interface{}
	Timestamp time.Time
	Retryable bool

	cause error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an Error of the given kind with the kind's default retryability.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now().UTC(),
		Retryable: defaultRetryable(kind),
	}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap classifies an underlying error under the given kind, keeping the cause
// reachable through Unwrap. The message becomes "<message>: <cause>".
func Wrap(kind Kind, err error, message string) *Error {
	e := New(kind, message)
	if err != nil {
		e.Message = fmt.Sprintf("%s: %v", message, err)
		e.cause = err
	}
	return e
}

// Validation builds a non-retryable VALIDATION error.
func Validation(message string) *Error { return New(KindValidation, message) }

// Routing builds a retryable ROUTING error.
func Routing(message string) *Error { return New(KindRouting, message) }

// Execution builds a retryable EXECUTION error.
func Execution(message string) *Error { return New(KindExecution, message) }

// System builds a SYSTEM error, retryable by default.
func System(message string) *Error { return New(KindSystem, message) }

// WithContext attaches a key/value pair and returns the same error for
// chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NonRetryable marks the error as terminal regardless of kind defaults.
func (e *Error) NonRetryable() *Error {
	e.Retryable = false
	return e
}

func defaultRetryable(kind Kind) bool {
	return kind != KindValidation
}

// Classify maps a foreign error onto a Kind using the message-substring
// heuristic. Typed *Error values keep their kind; the heuristic never
// rewrites them.
func Classify(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "validation"),
		strings.Contains(msg, "invalid"),
		strings.Contains(msg, "required"):
		return KindValidation
	case strings.Contains(msg, "quote"),
		strings.Contains(msg, "routing"):
		return KindRouting
	case strings.Contains(msg, "transaction"),
		strings.Contains(msg, "swap"),
		strings.Contains(msg, "slippage"):
		return KindExecution
	default:
		return KindSystem
	}
}

// From returns err as a typed *Error, classifying it first if it is foreign.
func From(err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	kind := Classify(err)
	e := Wrap(kind, err, string(kind))
	e.Message = err.Error()
	return e
}

// Retryable reports whether the worker may replay the operation that
// produced err.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Retryable
	}
	return defaultRetryable(Classify(err))
}

// IsKind reports whether err carries (or classifies to) the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return Classify(err) == kind
}
