// Package apperr defines the error-kind taxonomy shared by the Task Store,
// Step Decomposer, Step Executor, Screenshot Pipeline, and the JSON-RPC
// surface. A *Error carries a stable Kind so the JSON-RPC layer can surface
// data.kind without string-matching error messages.
package apperr

import "fmt"

// Kind is one of the error kinds in the task-execution error taxonomy.
type Kind string

const (
	UnknownTool         Kind = "UNKNOWN_TOOL"
	InvalidArguments    Kind = "INVALID_ARGUMENTS"
	DecompositionFailed Kind = "DECOMPOSITION_FAILED"
	NavigationFailed    Kind = "NAVIGATION_FAILED"
	ElementNotFound     Kind = "ELEMENT_NOT_FOUND"
	ScreenshotFailed    Kind = "SCREENSHOT_FAILED"
	BrowserCrashed      Kind = "BROWSER_CRASHED"
	Timeout             Kind = "TIMEOUT"
	Cancelled           Kind = "CANCELLED"
	CacheUnavailable    Kind = "CACHE_UNAVAILABLE"
	IllegalTransition   Kind = "ILLEGAL_TRANSITION"
	TaskNotFound        Kind = "TASK_NOT_FOUND"
	Internal            Kind = "INTERNAL"
)

// Error is the concrete error type returned by Store/Executor/Decomposer/
// Cache operations.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil, false
}

// KindOf returns the Kind carried by err, or Internal if err does not wrap
// an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// JSONRPCCode maps a Kind onto the JSON-RPC error codes used by §6:
// -32001 for task-not-found, -32602 for invalid arguments. Everything
// else funnels through -32000 (generic tool error) with the kind carried in
// data.kind.
func JSONRPCCode(kind Kind) int {
	if kind == TaskNotFound {
		return -32001
	}
	if kind == InvalidArguments {
		return -32602
	}
	return -32000
}
