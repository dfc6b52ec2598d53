// Package flowerrors defines the structured error taxonomy used across the
// engine (state, runtime context, interpreter, manager). Every error the
// engine returns to a caller carries a Kind so that collaborators (HTTP
// handlers, CLI, tests) can branch on it without string matching.
package flowerrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from the engine's taxonomy.
type Kind string

const (
	KindSchemaInvalid       Kind = "SchemaInvalid"
	KindUnknownNode         Kind = "UnknownNode"
	KindTargetNotFound      Kind = "TargetNotFound"
	KindInvalidLoopEdge     Kind = "InvalidLoopEdge"
	KindNodeFailed          Kind = "NodeFailed"
	KindExecutionTerminated Kind = "ExecutionTerminated"
	KindCancelled           Kind = "Cancelled"
	KindTokenSettled        Kind = "TokenSettled"
	KindUnknownPauseToken   Kind = "UnknownPauseToken"
	KindNotPaused           Kind = "NotPaused"
	KindTimeoutExceeded     Kind = "TimeoutExceeded"
	KindHumanInputTimeout   Kind = "HumanInputTimeout"
	KindUnknownExecution    Kind = "UnknownExecution"
	KindExpressionRejected  Kind = "ExpressionRejected"
)

// Error is the engine's structured error type: a kind plus a message and an
// optional wrapped cause. SchemaInvalid errors additionally carry the list
// of violations that caused rejection.
type Error struct {
	Kind       Kind
	Message    string
	Violations []string
	Cause      error
}

func (e *Error) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("%s: %s (%d violations)", e.Kind, e.Message, len(e.Violations))
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Invalid builds a SchemaInvalid error carrying the given violations.
func Invalid(violations []string) *Error {
	return &Error{Kind: KindSchemaInvalid, Message: "workflow IR failed schema validation", Violations: violations}
}

// Is reports whether err is a *Error of the given kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
