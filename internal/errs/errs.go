// Package errs provides the structured error taxonomy shared by every core
// subsystem: the executor, recovery managers, and static analyzer all report
// failures as an *Error carrying a classified Kind rather than a bare string.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a closed set of error classifications. Each kind has a fixed
// ExitClass and Retriable() answer; task-level outcomes and playbook exit
// codes are derived from Kind alone, never from message text.
type Kind string

const (
	ParseError           Kind = "parse_error"
	InvalidStructure     Kind = "invalid_structure"
	MissingParameter     Kind = "missing_parameter"
	InvalidParameter     Kind = "invalid_parameter"
	TemplateError        Kind = "template_error"
	CommandFailed        Kind = "command_failed"
	TransientNetworkError Kind = "transient_network_error"
	PermissionDenied     Kind = "permission_denied"
	Unreachable          Kind = "unreachable"
	TimedOut             Kind = "timed_out"
	CheckpointError      Kind = "checkpoint_error"
	RollbackError        Kind = "rollback_error"
	TransactionError     Kind = "transaction_error"
	Unrecoverable        Kind = "unrecoverable"
)

// ExitClass mirrors the CLI exit codes documented in the external interfaces
// section: 0 success, 2 failed hosts, 3 unreachable hosts, 4 parse/schema
// errors, 5 internal/unrecoverable errors.
type ExitClass int

const (
	ExitSuccess        ExitClass = 0
	ExitHostFailure    ExitClass = 2
	ExitUnreachable    ExitClass = 3
	ExitParseOrSchema  ExitClass = 4
	ExitInternal       ExitClass = 5
)

// exitClasses maps each Kind to its documented exit class.
var exitClasses = map[Kind]ExitClass{
	ParseError:            ExitParseOrSchema,
	InvalidStructure:      ExitParseOrSchema,
	MissingParameter:      ExitHostFailure,
	InvalidParameter:      ExitHostFailure,
	TemplateError:         ExitHostFailure,
	CommandFailed:         ExitHostFailure,
	TransientNetworkError: ExitHostFailure,
	PermissionDenied:      ExitHostFailure,
	Unreachable:           ExitUnreachable,
	TimedOut:              ExitHostFailure,
	CheckpointError:       ExitInternal,
	RollbackError:         ExitInternal,
	TransactionError:      ExitInternal,
	Unrecoverable:         ExitInternal,
}

// retriable marks which kinds a retry policy may legitimately retry. This is
// a trait on the Kind, never on the module that produced it.
var retriable = map[Kind]bool{
	TransientNetworkError: true,
	Unreachable:           true,
	CommandFailed:         true,
	TimedOut:              true,
}

// Error is the structured error carried by task outcomes, recovery
// operations, and analyzer failures.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails attaches diagnostic key/value pairs, returning the receiver for
// chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ExitClass returns the exit class for this error's kind.
func (e *Error) ExitClass() ExitClass {
	if c, ok := exitClasses[e.Kind]; ok {
		return c
	}
	return ExitInternal
}

// Retriable reports whether an error of this kind may be retried by a
// RetryPolicy.
func (e *Error) Retriable() bool {
	return retriable[e.Kind]
}

// Is lets errors.Is match on Kind regardless of message/wrapped cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// As extracts a *Error from any error chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else "".
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// KindKnownRetriable reports whether err classifies as a retriable Kind.
// Errors that never went through New/Wrap carry no Kind and are treated as
// not retriable: retriability is a trait on the classified error, not a
// default any bare error gets.
func KindKnownRetriable(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	return e.Retriable()
}

// RetryExhausted is returned by the retry manager when all attempts of a
// RetryPolicy have been consumed without success.
type RetryExhausted struct {
	Attempts int
	Cause    error
}

func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *RetryExhausted) Unwrap() error { return e.Cause }
