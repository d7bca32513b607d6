// Package errkind implements the error taxonomy shared by every pipeline
// stage: a closed set of string kinds, each wrapping an underlying cause.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the closed error categories a pipeline stage can report.
type Kind string

const (
	KindCanonicalFloat    Kind = "FloatInCanonical"
	KindCanonicalDup      Kind = "DuplicateKey"
	KindSchemaInvalid     Kind = "SchemaInvalid"
	KindSchemaVersion     Kind = "SchemaVersionMismatch"
	KindHashMismatch      Kind = "HashMismatch"
	KindMissingDependency Kind = "MissingDependency"
	KindVersionMismatch   Kind = "VersionMismatch"
	KindRuleViolation     Kind = "RuleViolation"
	KindProofCheckFailed  Kind = "ProofCheckFailed"
	KindUnsupported       Kind = "UnsupportedProofFeature"
	KindInvalidPoList     Kind = "InvalidPoList"
	KindIO                Kind = "IOError"
	KindInternal          Kind = "InternalError"
)

// Error carries a Kind alongside the wrapped cause, so callers can branch on
// Kind with errors.As while still getting a %w-wrapped chain for %v/Error().
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an existing cause, formatting message the way
// fmt.Errorf would.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err does not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
