// Package griderr defines the error taxonomy shared by the grid engine.
//
// Every kind except ErrStore is recoverable: the engine logs it and degrades
// (predicate dropped, order kept, "N/A" cell, escaped text). Only ErrStore
// reaches callers of Table.Fetch and Table.Export.
package griderr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidColumn         = errors.New("invalid column")
	ErrInvalidRelationString = errors.New("invalid relation string")
	ErrUnsupportedSortTarget = errors.New("unsupported sort target")
	ErrTemplateRender        = errors.New("template render failed")
	ErrCacheUnavailable      = errors.New("cache unavailable")
	ErrQueryConstraint       = errors.New("invalid query constraint")
	ErrStore                 = errors.New("data store failure")
)

// Error carries the kind of failure, what it concerned and why.
type Error struct {
	Kind    error
	Subject string
	Reason  string
	Err     error
}

// New builds an *Error of the given kind.
func New(kind error, subject, reason string) *Error {
	return &Error{Kind: kind, Subject: subject, Reason: reason}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind error, subject string, cause error) *Error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return &Error{Kind: kind, Subject: subject, Reason: reason, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Subject != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Subject)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether err must abort the listing.
func Fatal(err error) bool {
	return errors.Is(err, ErrStore)
}
