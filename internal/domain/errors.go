package domain

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies failures so callers can react without string matching.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindTransport  Kind = "transport"
	KindStorage    Kind = "storage"
	KindUnknown    Kind = "unknown"
)

// Error is a tagged failure. Status carries the HTTP status when the failure came from the
// grading service.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind and message so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Status == 0 && t.Err == nil && e.Kind == t.Kind && e.Message == t.Message
}

var (
	// ErrUnknownSession is returned when a session has neither a record nor stored answers.
	ErrUnknownSession = &Error{Kind: KindValidation, Message: "unknown session"}
	// ErrNoActiveSession is returned by read projections before a session is started.
	ErrNoActiveSession = &Error{Kind: KindValidation, Message: "no active session"}
	// ErrStartInProgress is returned when a different start is already in flight.
	ErrStartInProgress = &Error{Kind: KindValidation, Message: "start already in progress"}
	// ErrSessionSubmitted is returned for writes after the session was submitted.
	ErrSessionSubmitted = &Error{Kind: KindValidation, Message: "session already submitted"}
	// ErrNotAuthenticated indicates an authenticated start without a login.
	ErrNotAuthenticated = &Error{Kind: KindValidation, Message: "not authenticated"}
	// ErrTestNotFound indicates the server returned no test content.
	ErrTestNotFound = &Error{Kind: KindNotFound, Message: "test not found"}
)

// Validation builds a validation failure for a missing or malformed input.
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

// Storage wraps a persistence medium failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// Transport wraps a connectivity, timeout or decoding failure.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// KindOf reports the kind of err. Context cancellation counts as transport; anything
// untagged is unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	return KindUnknown
}

// IsKind reports whether err is tagged with kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Tag makes sure err carries a kind, wrapping it as unknown when untagged.
func Tag(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}
