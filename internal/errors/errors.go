// Package errors defines the service error taxonomy and its HTTP status mapping.
//
// Handlers return (or attach to the gin context) errors built with the
// constructors below; a single middleware turns them into responses.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for response mapping.
type Kind string

const (
	KindValidation Kind = "validation" // malformed or missing client input
	KindNotFound   Kind = "not-found"  // referenced entity absent
	KindUpstream   Kind = "upstream"   // object store, detection runtime or chat API
	KindStorage    Kind = "storage"    // relational store
	KindInternal   Kind = "internal"
)

// Error carries a Kind, the operation that failed and a client-facing message.
// Msg is what the caller sees; Err keeps the underlying cause for logs.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind, so callers can test
// errors.Is(err, &errors.Error{Kind: errors.KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// Message returns the text exposed to HTTP clients.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(StatusCode(e))
}

func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func Upstream(op, msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Op: op, Msg: msg, Err: err}
}

func Storage(op, msg string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusCode maps an error to the HTTP status the API answers with.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the free-text `error` field of a response. Unclassified
// errors expose their own message, as the service always has.
func PublicMessage(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Message()
	}
	return err.Error()
}

// Standard library passthroughs so callers only import this package.

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
