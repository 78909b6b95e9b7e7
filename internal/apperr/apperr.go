// Package apperr defines the error taxonomy shared by the ledger, the lifecycle manager
// and the HTTP layer.
package apperr

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindAuth        Kind = "auth"
	KindConflict    Kind = "conflict"
	KindPolicy      Kind = "policy"
	KindNotFound    Kind = "not_found"
	KindRemote      Kind = "remote"
	KindPersistence Kind = "persistence"
	KindRateLimited Kind = "rate_limited"
)

// Error carries a user-visible message. Err is the underlying cause and is never
// rendered to clients.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(format string, args ...any) *Error { return New(KindValidation, format, args...) }
func Auth(format string, args ...any) *Error       { return New(KindAuth, format, args...) }
func Conflict(format string, args ...any) *Error   { return New(KindConflict, format, args...) }
func Policy(format string, args ...any) *Error     { return New(KindPolicy, format, args...) }
func NotFound(format string, args ...any) *Error   { return New(KindNotFound, format, args...) }

func Remote(err error, msg string) *Error      { return Wrap(KindRemote, err, msg) }
func Persistence(err error, msg string) *Error { return Wrap(KindPersistence, err, msg) }

// KindOf returns the kind of the first *Error in err's chain, or KindPersistence for
// anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

func Is(err error, kind Kind) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Kind == kind
}

// Message returns the client-facing message for err.
func Message(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindPolicy:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRemote:
		return http.StatusBadGateway
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
