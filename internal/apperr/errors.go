// Package apperr defines the error taxonomy shared by the planmeet services.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the HTTP boundary and for callers deciding
// whether to retry.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindInvalidArgument
	KindNotFound
	KindStoreUnavailable
	KindIdentityUnavailable
)

// String returns the generic message for the kind.
func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindInvalidArgument:
		return "invalid argument"
	case KindNotFound:
		return "not found"
	case KindStoreUnavailable:
		return "store unavailable"
	case KindIdentityUnavailable:
		return "identity provider unavailable"
	default:
		return "internal error"
	}
}

// Retryable reports whether a caller may retry an operation that failed with
// this kind.
func (k Kind) Retryable() bool {
	return k == KindStoreUnavailable || k == KindIdentityUnavailable
}

// Sentinels for errors.Is checks. Any *Error of the same kind matches.
var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrNotFound        = &Error{Kind: KindNotFound}
)

// Error is a classified error carrying the failing operation and entity key.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Msg  string
	Err  error
}

// Error formats "op key: msg: cause", leaving out empty parts.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		if e.Key != "" {
			msg = fmt.Sprintf("%s %s: %s", e.Op, e.Key, msg)
		} else {
			msg = fmt.Sprintf("%s: %s", e.Op, msg)
		}
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Message returns the human readable part without the wrapped cause.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

// New builds an error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err. The key identifies the entity the operation touched.
func Wrap(kind Kind, op, key string, err error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// Unauthenticated reports a missing or unreadable credential.
func Unauthenticated(op, msg string) *Error { return New(KindUnauthenticated, op, msg) }

// Forbidden reports a caller without the required role or team.
func Forbidden(op, msg string) *Error { return New(KindForbidden, op, msg) }

// InvalidArgument reports a malformed request.
func InvalidArgument(op, msg string) *Error { return New(KindInvalidArgument, op, msg) }

// NotFound reports a missing entity.
func NotFound(op, key string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Key: key}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to the status code the services answer with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
