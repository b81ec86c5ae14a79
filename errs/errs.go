// Package errs defines the error taxonomy shared by the session engine and
// the HTTP/WebSocket surface.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers that need to react to it.
type Kind uint8

const (
	Other Kind = iota
	Auth
	NotFound
	InvalidState
	Conflict
	InsufficientContent
	Validation
	Unavailable
	Forbidden
)

func (k Kind) String() string {
	switch k {
	case Auth:
		return "auth"
	case NotFound:
		return "not_found"
	case InvalidState:
		return "invalid_state"
	case Conflict:
		return "conflict"
	case InsufficientContent:
		return "insufficient_content"
	case Validation:
		return "validation"
	case Unavailable:
		return "unavailable"
	case Forbidden:
		return "forbidden"
	default:
		return "other"
	}
}

// Error is a classified error. Op names the operation that failed, e.g. "game.guess".
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error with a formatted message.
func E(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Is reports whether err is classified as kind.
func Is(kind Kind, err error) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-facing message of err without the op prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	return err.Error()
}

// HTTPStatus maps err to the status code returned by the API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Auth:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case InvalidState, Conflict:
		return http.StatusConflict
	case InsufficientContent:
		return http.StatusUnprocessableEntity
	case Validation:
		return http.StatusBadRequest
	case Unavailable:
		return http.StatusServiceUnavailable
	case Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
