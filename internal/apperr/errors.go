// Package apperr defines the error taxonomy shared by the services and the
// HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kinds. Compare with errors.Is.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPayment           = errors.New("payment failed")
	ErrInternal          = errors.New("internal error")
)

// Error carries the failing operation, its kind and a message that is safe
// to show to users.
type Error struct {
	Op      string // e.g. "cart.AddItem"
	Kind    error  // one of the Err* kinds above
	Message string
	Err     error // underlying cause, never shown to users
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E builds an error of the given kind with a user-facing message.
func E(op string, kind error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error. Errors that already carry a
// kind are returned unchanged so the innermost classification wins.
func Wrap(op string, kind error, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Internal classifies an unexpected failure unless it already has a kind.
func Internal(op string, err error) error {
	return Wrap(op, ErrInternal, err)
}

func NotFound(op, what string) *Error {
	return E(op, ErrNotFound, "%s not found", what)
}

func Validation(op, format string, args ...any) *Error {
	return E(op, ErrValidation, format, args...)
}

var statusByKind = []struct {
	kind   error
	status int
}{
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
	{ErrNotFound, http.StatusNotFound},
	{ErrValidation, http.StatusBadRequest},
	{ErrInvalidTransition, http.StatusConflict},
	{ErrConflict, http.StatusConflict},
	{ErrPayment, http.StatusPaymentRequired},
}

// Status maps an error to the HTTP status the API reports for it.
func Status(err error) int {
	for _, m := range statusByKind {
		if errors.Is(err, m.kind) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// Message returns text that is safe to return to a client. Internal errors
// never expose their cause.
func Message(err error) string {
	if Status(err) == http.StatusInternalServerError {
		return ErrInternal.Error()
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	for _, m := range statusByKind {
		if errors.Is(err, m.kind) {
			return m.kind.Error()
		}
	}
	return ErrInternal.Error()
}

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsForbidden(err error) bool    { return errors.Is(err, ErrForbidden) }
func IsValidation(err error) bool   { return errors.Is(err, ErrValidation) }
func IsConflict(err error) bool     { return errors.Is(err, ErrConflict) }
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }
