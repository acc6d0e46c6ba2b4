// Package apperr defines the kind-tagged error taxonomy repositories
// return and the HTTP layer maps to status codes.
package apperr

import "errors"

// Kind classifies an error the way the HTTP boundary needs to see it,
// independent of the underlying cause.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

// Error wraps a cause with a Kind and a message safe to show a client.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func Validation(message string) *Error            { return newError(KindValidation, message, nil) }
func Unauthorized(message string) *Error          { return newError(KindUnauthorized, message, nil) }
func Forbidden(message string) *Error             { return newError(KindForbidden, message, nil) }
func NotFound(message string) *Error              { return newError(KindNotFound, message, nil) }
func Conflict(message string) *Error              { return newError(KindConflict, message, nil) }
func Internal(message string, cause error) *Error { return newError(KindInternal, message, cause) }
func Wrap(kind Kind, message string, cause error) *Error {
	return newError(kind, message, cause)
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err
// is not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf extracts the client-safe message, defaulting to a generic
// internal-error message for anything that isn't an *Error.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}
