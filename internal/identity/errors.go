package identity

import (
	"errors"
	"fmt"
)

// Code is a typed auth error code. Callers branch on codes, never on text.
type Code string

const (
	CodeInvalidCredentials Code = "AUTH_INVALID_CREDENTIALS"
	CodeLockedOut          Code = "AUTH_LOCKED_OUT"
	CodeExpired            Code = "AUTH_EXPIRED"
	CodeUserNotFound       Code = "AUTH_USER_NOT_FOUND"
	CodeMissingField       Code = "AUTH_MISSING_REQUIRED_FIELD"
)

// Error wraps a code with optional field context and an underlying cause.
type Error struct {
	Code  Code
	Field string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("identity: %s (%s): %v", e.Code, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("identity: %s (%s)", e.Code, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("identity: %s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("identity: %s", e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error for the given code.
func NewError(code Code) *Error { return &Error{Code: code} }

// WithField attaches the offending field name.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// CodeOf extracts the auth code from err, or empty when err is not an
// identity error.
func CodeOf(err error) Code {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

var (
	// ErrVersionConflict is returned when a conditional write loses the
	// optimistic version check. Retryable.
	ErrVersionConflict = errors.New("identity: version conflict")

	// ErrEmailTaken is returned when creating a user with an existing email.
	ErrEmailTaken = errors.New("identity: email already registered")
)
