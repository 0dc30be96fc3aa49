package assignment

import (
	"errors"
	"fmt"
)

// Code is a typed assignment error code.
type Code string

const (
	CodeNotFound           Code = "ASSIGNMENT_NOT_FOUND"
	CodeDuplicate          Code = "ASSIGNMENT_DUPLICATE"
	CodeInvalidStatus      Code = "ASSIGNMENT_INVALID_STATUS"
	CodeOrphaned           Code = "ASSIGNMENT_ORPHANED"
	CodeMissingField       Code = "ASSIGNMENT_MISSING_REQUIRED_FIELD"
	CodeInvariantViolation Code = "ASSIGNMENT_INVARIANT_VIOLATION"
)

// Error carries a code plus the (user, scope) pair involved.
type Error struct {
	Code    Code
	UserID  string
	ScopeID string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("assignment: %s (%s/%s): %v", e.Code, e.UserID, e.ScopeID, e.Err)
	}
	return fmt.Sprintf("assignment: %s (%s/%s)", e.Code, e.UserID, e.ScopeID)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error for the pair.
func NewError(code Code, uid, scopeID string) *Error {
	return &Error{Code: code, UserID: uid, ScopeID: scopeID}
}

// CodeOf extracts the assignment code from err, or empty.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
