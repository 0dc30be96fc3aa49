package rbac

import (
	"errors"
	"fmt"
)

// ForbiddenError is the single authorization failure kind. It carries the
// typed policy reason so callers and audits can branch without parsing text.
type ForbiddenError struct {
	Reason   Reason
	Role     string
	Resource string
	Action   string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("rbac: forbidden (%s): %s may not %s %s", e.Reason, e.Role, e.Action, e.Resource)
}

// Forbidden builds a ForbiddenError from a denied decision.
func Forbidden(d Decision, role, resource, action string) *ForbiddenError {
	return &ForbiddenError{Reason: d.Reason, Role: role, Resource: resource, Action: action}
}

// IsForbidden reports whether err is an authorization denial.
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}
