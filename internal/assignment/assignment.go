// Package assignment maps users to scoped roles (team membership) layered on
// top of the single global role. Assignments are explicit, auditable acts:
// nothing here is created implicitly, and a scoped role never elevates global
// authorization.
package assignment

import (
	"context"
	"time"
)

// ScopedRole is a role meaningful only inside one scope. It is distinct from
// the global role and never replaces it.
type ScopedRole string

const (
	ScopedRoleManager  ScopedRole = "manager"
	ScopedRoleEmployee ScopedRole = "employee"
)

// Valid reports whether the role belongs to the scope-local role set.
func (r ScopedRole) Valid() bool {
	return r == ScopedRoleManager || r == ScopedRoleEmployee
}

// Assignment binds one user to one scope with a scoped role. Uniqueness per
// (user, scope) is an invariant: duplicates are rejected, never merged.
type Assignment struct {
	UserID    string
	ScopeID   string
	Role      ScopedRole
	CreatedAt time.Time
}

// Store is the persistence collaborator, keyed by (uid, scopeID).
type Store interface {
	Create(ctx context.Context, a *Assignment) error
	Delete(ctx context.Context, uid, scopeID string) error
	Find(ctx context.Context, uid, scopeID string) (*Assignment, error)
	ListForScope(ctx context.Context, scopeID string) ([]Assignment, error)
}

// Audit action names for assignment changes.
const (
	AuditActionAssign = "assign_user_to_team"
	AuditActionRemove = "remove_user_from_team"
)
