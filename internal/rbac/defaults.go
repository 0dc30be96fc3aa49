package rbac

// Resource and action names used by kernel operations.
const (
	ResourceUser       = "user"
	ResourceTeam       = "team"
	ResourceTeamMember = "team.member"
	ResourceInvite     = "invite"
	ResourceAuditLog   = "audit_log"

	ActionRead       = "read"
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionDisable    = "disable"
	ActionReactivate = "reactivate"
	ActionAssign     = "assign"
	ActionRemove     = "remove"
	ActionList       = "list"
)

// Global and scoped role names. Scoped roles live in their own "team:"
// namespace: a global role and a scoped role may share a human name
// ("employee"), but the engine only ever sees the qualified form for scoped
// evaluations, so a scoped rule can never match a caller holding only the
// global role.
const (
	RoleEmployee       = "employee"
	ScopedRoleManager  = "team:manager"
	ScopedRoleEmployee = "team:employee"
)

// ScopedRoleName qualifies a scope-local role for policy evaluation.
func ScopedRoleName(role string) string { return "team:" + role }

// DefaultPolicy is the shipped v1 rule table. Owner has no rows here; the
// bypass is the engine's single explicit exception.
func DefaultPolicy() (*Policy, error) {
	return NewPolicy("v1", []Rule{
		// Global employee capabilities.
		{Role: RoleEmployee, Resource: ResourceUser, Action: ActionRead},
		{Role: RoleEmployee, Resource: ResourceTeam, Action: ActionRead},
		{Role: RoleEmployee, Resource: ResourceAuditLog, Action: ActionRead},

		// Scoped manager capabilities, valid only inside an explicit team scope.
		{Role: ScopedRoleManager, Resource: ResourceTeam, Action: ActionUpdate, RequiresScope: true},
		{Role: ScopedRoleManager, Resource: ResourceTeamMember, Action: ActionAssign, RequiresScope: true},
		{Role: ScopedRoleManager, Resource: ResourceTeamMember, Action: ActionRemove, RequiresScope: true},
		{Role: ScopedRoleManager, Resource: ResourceTeamMember, Action: ActionList, RequiresScope: true},

		// Scoped employee capabilities.
		{Role: ScopedRoleEmployee, Resource: ResourceTeamMember, Action: ActionList, RequiresScope: true},
	})
}

// MustDefaultPolicy panics when the shipped table fails validation. Intended
// for wiring at process start.
func MustDefaultPolicy() *Policy {
	p, err := DefaultPolicy()
	if err != nil {
		panic(err)
	}
	return p
}
