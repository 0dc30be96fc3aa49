package identity

import "time"

// Role is the single system-wide permission role a user holds. A user has
// exactly one global role at any time; a role change replaces the prior role,
// never adds to it.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleEmployee Role = "employee"
)

// Status is the authentication lifecycle state of a user.
type Status string

const (
	StatusUnauthenticated    Status = "unauthenticated"
	StatusSignupAllowedOwner Status = "signup_allowed_owner"
	StatusAuthenticated      Status = "authenticated"
	StatusVerified           Status = "verified"
	StatusDisabled           Status = "disabled"
)

// User is the identity record. Version is the optimistic concurrency counter:
// updates are conditional writes keyed on the expected version.
type User struct {
	ID        string
	Email     string
	Role      Role
	Status    Status
	Verified  bool
	Disabled  bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuthContext is the transient per-session state the reducer operates on.
// It is derived from the User record and never persisted directly.
// User is nil iff Status is unauthenticated or signup_allowed_owner.
type AuthContext struct {
	Status Status
	User   *User
	Now    time.Time
}

// ActionType names a state machine transition. Audit event actions equal
// these names exactly.
type ActionType string

const (
	ActionOpenSignup     ActionType = "openSignup"
	ActionAcceptInvite   ActionType = "acceptInvite"
	ActionSignup         ActionType = "signup"
	ActionVerifyEmail    ActionType = "verifyEmail"
	ActionDisableUser    ActionType = "disableUser"
	ActionSignOut        ActionType = "signOut"
	ActionReactivateUser ActionType = "reactivateUser"
)

// Action is one state machine input. User carries the identity being attached
// for signup and acceptInvite.
type Action struct {
	Type ActionType
	User *User
}

// Actor identifies who requested an operation, with the single effective role
// resolved before any RBAC call.
type Actor struct {
	UID  string
	Role Role
}

// AnonymousActor marks pre-authentication transitions in audit events.
const AnonymousActor = "anonymous"
