package identity

import "fabrik.dev/internal/audit"

// Reduce is the pure auth state transition function. It returns the next
// context, the audit event the caller must emit when the transition applied,
// and whether it applied at all. An action that is not valid for the current
// state is a no-op: the unchanged context comes back with a nil event, and no
// unrelated field is ever mutated.
//
// disableUser and signOut are evaluated after the state-specific rules, so
// they override any other transition attempted in the same request. Repeating
// an already-applied action (verifyEmail while verified, signOut while
// unauthenticated) is a no-op and emits nothing.
func Reduce(state AuthContext, action Action) (AuthContext, *audit.Event, bool) {
	next, applied := reduceState(state, action)
	if !applied {
		return state, nil, false
	}
	return next, transitionEvent(state, action), true
}

func reduceState(state AuthContext, action Action) (AuthContext, bool) {
	switch action.Type {
	case ActionOpenSignup:
		if state.Status != StatusUnauthenticated {
			return state, false
		}
		return AuthContext{Status: StatusSignupAllowedOwner, Now: state.Now}, true

	case ActionAcceptInvite:
		if state.Status != StatusUnauthenticated || action.User == nil {
			return state, false
		}
		return AuthContext{Status: StatusAuthenticated, User: action.User, Now: state.Now}, true

	case ActionSignup:
		if state.Status != StatusSignupAllowedOwner || action.User == nil {
			return state, false
		}
		return AuthContext{Status: StatusAuthenticated, User: action.User, Now: state.Now}, true

	case ActionVerifyEmail:
		if state.Status != StatusAuthenticated || state.User == nil {
			return state, false
		}
		u := *state.User
		u.Verified = true
		return AuthContext{Status: StatusVerified, User: &u, Now: state.Now}, true

	case ActionReactivateUser:
		if state.Status != StatusDisabled || state.User == nil {
			return state, false
		}
		u := *state.User
		u.Disabled = false
		return AuthContext{Status: StatusAuthenticated, User: &u, Now: state.Now}, true
	}

	// Global overrides, checked after the state-specific rules.
	switch action.Type {
	case ActionDisableUser:
		if state.Status == StatusDisabled || state.User == nil {
			return state, false
		}
		u := *state.User
		u.Disabled = true
		return AuthContext{Status: StatusDisabled, User: &u, Now: state.Now}, true

	case ActionSignOut:
		if state.Status == StatusUnauthenticated {
			return state, false
		}
		return AuthContext{Status: StatusUnauthenticated, Now: state.Now}, true
	}

	return state, false
}

// transitionEvent captures the actor from the pre-transition context. For
// admission transitions with no authenticated user yet, the incoming user (or
// the anonymous marker for openSignup) is the actor.
func transitionEvent(before AuthContext, action Action) *audit.Event {
	actorUID := AnonymousActor
	actorRole := AnonymousActor
	targetUID := ""
	switch {
	case before.User != nil:
		actorUID = before.User.ID
		actorRole = string(before.User.Role)
		targetUID = before.User.ID
	case action.User != nil:
		actorUID = action.User.ID
		actorRole = string(action.User.Role)
		targetUID = action.User.ID
	}
	return &audit.Event{
		ActorUID:  actorUID,
		ActorRole: actorRole,
		Action:    string(action.Type),
		TargetUID: targetUID,
		Metadata:  map[string]string{"from_status": string(before.Status)},
		CreatedAt: before.Now,
	}
}
