// Package identity implements the canonical authentication lifecycle: the
// pure state transition reducer, the signup admission gate and the service
// that applies transitions against user snapshots. Every applied transition
// emits exactly one audit event; rejected or no-op attempts emit none.
package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"fabrik.dev/internal/audit"
	"fabrik.dev/internal/ids"
	"fabrik.dev/internal/obs"
	"fabrik.dev/internal/rbac"
)

// Service applies auth state transitions. Transitions for one user are
// serialized by a per-user lock on top of the store's optimistic version
// check, so concurrent attempts cannot interleave into an inconsistent
// status. Sessions are an in-process overlay: Bootstrap, AcceptInvite and
// Authenticate open one; signOut and disableUser close it.
type Service struct {
	users    UserStore
	invites  InviteProvider
	creds    CredentialProvider
	engine   *rbac.Engine
	recorder *audit.Recorder
	throttle *Throttle
	now      func() time.Time

	// bootstrapMu serializes the zero-users check with the first create, so
	// two concurrent bootstraps cannot both observe an empty system.
	bootstrapMu sync.Mutex

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	sessionsMu sync.Mutex
	sessions   map[string]struct{}
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithThrottle overrides the default sign-in attempt limiter.
func WithThrottle(t *Throttle) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.throttle = t
		}
	}
}

// NewService wires the identity service.
func NewService(users UserStore, invites InviteProvider, creds CredentialProvider, engine *rbac.Engine, recorder *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		users:    users,
		invites:  invites,
		creds:    creds,
		engine:   engine,
		recorder: recorder,
		throttle: NewThrottle(5, 10),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
		sessions: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lockUser(uid string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[uid]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[uid] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (s *Service) beginSession(uid string) {
	s.sessionsMu.Lock()
	s.sessions[uid] = struct{}{}
	s.sessionsMu.Unlock()
}

func (s *Service) endSession(uid string) {
	s.sessionsMu.Lock()
	delete(s.sessions, uid)
	s.sessionsMu.Unlock()
}

func (s *Service) sessionActive(uid string) bool {
	s.sessionsMu.Lock()
	_, ok := s.sessions[uid]
	s.sessionsMu.Unlock()
	return ok
}

// Bootstrap creates the first user as owner. It walks the full admission
// path: openSignup from unauthenticated, then signup, emitting one audit
// event per applied transition.
func (s *Service) Bootstrap(ctx context.Context, email, password string) (User, error) {
	s.bootstrapMu.Lock()
	defer s.bootstrapMu.Unlock()

	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, NewError(CodeMissingField).WithField("email")
	}
	admission, err := s.CanSignup(ctx, "")
	if err != nil {
		return User{}, err
	}
	if !admission.Allowed || admission.Reason != ReasonOwnerBootstrap {
		return User{}, NewError(CodeInvalidCredentials).WithField("bootstrap")
	}
	if err := s.creds.Register(ctx, email, password); err != nil {
		return User{}, err
	}

	state := AuthContext{Status: StatusUnauthenticated, Now: s.now().UTC()}
	state, openEvent, applied := Reduce(state, Action{Type: ActionOpenSignup})
	obs.ObserveTransition(string(ActionOpenSignup), applied)
	if !applied {
		return User{}, NewError(CodeInvalidCredentials).WithField("bootstrap")
	}

	user := s.newUser(email, RoleOwner)
	state, signupEvent, applied := Reduce(state, Action{Type: ActionSignup, User: &user})
	obs.ObserveTransition(string(ActionSignup), applied)
	if !applied {
		return User{}, NewError(CodeInvalidCredentials).WithField("bootstrap")
	}
	user.Status = state.Status

	if _, err := s.recorder.Record(ctx, *openEvent); err != nil {
		return User{}, err
	}
	if _, err := s.recorder.Record(ctx, *signupEvent); err != nil {
		return User{}, err
	}
	if err := s.users.Create(ctx, &user); err != nil {
		return User{}, err
	}
	s.beginSession(user.ID)
	return user, nil
}

// AcceptInvite admits a new user through a valid, unconsumed invite. The
// invite's role becomes the user's single global role.
func (s *Service) AcceptInvite(ctx context.Context, token, password string) (User, error) {
	admission, err := s.CanSignup(ctx, token)
	if err != nil {
		return User{}, err
	}
	// Bootstrap admission also accepts an invite-shaped request on an empty
	// system; the invite still has to validate below.
	if !admission.Allowed {
		return User{}, NewError(CodeInvalidCredentials).WithField("invite")
	}
	invite, err := s.invites.Validate(ctx, token)
	if err != nil {
		return User{}, err
	}
	if existing, err := s.users.FindByEmail(ctx, invite.Email); err == nil && existing != nil {
		return User{}, ErrEmailTaken
	}
	if err := s.creds.Register(ctx, invite.Email, password); err != nil {
		return User{}, err
	}

	user := s.newUser(invite.Email, invite.Role)
	state := AuthContext{Status: StatusUnauthenticated, Now: s.now().UTC()}
	state, event, applied := Reduce(state, Action{Type: ActionAcceptInvite, User: &user})
	obs.ObserveTransition(string(ActionAcceptInvite), applied)
	if !applied {
		return User{}, NewError(CodeInvalidCredentials).WithField("invite")
	}
	user.Status = state.Status

	if _, err := s.recorder.Record(ctx, *event); err != nil {
		return User{}, err
	}
	if err := s.users.Create(ctx, &user); err != nil {
		return User{}, err
	}
	// Burn the invite only once the user exists: an admission aborted above
	// leaves the token valid for a retry. Replay past this point is blocked
	// by the email uniqueness check.
	if err := s.invites.Consume(ctx, invite.TokenID); err != nil {
		obs.LogKV(map[string]any{
			"type":  "identity",
			"level": "error",
			"msg":   "invite consume failed after admission",
			"error": err.Error(),
		})
	}
	s.beginSession(user.ID)
	return user, nil
}

// Apply runs one lifecycle transition for the target user on behalf of the
// actor. verifyEmail and signOut are self-service; disableUser and
// reactivateUser are role-gated through the policy engine. A transition that
// is not valid from the current status is a no-op returning the unchanged
// status with no audit event.
func (s *Service) Apply(ctx context.Context, actor Actor, targetUID string, action ActionType) (Status, error) {
	if strings.TrimSpace(targetUID) == "" {
		return "", NewError(CodeMissingField).WithField("target_uid")
	}
	if err := s.authorizeTransition(actor, targetUID, action); err != nil {
		return "", err
	}

	unlock := s.lockUser(targetUID)
	defer unlock()

	user, err := s.users.Find(ctx, targetUID)
	if err != nil {
		return "", NewError(CodeUserNotFound).WithField("target_uid").WithCause(err)
	}

	// signOut acts on the session overlay; without an active session it is
	// already applied, so repeating it changes nothing and emits nothing.
	if action == ActionSignOut && !s.sessionActive(targetUID) {
		obs.ObserveTransition(string(action), false)
		return StatusUnauthenticated, nil
	}

	before := AuthContext{Status: user.Status, User: user, Now: s.now().UTC()}
	next, event, applied := Reduce(before, Action{Type: action})
	obs.ObserveTransition(string(action), applied)
	if !applied {
		return before.Status, nil
	}

	// The requesting actor, not the target, is the audit actor when they
	// differ; both are captured pre-transition.
	event.ActorUID = actor.UID
	event.ActorRole = string(actor.Role)
	event.TargetUID = targetUID

	// signOut clears the session context only; the stored record keeps its
	// lifecycle status.
	persist := action != ActionSignOut

	// Audit is recorded before the conditional write: a mutation whose audit
	// event failed to persist must never be considered committed.
	if _, err := s.recorder.Record(ctx, *event); err != nil {
		return "", err
	}
	if persist {
		updated := *next.User
		updated.Status = next.Status
		updated.UpdatedAt = s.now().UTC()
		if err := s.users.Update(ctx, &updated, user.Version); err != nil {
			return "", err
		}
	}
	switch action {
	case ActionSignOut, ActionDisableUser:
		s.endSession(targetUID)
	}
	return next.Status, nil
}

func (s *Service) authorizeTransition(actor Actor, targetUID string, action ActionType) error {
	switch action {
	case ActionDisableUser:
		d := s.engine.Decide(string(actor.Role), rbac.ResourceUser, rbac.ActionDisable, rbac.NoScope)
		obs.ObserveDecision(rbac.ResourceUser, rbac.ActionDisable, string(d.Effect))
		if !d.Allowed() {
			return rbac.Forbidden(d, string(actor.Role), rbac.ResourceUser, rbac.ActionDisable)
		}
	case ActionReactivateUser:
		d := s.engine.Decide(string(actor.Role), rbac.ResourceUser, rbac.ActionReactivate, rbac.NoScope)
		obs.ObserveDecision(rbac.ResourceUser, rbac.ActionReactivate, string(d.Effect))
		if !d.Allowed() {
			return rbac.Forbidden(d, string(actor.Role), rbac.ResourceUser, rbac.ActionReactivate)
		}
	case ActionVerifyEmail, ActionSignOut:
		if actor.UID != targetUID && actor.Role != RoleOwner {
			return rbac.Forbidden(
				rbac.Decision{Effect: rbac.EffectDeny, Reason: rbac.ReasonNoRule},
				string(actor.Role), rbac.ResourceUser, string(action),
			)
		}
	}
	return nil
}

// Authenticate checks credentials through the provider under the attempt
// throttle. Disabled users cannot authenticate. The kernel never sees the
// credential material itself.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, NewError(CodeMissingField).WithField("email")
	}
	if password == "" {
		return nil, NewError(CodeMissingField).WithField("password")
	}
	if !s.throttle.Allow(email) {
		return nil, NewError(CodeLockedOut).WithField("email")
	}
	if err := s.creds.Verify(ctx, email, password); err != nil {
		return nil, err
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, NewError(CodeUserNotFound).WithField("email").WithCause(err)
	}
	if user.Disabled || user.Status == StatusDisabled {
		return nil, NewError(CodeInvalidCredentials)
	}
	s.beginSession(user.ID)
	return user, nil
}

// Status returns the stored lifecycle status for a user.
func (s *Service) Status(ctx context.Context, uid string) (Status, error) {
	user, err := s.users.Find(ctx, uid)
	if err != nil {
		return "", NewError(CodeUserNotFound).WithField("uid").WithCause(err)
	}
	return user.Status, nil
}

// Find returns the stored user record.
func (s *Service) Find(ctx context.Context, uid string) (*User, error) {
	user, err := s.users.Find(ctx, uid)
	if err != nil {
		return nil, NewError(CodeUserNotFound).WithField("uid").WithCause(err)
	}
	return user, nil
}

func (s *Service) newUser(email string, role Role) User {
	now := s.now().UTC()
	return User{
		ID:        ids.NewUserID(),
		Email:     email,
		Role:      role,
		Status:    StatusAuthenticated,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
