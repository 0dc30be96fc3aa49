package assignment

import (
	"context"
	"strings"
	"time"

	"fabrik.dev/internal/audit"
	"fabrik.dev/internal/identity"
	"fabrik.dev/internal/obs"
	"fabrik.dev/internal/rbac"
)

// Service applies scoped role changes. Every change is authorized through the
// policy engine first and recorded as exactly one audit event; denied or
// rejected attempts record nothing.
type Service struct {
	store    Store
	users    identity.UserStore
	engine   *rbac.Engine
	recorder *audit.Recorder
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the assignment service.
func NewService(store Store, users identity.UserStore, engine *rbac.Engine, recorder *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		users:    users,
		engine:   engine,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EffectiveRole resolves the single role the engine will evaluate for the
// actor inside a scope: owner stays owner (the bypass is never delegated),
// a scoped assignment wins over the global role, and the global role is the
// fallback. Assignment roles come back qualified into the scoped namespace,
// so an actor without an assignment in the scope can never match a scoped
// rule through their global role. The engine itself never sees more than one
// role.
func (s *Service) EffectiveRole(ctx context.Context, actor identity.Actor, scopeID string) string {
	if actor.Role == identity.RoleOwner {
		return rbac.RoleOwner
	}
	if scopeID != "" {
		if a, err := s.store.Find(ctx, actor.UID, scopeID); err == nil && a != nil {
			return rbac.ScopedRoleName(string(a.Role))
		}
	}
	return string(actor.Role)
}

// Assign grants uid a scoped role in scopeID. Fails with
// ASSIGNMENT_DUPLICATE when an assignment for (uid, scopeID) already exists.
func (s *Service) Assign(ctx context.Context, actor identity.Actor, uid, scopeID string, role ScopedRole) (Assignment, error) {
	if err := validatePair(uid, scopeID); err != nil {
		return Assignment{}, err
	}
	if !role.Valid() {
		return Assignment{}, NewError(CodeInvariantViolation, uid, scopeID)
	}
	if err := s.authorize(ctx, actor, scopeID, rbac.ActionAssign); err != nil {
		return Assignment{}, err
	}

	target, err := s.users.Find(ctx, uid)
	if err != nil {
		return Assignment{}, &Error{Code: CodeOrphaned, UserID: uid, ScopeID: scopeID, Err: err}
	}
	if target.Disabled || target.Status == identity.StatusDisabled {
		return Assignment{}, NewError(CodeInvalidStatus, uid, scopeID)
	}
	if existing, err := s.store.Find(ctx, uid, scopeID); err == nil && existing != nil {
		return Assignment{}, NewError(CodeDuplicate, uid, scopeID)
	}

	a := Assignment{UserID: uid, ScopeID: scopeID, Role: role, CreatedAt: s.now().UTC()}
	event := audit.Event{
		ActorUID:  actor.UID,
		ActorRole: string(actor.Role),
		Action:    AuditActionAssign,
		TargetUID: uid,
		Metadata: map[string]string{
			"scope_id":    scopeID,
			"scoped_role": string(role),
		},
	}
	if _, err := s.recorder.Record(ctx, event); err != nil {
		return Assignment{}, err
	}
	if err := s.store.Create(ctx, &a); err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// Revoke removes the assignment for (uid, scopeID). Fails with
// ASSIGNMENT_NOT_FOUND when none exists.
func (s *Service) Revoke(ctx context.Context, actor identity.Actor, uid, scopeID string) error {
	if err := validatePair(uid, scopeID); err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, scopeID, rbac.ActionRemove); err != nil {
		return err
	}

	existing, err := s.store.Find(ctx, uid, scopeID)
	if err != nil || existing == nil {
		return NewError(CodeNotFound, uid, scopeID)
	}

	event := audit.Event{
		ActorUID:  actor.UID,
		ActorRole: string(actor.Role),
		Action:    AuditActionRemove,
		TargetUID: uid,
		Metadata: map[string]string{
			"scope_id":    scopeID,
			"scoped_role": string(existing.Role),
		},
	}
	if _, err := s.recorder.Record(ctx, event); err != nil {
		return err
	}
	return s.store.Delete(ctx, uid, scopeID)
}

// ListForScope returns all assignments in a scope. Read-only; no audit event.
func (s *Service) ListForScope(ctx context.Context, actor identity.Actor, scopeID string) ([]Assignment, error) {
	if strings.TrimSpace(scopeID) == "" {
		return nil, NewError(CodeMissingField, "", scopeID)
	}
	if err := s.authorize(ctx, actor, scopeID, rbac.ActionList); err != nil {
		return nil, err
	}
	return s.store.ListForScope(ctx, scopeID)
}

func (s *Service) authorize(ctx context.Context, actor identity.Actor, scopeID, action string) error {
	role := s.EffectiveRole(ctx, actor, scopeID)
	scope := rbac.Scope{Type: "team", ID: scopeID}
	d := s.engine.Decide(role, rbac.ResourceTeamMember, action, scope)
	obs.ObserveDecision(rbac.ResourceTeamMember, action, string(d.Effect))
	if !d.Allowed() {
		return rbac.Forbidden(d, role, rbac.ResourceTeamMember, action)
	}
	return nil
}

func validatePair(uid, scopeID string) error {
	if strings.TrimSpace(uid) == "" || strings.TrimSpace(scopeID) == "" {
		return NewError(CodeMissingField, uid, scopeID)
	}
	return nil
}
