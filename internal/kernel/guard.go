// Package kernel exposes the single enforcement surface the route/UI layer
// calls. The guard composes the policy engine, the auth state machine and the
// assignment layer; it adds no authorization logic of its own.
package kernel

import (
	"context"

	"fabrik.dev/internal/assignment"
	"fabrik.dev/internal/audit"
	"fabrik.dev/internal/identity"
	"fabrik.dev/internal/obs"
	"fabrik.dev/internal/rbac"
)

// DeniedAttemptAction is the audit action recorded for denials when the
// denied-attempt policy is enabled.
const DeniedAttemptAction = "denied_attempt"

// Guard is the kernel facade. All methods are safe for concurrent use.
type Guard struct {
	identity    *identity.Service
	assignments *assignment.Service
	engine      *rbac.Engine
	recorder    *audit.Recorder
	auditDenied bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithDeniedAttemptAudit records an audit event for every denied
// authorization attempt. Off by default: denials normally leave no trace
// beyond metrics.
func WithDeniedAttemptAudit() Option {
	return func(g *Guard) { g.auditDenied = true }
}

// NewGuard wires the facade.
func NewGuard(ids *identity.Service, assignments *assignment.Service, engine *rbac.Engine, recorder *audit.Recorder, opts ...Option) *Guard {
	g := &Guard{
		identity:    ids,
		assignments: assignments,
		engine:      engine,
		recorder:    recorder,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize answers "may actor do action on resource within scope". The
// actor's single effective role is resolved first (scoped assignment wins
// inside a scope, owner is never overridden), then the engine decides. A
// denial performs no side effects unless the denied-attempt audit policy is
// configured.
func (g *Guard) Authorize(ctx context.Context, actor identity.Actor, resource, action string, scope rbac.Scope) rbac.Decision {
	role := string(actor.Role)
	if !scope.IsZero() {
		role = g.assignments.EffectiveRole(ctx, actor, scope.ID)
	}
	d := g.engine.Decide(role, resource, action, scope)
	obs.ObserveDecision(resource, action, string(d.Effect))
	if !d.Allowed() && g.auditDenied {
		g.recordDenied(ctx, actor, resource, action, d)
	}
	return d
}

// Require is Authorize with a typed forbidden error on deny.
func (g *Guard) Require(ctx context.Context, actor identity.Actor, resource, action string, scope rbac.Scope) error {
	d := g.Authorize(ctx, actor, resource, action, scope)
	if !d.Allowed() {
		return rbac.Forbidden(d, string(actor.Role), resource, action)
	}
	return nil
}

// Transition runs one auth lifecycle transition for the target user. The
// invoked operation emits its own audit event; the guard never double-emits.
func (g *Guard) Transition(ctx context.Context, actor identity.Actor, targetUID string, action identity.ActionType) (identity.Status, error) {
	return g.identity.Apply(ctx, actor, targetUID, action)
}

// Assign grants a scoped role; authorization and audit happen inside the
// assignment service.
func (g *Guard) Assign(ctx context.Context, actor identity.Actor, uid, scopeID string, role assignment.ScopedRole) (assignment.Assignment, error) {
	return g.assignments.Assign(ctx, actor, uid, scopeID, role)
}

// Revoke removes a scoped role.
func (g *Guard) Revoke(ctx context.Context, actor identity.Actor, uid, scopeID string) error {
	return g.assignments.Revoke(ctx, actor, uid, scopeID)
}

// ListForScope lists a scope's assignments.
func (g *Guard) ListForScope(ctx context.Context, actor identity.Actor, scopeID string) ([]assignment.Assignment, error) {
	return g.assignments.ListForScope(ctx, actor, scopeID)
}

// Status returns the stored lifecycle status for a user.
func (g *Guard) Status(ctx context.Context, uid string) (identity.Status, error) {
	return g.identity.Status(ctx, uid)
}

// History returns the audit timeline for an actor in insertion order.
func (g *Guard) History(ctx context.Context, actorUID string) ([]audit.Event, error) {
	return g.recorder.EventsForActor(ctx, actorUID)
}

func (g *Guard) recordDenied(ctx context.Context, actor identity.Actor, resource, action string, d rbac.Decision) {
	_, err := g.recorder.Record(ctx, audit.Event{
		ActorUID:  actor.UID,
		ActorRole: string(actor.Role),
		Action:    DeniedAttemptAction,
		Metadata: map[string]string{
			"resource": resource,
			"action":   action,
			"reason":   string(d.Reason),
		},
	})
	if err != nil {
		obs.LogKV(map[string]any{
			"type":  "audit",
			"level": "error",
			"msg":   "denied-attempt audit failed",
			"error": err.Error(),
		})
	}
}
