// Package rbac implements the deterministic role-based access decision
// engine. Decide is a pure function of (role, resource, action, scope) and a
// static policy table: no I/O, no mutable state, no wildcards, default deny.
package rbac

// Effect is the outcome of a decision.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Reason is a typed code explaining a decision. Callers and audits branch on
// these, never on message strings.
type Reason string

const (
	ReasonRuleMatch     Reason = "RULE_MATCH"
	ReasonOwnerBypass   Reason = "OWNER_BYPASS"
	ReasonNoRule        Reason = "NO_RULE"
	ReasonScopeRequired Reason = "SCOPE_REQUIRED"
	ReasonMissingInput  Reason = "MISSING_INPUT"
)

// Decision carries the effect together with its reason code.
type Decision struct {
	Effect Effect
	Reason Reason
}

// Allowed reports whether the decision permits the action.
func (d Decision) Allowed() bool { return d.Effect == EffectAllow }

// Scope qualifies a decision to one scope instance, e.g. team:t1.
type Scope struct {
	Type string
	ID   string
}

// NoScope is passed for global (unscoped) decisions.
var NoScope = Scope{}

// IsZero reports whether the scope is absent.
func (s Scope) IsZero() bool { return s.Type == "" && s.ID == "" }

// Engine answers authorization questions against one frozen policy.
// It is stateless beyond the immutable table and safe for unlimited
// concurrent use.
type Engine struct {
	policy *Policy
}

// NewEngine wraps a frozen policy.
func NewEngine(policy *Policy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the engine's rule table.
func (e *Engine) Policy() *Policy { return e.policy }

// Decide evaluates exactly one role against one (resource, action) pair.
// A caller holding several candidate roles must resolve a single effective
// role first; the engine has no multi-role union logic. Absence of a rule is
// an explicit deny.
func (e *Engine) Decide(role, resource, action string, scope Scope) Decision {
	if role == "" || resource == "" || action == "" {
		return Decision{Effect: EffectDeny, Reason: ReasonMissingInput}
	}
	if role == RoleOwner {
		return Decision{Effect: EffectAllow, Reason: ReasonOwnerBypass}
	}
	rule, ok := e.policy.lookup(role, resource, action)
	if !ok {
		return Decision{Effect: EffectDeny, Reason: ReasonNoRule}
	}
	if rule.RequiresScope && scope.IsZero() {
		return Decision{Effect: EffectDeny, Reason: ReasonScopeRequired}
	}
	return Decision{Effect: EffectAllow, Reason: ReasonRuleMatch}
}
