package rbac

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrWildcardRule  = errors.New("rbac: wildcard rules are not allowed")
	ErrDuplicateRule = errors.New("rbac: duplicate rule")
	ErrOwnerRule     = errors.New("rbac: owner rules are implicit, do not declare them")
	ErrEmptyRule     = errors.New("rbac: rule fields must not be empty")
)

// RoleOwner is the single global role that bypasses every policy check.
// The bypass lives in Engine.Decide, not in the rule table, so the
// exception stays singular and auditable.
const RoleOwner = "owner"

// Rule permits exactly one (role, resource, action) triple. Absence of a
// matching rule is a deny. RequiresScope marks rules that only apply when the
// caller supplies a scope, confining scoped roles to their scope's resource
// namespace.
type Rule struct {
	Role          string
	Resource      string
	Action        string
	RequiresScope bool
}

func (r Rule) key() string {
	return r.Role + "\x00" + r.Resource + "\x00" + r.Action
}

// Policy is an immutable, versioned rule table loaded once at startup.
// Policy changes ship as a new version, never as a live mutation.
type Policy struct {
	version string
	rules   map[string]Rule
}

// NewPolicy validates and freezes a rule set. Wildcards, blank fields,
// explicit owner rules and duplicate triples all fail construction; the
// kernel never silently corrects an invalid table.
func NewPolicy(version string, rules []Rule) (*Policy, error) {
	if strings.TrimSpace(version) == "" {
		return nil, errors.New("rbac: policy version is required")
	}
	table := make(map[string]Rule, len(rules))
	for _, rule := range rules {
		if rule.Role == "" || rule.Resource == "" || rule.Action == "" {
			return nil, fmt.Errorf("%w: %+v", ErrEmptyRule, rule)
		}
		if strings.Contains(rule.Role, "*") || strings.Contains(rule.Resource, "*") || strings.Contains(rule.Action, "*") {
			return nil, fmt.Errorf("%w: %s/%s/%s", ErrWildcardRule, rule.Role, rule.Resource, rule.Action)
		}
		if rule.Role == RoleOwner {
			return nil, fmt.Errorf("%w: %s/%s", ErrOwnerRule, rule.Resource, rule.Action)
		}
		key := rule.key()
		if _, exists := table[key]; exists {
			return nil, fmt.Errorf("%w: %s/%s/%s", ErrDuplicateRule, rule.Role, rule.Resource, rule.Action)
		}
		table[key] = rule
	}
	return &Policy{version: version, rules: table}, nil
}

// Version reports the policy table version.
func (p *Policy) Version() string { return p.version }

// Len reports the number of explicit rules.
func (p *Policy) Len() int { return len(p.rules) }

func (p *Policy) lookup(role, resource, action string) (Rule, bool) {
	r, ok := p.rules[Rule{Role: role, Resource: resource, Action: action}.key()]
	return r, ok
}
