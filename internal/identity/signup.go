package identity

import (
	"context"
	"strings"
)

// Admission is the result of the signup gate. Reason is a fixed phrase, not
// free text, so callers can assert on it.
type Admission struct {
	Allowed bool
	Reason  string
}

// Admission reasons.
const (
	ReasonOwnerBootstrap = "Owner bootstrap allowed"
	ReasonValidInvite    = "Valid invite"
	ReasonSignupClosed   = "Signup not allowed"
)

// CanSignup gates openSignup, signup and acceptInvite. Admission is granted
// when no users exist yet (owner bootstrap) or when a valid unconsumed invite
// is presented. The predicate has no side effects and is idempotent under
// repeated calls with the same input.
func (s *Service) CanSignup(ctx context.Context, inviteToken string) (Admission, error) {
	count, err := s.users.Count(ctx)
	if err != nil {
		return Admission{}, err
	}
	if count == 0 {
		return Admission{Allowed: true, Reason: ReasonOwnerBootstrap}, nil
	}
	if strings.TrimSpace(inviteToken) != "" {
		if _, err := s.invites.Validate(ctx, inviteToken); err == nil {
			return Admission{Allowed: true, Reason: ReasonValidInvite}, nil
		}
	}
	return Admission{Allowed: false, Reason: ReasonSignupClosed}, nil
}
