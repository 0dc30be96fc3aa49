package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const inviteIssuer = "fabrik"

// Invite is a validated, unconsumed admission grant. The kernel only ever
// asks whether an invite is valid for signup; token material stays inside
// the provider.
type Invite struct {
	TokenID string
	Email   string
	Role    Role
}

// InviteProvider validates and consumes signup invites.
type InviteProvider interface {
	Issue(ctx context.Context, email string, role Role, ttl time.Duration) (string, error)
	Validate(ctx context.Context, token string) (Invite, error)
	Consume(ctx context.Context, tokenID string) error
}

type inviteClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// JWTInvites implements InviteProvider with HS256-signed tokens and an
// in-process consumed set for single use.
type JWTInvites struct {
	secret []byte
	now    func() time.Time

	mu       sync.Mutex
	consumed map[string]struct{}
}

var _ InviteProvider = (*JWTInvites)(nil)

// InviteOption configures JWTInvites.
type InviteOption func(*JWTInvites)

// WithInviteClock overrides the time source (useful for tests).
func WithInviteClock(fn func() time.Time) InviteOption {
	return func(p *JWTInvites) {
		if fn != nil {
			p.now = fn
		}
	}
}

// NewJWTInvites constructs the provider with a signing secret.
func NewJWTInvites(secret []byte, opts ...InviteOption) (*JWTInvites, error) {
	if len(secret) == 0 {
		return nil, errors.New("identity: invite secret is required")
	}
	p := &JWTInvites{
		secret:   secret,
		now:      time.Now,
		consumed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Issue signs a single-use invite token for an email and global role.
// Invites never grant the owner role; owner exists only via bootstrap.
func (p *JWTInvites) Issue(ctx context.Context, email string, role Role, ttl time.Duration) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", NewError(CodeMissingField).WithField("email")
	}
	if role == "" {
		return "", NewError(CodeMissingField).WithField("role")
	}
	if role == RoleOwner {
		return "", errors.New("identity: owner role cannot be delegated by invite")
	}
	if ttl <= 0 {
		return "", errors.New("identity: invite ttl must be greater than zero")
	}
	now := p.now().UTC()
	claims := inviteClaims{
		Email: email,
		Role:  string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    inviteIssuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Validate checks signature, issuer, expiry and single use. It has no side
// effects and is idempotent for the same input.
func (p *JWTInvites) Validate(ctx context.Context, token string) (Invite, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Invite{}, NewError(CodeMissingField).WithField("invite")
	}
	parsed, err := jwt.ParseWithClaims(token, &inviteClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, NewError(CodeInvalidCredentials)
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now), jwt.WithIssuer(inviteIssuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Invite{}, NewError(CodeExpired).WithField("invite")
		}
		return Invite{}, NewError(CodeInvalidCredentials).WithField("invite").WithCause(err)
	}
	claims, ok := parsed.Claims.(*inviteClaims)
	if !ok || !parsed.Valid {
		return Invite{}, NewError(CodeInvalidCredentials).WithField("invite")
	}
	if claims.ID == "" || claims.Email == "" || claims.Role == "" {
		return Invite{}, NewError(CodeInvalidCredentials).WithField("invite")
	}
	p.mu.Lock()
	_, used := p.consumed[claims.ID]
	p.mu.Unlock()
	if used {
		return Invite{}, NewError(CodeInvalidCredentials).WithField("invite")
	}
	return Invite{TokenID: claims.ID, Email: claims.Email, Role: Role(claims.Role)}, nil
}

// Consume marks a validated invite as used.
func (p *JWTInvites) Consume(ctx context.Context, tokenID string) error {
	if strings.TrimSpace(tokenID) == "" {
		return NewError(CodeMissingField).WithField("token_id")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, used := p.consumed[tokenID]; used {
		return NewError(CodeInvalidCredentials).WithField("invite")
	}
	p.consumed[tokenID] = struct{}{}
	return nil
}
