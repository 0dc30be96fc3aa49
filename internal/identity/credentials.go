package identity

import (
	"context"
	"strings"
	"sync"
)

// CredentialProvider is the external identity collaborator holding raw
// credential material. The kernel only asks it to register or verify; hashes
// never cross this boundary.
type CredentialProvider interface {
	Register(ctx context.Context, email, password string) error
	Verify(ctx context.Context, email, password string) error
}

// LocalCredentials implements CredentialProvider with argon2id hashes held
// in process. Production deployments substitute the hosted identity system.
type LocalCredentials struct {
	mu     sync.RWMutex
	hashes map[string]string
}

var _ CredentialProvider = (*LocalCredentials)(nil)

// NewLocalCredentials creates an empty provider.
func NewLocalCredentials() *LocalCredentials {
	return &LocalCredentials{hashes: make(map[string]string)}
}

func (c *LocalCredentials) Register(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return NewError(CodeMissingField).WithField("email")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[email] = hash
	return nil
}

func (c *LocalCredentials) Verify(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	c.mu.RLock()
	hash, ok := c.hashes[email]
	c.mu.RUnlock()
	if !ok {
		return NewError(CodeInvalidCredentials)
	}
	return VerifyPassword(hash, password)
}
