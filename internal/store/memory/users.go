// Package memory implements the kernel's collaborator contracts with
// in-process maps. Used by tests and the smoke command; durable deployments
// use the postgres adapters instead.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"fabrik.dev/internal/identity"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("memory: not found")

// UserStore keeps user records in a map guarded by one mutex.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]identity.User
}

var _ identity.UserStore = (*UserStore)(nil)

// NewUserStore creates an empty store.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]identity.User)}
}

func (s *UserStore) Create(ctx context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.ID]; exists {
		return errors.New("memory: user id already exists")
	}
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return identity.ErrEmailTaken
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *UserStore) Find(ctx context.Context, id string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := u
	return &out, nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// Update is a conditional write keyed on the expected version. The version
// counter advances by one on success.
func (s *UserStore) Update(ctx context.Context, u *identity.User, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return identity.ErrVersionConflict
	}
	next := *u
	next.Version = expectedVersion + 1
	s.users[u.ID] = next
	u.Version = next.Version
	return nil
}

func (s *UserStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}
