package memory

import (
	"context"
	"sync"

	"fabrik.dev/internal/assignment"
)

// AssignmentStore keeps assignments keyed by (uid, scopeID).
type AssignmentStore struct {
	mu      sync.RWMutex
	entries map[string]assignment.Assignment
	order   []string
}

var _ assignment.Store = (*AssignmentStore)(nil)

// NewAssignmentStore creates an empty store.
func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{entries: make(map[string]assignment.Assignment)}
}

func key(uid, scopeID string) string { return uid + "\x00" + scopeID }

func (s *AssignmentStore) Create(ctx context.Context, a *assignment.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(a.UserID, a.ScopeID)
	if _, exists := s.entries[k]; exists {
		return assignment.NewError(assignment.CodeDuplicate, a.UserID, a.ScopeID)
	}
	s.entries[k] = *a
	s.order = append(s.order, k)
	return nil
}

func (s *AssignmentStore) Delete(ctx context.Context, uid, scopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(uid, scopeID)
	if _, exists := s.entries[k]; !exists {
		return assignment.NewError(assignment.CodeNotFound, uid, scopeID)
	}
	delete(s.entries, k)
	for i, existing := range s.order {
		if existing == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *AssignmentStore) Find(ctx context.Context, uid, scopeID string) (*assignment.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.entries[key(uid, scopeID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := a
	return &out, nil
}

func (s *AssignmentStore) ListForScope(ctx context.Context, scopeID string) ([]assignment.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []assignment.Assignment
	for _, k := range s.order {
		a := s.entries[k]
		if a.ScopeID == scopeID {
			res = append(res, a)
		}
	}
	return res, nil
}
