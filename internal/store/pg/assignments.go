package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"fabrik.dev/internal/assignment"
)

// AssignmentStore persists scoped role assignments. The (user_id, scope_id)
// pair is a unique key; duplicates are rejected at the database level too.
type AssignmentStore struct {
	db *sql.DB
}

var _ assignment.Store = (*AssignmentStore)(nil)

func (s *AssignmentStore) Create(ctx context.Context, a *assignment.Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into assignments(user_id, scope_id, role, created_at)
		values ($1,$2,$3,$4)
	`, a.UserID, a.ScopeID, string(a.Role), a.CreatedAt)
	if err != nil && strings.Contains(err.Error(), "assignments_pkey") {
		return assignment.NewError(assignment.CodeDuplicate, a.UserID, a.ScopeID)
	}
	return err
}

func (s *AssignmentStore) Delete(ctx context.Context, uid, scopeID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from assignments where user_id=$1 and scope_id=$2
	`, uid, scopeID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return assignment.NewError(assignment.CodeNotFound, uid, scopeID)
	}
	return nil
}

func (s *AssignmentStore) Find(ctx context.Context, uid, scopeID string) (*assignment.Assignment, error) {
	var a assignment.Assignment
	var role string
	err := s.db.QueryRowContext(ctx, `
		select user_id, scope_id, role, created_at
		from assignments where user_id=$1 and scope_id=$2
	`, uid, scopeID).Scan(&a.UserID, &a.ScopeID, &role, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Role = assignment.ScopedRole(role)
	return &a, nil
}

func (s *AssignmentStore) ListForScope(ctx context.Context, scopeID string) ([]assignment.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, scope_id, role, created_at
		from assignments where scope_id=$1
		order by created_at asc, user_id asc
	`, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []assignment.Assignment
	for rows.Next() {
		var a assignment.Assignment
		var role string
		if err := rows.Scan(&a.UserID, &a.ScopeID, &role, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Role = assignment.ScopedRole(role)
		res = append(res, a)
	}
	return res, rows.Err()
}
