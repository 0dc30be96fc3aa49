package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"fabrik.dev/internal/identity"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("pg: not found")

// UserStore persists user records with an optimistic version column.
type UserStore struct {
	db *sql.DB
}

var _ identity.UserStore = (*UserStore)(nil)

func (s *UserStore) Create(ctx context.Context, u *identity.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, email, role, status, verified, disabled, version, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, u.ID, u.Email, string(u.Role), string(u.Status), u.Verified, u.Disabled, u.Version, u.CreatedAt, u.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "users_email_key") {
		return identity.ErrEmailTaken
	}
	return err
}

func (s *UserStore) Find(ctx context.Context, id string) (*identity.User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		select id, email, role, status, verified, disabled, version, created_at, updated_at
		from users where id=$1
	`, id))
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	return s.scanOne(s.db.QueryRowContext(ctx, `
		select id, email, role, status, verified, disabled, version, created_at, updated_at
		from users where email=$1
	`, email))
}

// Update is a conditional write keyed on the expected version. Zero rows
// affected means another writer got there first.
func (s *UserStore) Update(ctx context.Context, u *identity.User, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set email=$2, role=$3, status=$4, verified=$5, disabled=$6, version=version+1, updated_at=$7
		where id=$1 and version=$8
	`, u.ID, u.Email, string(u.Role), string(u.Status), u.Verified, u.Disabled, u.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrVersionConflict
	}
	u.Version = expectedVersion + 1
	return nil
}

func (s *UserStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *UserStore) scanOne(row *sql.Row) (*identity.User, error) {
	var u identity.User
	var role, status string
	var created, updated time.Time
	err := row.Scan(&u.ID, &u.Email, &role, &status, &u.Verified, &u.Disabled, &u.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = identity.Role(role)
	u.Status = identity.Status(status)
	u.CreatedAt = created
	u.UpdatedAt = updated
	return &u, nil
}
