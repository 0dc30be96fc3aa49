package identity

import "context"

// UserStore is the persistence collaborator for user records. There is no
// delete: users leave the system by moving to the disabled status, which
// preserves audit linkage. Update is a conditional write keyed on the
// expected version and fails with ErrVersionConflict on mismatch.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User, expectedVersion int64) error
	Count(ctx context.Context) (int, error)
}
