// Package pg implements the kernel's persistence contracts on postgres via
// database/sql and the pgx stdlib driver. One Store owns the pool; the typed
// adapters (Users, Assignments, Audit) share it.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// Wrap adopts an existing pool, e.g. one shared with the migration manager.
func Wrap(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Users returns the user store bound to this pool.
func (s *Store) Users() *UserStore { return &UserStore{db: s.db} }

// Assignments returns the assignment store bound to this pool.
func (s *Store) Assignments() *AssignmentStore { return &AssignmentStore{db: s.db} }

// Audit returns the audit sink bound to this pool.
func (s *Store) Audit() *AuditSink { return &AuditSink{db: s.db} }
