// Package migrate applies the kernel's schema migrations and seed data from
// plain SQL files on disk. Two journal tables record what already ran, so
// every command is safe to repeat.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	defaultJournalTable = "schema_migrations"
	defaultSeedLogTable = "schema_seeds"
)

// Runner executes migration and seed files against one database.
type Runner struct {
	db      *sql.DB
	dir     string
	seedDir string
	journal string
	seedLog string
}

// Option configures a Runner.
type Option func(*Runner)

// WithJournalTable overrides the migration journal table name.
func WithJournalTable(name string) Option {
	return func(r *Runner) {
		if name != "" {
			r.journal = name
		}
	}
}

// WithSeedLogTable overrides the seed journal table name.
func WithSeedLogTable(name string) Option {
	return func(r *Runner) {
		if name != "" {
			r.seedLog = name
		}
	}
}

// New constructs a Runner reading *.up.sql/*.down.sql files from dir and seed
// files from seedDir.
func New(db *sql.DB, dir, seedDir string, opts ...Option) *Runner {
	r := &Runner{
		db:      db,
		dir:     dir,
		seedDir: seedDir,
		journal: defaultJournalTable,
		seedLog: defaultSeedLogTable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply runs every pending up migration in filename order.
func (r *Runner) Apply(ctx context.Context) error {
	if err := r.ensureJournals(ctx); err != nil {
		return err
	}
	done, err := r.journalSet(ctx, r.journal)
	if err != nil {
		return err
	}
	names, err := listSQL(r.dir, ".up.sql")
	if err != nil {
		return err
	}
	for _, name := range names {
		if done[name] {
			continue
		}
		if err := r.runFile(ctx, filepath.Join(r.dir, name)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if err := r.record(ctx, r.journal, name); err != nil {
			return err
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration via its .down.sql
// counterpart.
func (r *Runner) Rollback(ctx context.Context) error {
	applied, err := r.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("migrate: nothing to roll back")
	}
	last := applied[len(applied)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	path := filepath.Join(r.dir, down)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("migrate: no down file for %s", last)
	}
	if err := r.runFile(ctx, path); err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, r.journal), last)
	return err
}

// Applied returns migration names in the order they ran.
func (r *Runner) Applied(ctx context.Context) ([]string, error) {
	if err := r.ensureJournals(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`select name from %s order by applied_at asc, name asc`, r.journal))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Seed runs pending seed files; each is journaled so reseeding is a no-op.
func (r *Runner) Seed(ctx context.Context) error {
	if err := r.ensureJournals(ctx); err != nil {
		return err
	}
	done, err := r.journalSet(ctx, r.seedLog)
	if err != nil {
		return err
	}
	names, err := listSQL(r.seedDir, ".sql")
	if err != nil {
		return err
	}
	for _, name := range names {
		if done[name] {
			continue
		}
		if err := r.runFile(ctx, filepath.Join(r.seedDir, name)); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		if err := r.record(ctx, r.seedLog, name); err != nil {
			return err
		}
	}
	return nil
}

// Verify confirms the named tables exist. Run after Apply to catch a schema
// that drifted from what the kernel expects.
func (r *Runner) Verify(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		var reg sql.NullString
		if err := r.db.QueryRowContext(ctx, `select to_regclass($1)`, table).Scan(&reg); err != nil {
			return err
		}
		if !reg.Valid {
			return fmt.Errorf("migrate: table %s is missing", table)
		}
	}
	return nil
}

func (r *Runner) ensureJournals(ctx context.Context) error {
	for _, table := range []string{r.journal, r.seedLog} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// runFile executes one SQL file inside a single transaction.
func (r *Runner) runFile(ctx context.Context, path string) error {
	script, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitSQL(string(script)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Runner) record(ctx context.Context, table, name string) error {
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		name, time.Now().UTC())
	return err
}

func (r *Runner) journalSet(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		done[name] = true
	}
	return done, rows.Err()
}

// listSQL returns the matching file names in a flat directory, sorted. A
// missing or empty directory yields nothing to run.
func listSQL(dir, suffix string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// splitSQL breaks a script into statements on semicolons outside
// single-quoted literals.
func splitSQL(script string) []string {
	var out []string
	start := 0
	quoted := false
	for i, ch := range script {
		switch ch {
		case '\'':
			quoted = !quoted
		case ';':
			if !quoted {
				out = append(out, script[start:i+1])
				start = i + 1
			}
		}
	}
	if rest := script[start:]; strings.TrimSpace(rest) != "" {
		out = append(out, rest)
	}
	return out
}
