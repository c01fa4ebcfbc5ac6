package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultTable = "schema_migrations"

// Status describes one known migration.
type Status struct {
	Name            string
	Applied         bool
	AppliedAt       time.Time
	ExecutionTimeMs int64
	// ChecksumMismatch is set when the applied script differs from the embedded one.
	ChecksumMismatch bool
}

// Manager applies migrations to a Postgres database through database/sql
// (driver "pgx" from pgx/v5/stdlib).
type Manager struct {
	db    *sql.DB
	files []File
	table string
	now   func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithTable overrides the bookkeeping table name.
func WithTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// NewManager constructs a Manager over files.
func NewManager(db *sql.DB, files []File, opts ...Option) *Manager {
	m := &Manager{
		db:    db,
		files: files,
		table: defaultTable,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations, each in its own transaction together with
// its bookkeeping row. It returns the names applied by this call.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, f := range m.files {
		if _, ok := applied[f.Name]; ok {
			continue
		}
		if err := m.apply(ctx, f); err != nil {
			return done, fmt.Errorf("apply migration %s: %w", f.Name, err)
		}
		done = append(done, f.Name)
	}
	return done, nil
}

// Status reports every known migration in order.
func (m *Manager) Status(ctx context.Context) ([]Status, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, statusFor(f, applied))
	}
	return out, nil
}

// Info reports a single migration by file name.
func (m *Manager) Info(ctx context.Context, name string) (Status, error) {
	all, err := m.Status(ctx)
	if err != nil {
		return Status{}, err
	}
	for _, st := range all {
		if st.Name == name {
			return st, nil
		}
	}
	return Status{}, fmt.Errorf("%w: %s", ErrUnknownMigration, name)
}

type record struct {
	appliedAt time.Time
	execMs    int64
	checksum  string
}

func statusFor(f File, applied map[string]record) Status {
	st := Status{Name: f.Name}
	if r, ok := applied[f.Name]; ok {
		st.Applied = true
		st.AppliedAt = r.appliedAt
		st.ExecutionTimeMs = r.execMs
		st.ChecksumMismatch = r.checksum != f.Checksum
	}
	return st
}

func (m *Manager) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now(),
			execution_time_ms bigint not null default 0,
			checksum text not null default ''
		)`, m.table)
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

func (m *Manager) applied(ctx context.Context) (map[string]record, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(
		`select name, applied_at, execution_time_ms, checksum from %s order by name`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]record)
	for rows.Next() {
		var (
			name string
			r    record
		)
		if err := rows.Scan(&name, &r.appliedAt, &r.execMs, &r.checksum); err != nil {
			return nil, err
		}
		out[name] = r
	}
	return out, rows.Err()
}

func (m *Manager) apply(ctx context.Context, f File) error {
	start := time.Now()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range f.Statements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`insert into %s (name, applied_at, execution_time_ms, checksum) values ($1, $2, $3, $4)`, m.table),
		f.Name, m.now(), time.Since(start).Milliseconds(), f.Checksum,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}
