// Package sqlitedb opens the SQLite database used when PLUG_STORE=sqlite.
//
// Every connection gets the same pragmas (WAL, busy timeout). Open applies the
// embedded SQLite migrations before returning, so stores never see a missing
// table.
package sqlitedb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"plug/cmd/internal/migrate"
)

// Config holds the parameters for opening the pool.
type Config struct {
	// Path is the database file. Its parent directory is created if missing.
	Path string
	// PoolSize defaults to 4. SQLite serializes writers regardless.
	PoolSize int
	Logger   *slog.Logger
}

// Pool wraps sqlitex.Pool with the service's pragmas.
type Pool struct {
	inner *sqlitex.Pool
	log   *slog.Logger
	path  string
}

// Open creates the pool and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitedb: Path is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = 4
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlitedb: create dir %s: %w", dir, err)
		}
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: open %s: %w", cfg.Path, err)
	}

	p := &Pool{inner: inner, log: log, path: cfg.Path}
	applied, err := p.Migrate(ctx)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}

	log.Info("sqlite.open", "path", cfg.Path, "pool_size", size, "migrations_applied", len(applied))
	return p, nil
}

// Take borrows a connection. The caller must Put it back.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool.
func (p *Pool) Put(conn *sqlite.Conn) { p.inner.Put(conn) }

// Ping checks that a connection can run a trivial query.
func (p *Pool) Ping(ctx context.Context) error {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
}

// Close closes all connections, waiting for borrowed ones.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("sqlitedb: close %s: %w", p.path, err)
	}
	p.log.Info("sqlite.close", "path", p.path)
	return nil
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitedb: %s: %w", pragma, err)
		}
	}
	return nil
}

// MigrationStatus mirrors migrate.Status for the SQLite bookkeeping table.
type MigrationStatus = migrate.Status

// Migrate applies pending embedded migrations and returns their names.
func (p *Pool) Migrate(ctx context.Context) (applied []string, err error) {
	files, err := migrate.Files(migrate.SQLite)
	if err != nil {
		return nil, err
	}

	conn, err := p.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Put(conn)

	if err := ensureTable(conn); err != nil {
		return nil, err
	}
	done, err := appliedRecords(conn)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		if _, ok := done[f.Name]; ok {
			continue
		}
		if err := applyFile(conn, f); err != nil {
			return applied, fmt.Errorf("sqlitedb: apply %s: %w", f.Name, err)
		}
		applied = append(applied, f.Name)
	}
	return applied, nil
}

// Status reports every embedded migration against the bookkeeping table.
func (p *Pool) Status(ctx context.Context) ([]MigrationStatus, error) {
	files, err := migrate.Files(migrate.SQLite)
	if err != nil {
		return nil, err
	}

	conn, err := p.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Put(conn)

	if err := ensureTable(conn); err != nil {
		return nil, err
	}
	done, err := appliedRecords(conn)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		st := MigrationStatus{Name: f.Name}
		if r, ok := done[f.Name]; ok {
			st.Applied = true
			st.AppliedAt = time.UnixMilli(r.appliedAt).UTC()
			st.ExecutionTimeMs = r.execMs
			st.ChecksumMismatch = r.checksum != f.Checksum
		}
		out = append(out, st)
	}
	return out, nil
}

type appliedRecord struct {
	appliedAt int64
	execMs    int64
	checksum  string
}

func ensureTable(conn *sqlite.Conn) error {
	return sqlitex.ExecuteTransient(conn, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL,
			execution_time_ms INTEGER NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT ''
		)`, nil)
}

func appliedRecords(conn *sqlite.Conn) (map[string]appliedRecord, error) {
	out := make(map[string]appliedRecord)
	err := sqlitex.Execute(conn,
		`SELECT name, applied_at, execution_time_ms, checksum FROM schema_migrations`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out[stmt.ColumnText(0)] = appliedRecord{
					appliedAt: stmt.ColumnInt64(1),
					execMs:    stmt.ColumnInt64(2),
					checksum:  stmt.ColumnText(3),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: list migrations: %w", err)
	}
	return out, nil
}

func applyFile(conn *sqlite.Conn, f migrate.File) (err error) {
	start := time.Now()

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer endFn(&err)

	if err = sqlitex.ExecuteScript(conn, f.SQL, nil); err != nil {
		return err
	}
	return sqlitex.Execute(conn,
		`INSERT INTO schema_migrations (name, applied_at, execution_time_ms, checksum) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{f.Name, time.Now().UnixMilli(), time.Since(start).Milliseconds(), f.Checksum},
		})
}
