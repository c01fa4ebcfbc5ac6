package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"plug/cmd/internal/storage/sqlitedb"
)

// SQLiteStore implements identity persistence over the shared SQLite pool.
// Times are stored as unix milliseconds.
type SQLiteStore struct {
	pool *sqlitedb.Pool
	now  func() time.Time
}

// NewSQLiteStore constructs a SQLiteStore. The pool is owned by the caller.
func NewSQLiteStore(pool *sqlitedb.Pool) (*SQLiteStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("identity: nil sqlite pool")
	}
	return &SQLiteStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteUserCols = `id, username, secret_verifier, role, created_at, updated_at`

func (s *SQLiteStore) FindByName(ctx context.Context, name string) (Identity, error) {
	return s.findOne(ctx, "identity.FindByName",
		`SELECT `+sqliteUserCols+` FROM users WHERE username = ?`, name)
}

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (Identity, error) {
	return s.findOne(ctx, "identity.FindByID",
		`SELECT `+sqliteUserCols+` FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) findOne(ctx context.Context, op, q, arg string) (Identity, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	defer s.pool.Put(conn)

	var (
		out   Identity
		found bool
	)
	err = sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			out = scanSQLiteIdentity(stmt)
			return nil
		},
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return Identity{}, NotFoundError{Op: op, Resource: "user"}
	}
	return out, nil
}

func scanSQLiteIdentity(stmt *sqlite.Stmt) Identity {
	return Identity{
		ID:             stmt.ColumnText(0),
		Name:           stmt.ColumnText(1),
		SecretVerifier: stmt.ColumnText(2),
		Role:           stmt.ColumnText(3),
		CreatedAt:      time.UnixMilli(stmt.ColumnInt64(4)).UTC(),
		UpdatedAt:      time.UnixMilli(stmt.ColumnInt64(5)).UTC(),
	}
}

func (s *SQLiteStore) Create(ctx context.Context, in Identity) (Identity, error) {
	const op = "identity.Create"

	in, err := prepareCreate(op, in, s.now())
	if err != nil {
		return Identity{}, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO users (`+sqliteUserCols+`) VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{in.ID, in.Name, in.SecretVerifier, in.Role, in.CreatedAt.UnixMilli(), in.UpdatedAt.UnixMilli()},
		})
	if err != nil {
		if field, ok := sqliteClassifyUniqueViolation(err); ok {
			return Identity{}, ConflictError{Op: op, Field: field}
		}
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	return in, nil
}

func (s *SQLiteStore) SetVerifier(ctx context.Context, name, verifier string) error {
	const op = "identity.SetVerifier"

	now := s.now()
	in, err := prepareCreate(op, Identity{Name: name, SecretVerifier: verifier, Role: RoleAdmin}, now)
	if err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO users (`+sqliteUserCols+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (username) DO UPDATE
		    SET secret_verifier = excluded.secret_verifier,
		        updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{in.ID, in.Name, in.SecretVerifier, in.Role, now.UnixMilli(), now.UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func sqliteClassifyUniqueViolation(err error) (field string, ok bool) {
	switch sqlite.ErrCode(err) {
	case sqlite.ResultConstraintUnique, sqlite.ResultConstraintPrimaryKey:
	default:
		return "", false
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "users.username"):
		return "username", true
	case strings.Contains(msg, "users.id"):
		return "id", true
	default:
		return "unique", true
	}
}
