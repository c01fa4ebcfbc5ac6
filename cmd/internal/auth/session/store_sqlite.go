package session

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"plug/cmd/internal/storage/sqlitedb"
)

// SQLiteStore implements RefreshStore over the shared SQLite pool.
// Instants are stored as unix milliseconds.
type SQLiteStore struct {
	pool *sqlitedb.Pool
}

func NewSQLiteStore(pool *sqlitedb.Pool) (*SQLiteStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil sqlite pool")
	}
	return &SQLiteStore{pool: pool}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, c RefreshCredential) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("refresh.Create: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, issued_at, expires_at, revoked_at)
		 VALUES (?, ?, ?, ?, ?, NULL)`,
		&sqlitex.ExecOptions{
			Args: []any{c.ID, c.OwnerID, c.TokenHash, c.IssuedAt.UnixMilli(), c.ExpiresAt.UnixMilli()},
		})
	if err != nil {
		switch sqlite.ErrCode(err) {
		case sqlite.ResultConstraintUnique, sqlite.ResultConstraintPrimaryKey:
			return ErrDuplicateCredential
		}
		return fmt.Errorf("refresh.Create: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindByToken(ctx context.Context, tokenHash string) (RefreshCredential, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return RefreshCredential{}, fmt.Errorf("refresh.FindByToken: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		out   RefreshCredential
		found bool
	)
	err = sqlitex.Execute(conn,
		`SELECT id, user_id, token_hash, issued_at, expires_at, revoked_at
		   FROM refresh_tokens WHERE token_hash = ?`,
		&sqlitex.ExecOptions{
			Args: []any{tokenHash},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				out = RefreshCredential{
					ID:        stmt.ColumnText(0),
					OwnerID:   stmt.ColumnText(1),
					TokenHash: stmt.ColumnText(2),
					IssuedAt:  time.UnixMilli(stmt.ColumnInt64(3)).UTC(),
					ExpiresAt: time.UnixMilli(stmt.ColumnInt64(4)).UTC(),
				}
				if stmt.ColumnType(5) != sqlite.TypeNull {
					r := time.UnixMilli(stmt.ColumnInt64(5)).UTC()
					out.RevokedAt = &r
				}
				return nil
			},
		})
	if err != nil {
		return RefreshCredential{}, fmt.Errorf("refresh.FindByToken: %w", err)
	}
	if !found {
		return RefreshCredential{}, ErrCredentialNotFound
	}
	return out, nil
}

func (s *SQLiteStore) RevokeToken(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, "refresh.RevokeToken",
		`UPDATE refresh_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL`,
		now.UnixMilli(), tokenHash)
	return n == 1, err
}

func (s *SQLiteStore) RevokeAllForOwner(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	return s.exec(ctx, "refresh.RevokeAllForOwner",
		`UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`,
		now.UnixMilli(), ownerID)
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.exec(ctx, "refresh.DeleteExpired",
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, now.UnixMilli())
}

func (s *SQLiteStore) exec(ctx context.Context, op, q string, args ...any) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, q, &sqlitex.ExecOptions{Args: args}); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int64(conn.Changes()), nil
}
