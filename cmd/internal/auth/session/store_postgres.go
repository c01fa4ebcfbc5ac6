package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"plug/cmd/identity"
)

// PostgresStore implements RefreshStore over PostgreSQL (refresh_tokens).
// The pool is owned by the caller.
type PostgresStore struct {
	pool *pgxpool.Pool

	qInsert        string
	qFindByHash    string
	qRevoke        string
	qRevokeOwner   string
	qDeleteExpired string
}

// NewPostgresStore builds all statements up front. schema defaults to "public".
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	if schema == "" {
		schema = "public"
	}
	if !identity.PGIdentIsValid(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}

	t := identity.PGIdent(schema, "refresh_tokens")
	return &PostgresStore{
		pool: pool,
		qInsert: `INSERT INTO ` + t + ` (id, user_id, token_hash, issued_at, expires_at, revoked_at)
			VALUES ($1, $2, $3, $4, $5, NULL)`,
		qFindByHash: `SELECT id, user_id, token_hash, issued_at, expires_at, revoked_at
			FROM ` + t + ` WHERE token_hash = $1`,
		qRevoke:        `UPDATE ` + t + ` SET revoked_at = $2 WHERE token_hash = $1 AND revoked_at IS NULL`,
		qRevokeOwner:   `UPDATE ` + t + ` SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`,
		qDeleteExpired: `DELETE FROM ` + t + ` WHERE expires_at < $1`,
	}, nil
}

func (s *PostgresStore) Create(ctx context.Context, c RefreshCredential) error {
	_, err := s.pool.Exec(ctx, s.qInsert, c.ID, c.OwnerID, c.TokenHash, c.IssuedAt.UTC(), c.ExpiresAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateCredential
		}
		return fmt.Errorf("refresh.Create: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByToken(ctx context.Context, tokenHash string) (RefreshCredential, error) {
	var (
		c       RefreshCredential
		revoked *time.Time
	)
	err := s.pool.QueryRow(ctx, s.qFindByHash, tokenHash).Scan(
		&c.ID,
		&c.OwnerID,
		&c.TokenHash,
		&c.IssuedAt,
		&c.ExpiresAt,
		&revoked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshCredential{}, ErrCredentialNotFound
	}
	if err != nil {
		return RefreshCredential{}, fmt.Errorf("refresh.FindByToken: %w", err)
	}
	c.IssuedAt = c.IssuedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	if revoked != nil {
		r := revoked.UTC()
		c.RevokedAt = &r
	}
	return c, nil
}

func (s *PostgresStore) RevokeToken(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, s.qRevoke, tokenHash, now.UTC())
	if err != nil {
		return false, fmt.Errorf("refresh.RevokeToken: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RevokeAllForOwner(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, s.qRevokeOwner, ownerID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("refresh.RevokeAllForOwner: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, s.qDeleteExpired, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("refresh.DeleteExpired: %w", err)
	}
	return tag.RowsAffected(), nil
}
