package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// Notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Queries are built once in NewPostgresStore.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time

	qFindByName string
	qFindByID   string
	qInsert     string
	qSetSecret  string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "public").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !PGIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "public",
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}

	users := PGIdent(st.schema, "users")
	const cols = `id, username, secret_verifier, role, created_at, updated_at`
	st.qFindByName = `SELECT ` + cols + ` FROM ` + users + ` WHERE username = $1`
	st.qFindByID = `SELECT ` + cols + ` FROM ` + users + ` WHERE id = $1`
	st.qInsert = `INSERT INTO ` + users + ` (` + cols + `) VALUES ($1, $2, $3, $4, $5, $6)`
	st.qSetSecret = `INSERT INTO ` + users + ` (` + cols + `)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (username) DO UPDATE
		   SET secret_verifier = EXCLUDED.secret_verifier,
		       updated_at = EXCLUDED.updated_at`
	return st, nil
}

func (s *PostgresStore) FindByName(ctx context.Context, name string) (Identity, error) {
	return s.findOne(ctx, "identity.FindByName", s.qFindByName, name)
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Identity, error) {
	return s.findOne(ctx, "identity.FindByID", s.qFindByID, id)
}

func (s *PostgresStore) findOne(ctx context.Context, op, q, arg string) (Identity, error) {
	var out Identity
	err := s.pool.QueryRow(ctx, q, arg).Scan(
		&out.ID,
		&out.Name,
		&out.SecretVerifier,
		&out.Role,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, NotFoundError{Op: op, Resource: "user"}
		}
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) Create(ctx context.Context, in Identity) (Identity, error) {
	const op = "identity.Create"

	in, err := prepareCreate(op, in, s.now())
	if err != nil {
		return Identity{}, err
	}

	_, err = s.pool.Exec(ctx, s.qInsert,
		in.ID, in.Name, in.SecretVerifier, in.Role, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Identity{}, ConflictError{Op: op, Field: field}
		}
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	return in, nil
}

func (s *PostgresStore) SetVerifier(ctx context.Context, name, verifier string) error {
	const op = "identity.SetVerifier"

	now := s.now()
	in, err := prepareCreate(op, Identity{Name: name, SecretVerifier: verifier, Role: RoleAdmin}, now)
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, s.qSetSecret, in.ID, in.Name, in.SecretVerifier, in.Role, now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ---- helpers ----

// PGIdentIsValid checks if a string is a safe Postgres identifier.
func PGIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// PGIdent safely quotes a schema-qualified identifier: "schema"."name".
func PGIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_username", strings.Contains(c, "username"):
		return "username", true
	case c == "users_pkey":
		return "id", true
	default:
		return "unique", true
	}
}
