package identity

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Roles assigned by the service. Role is otherwise an opaque string.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is Plug's canonical security principal.
type Identity struct {
	ID             string
	Name           string
	SecretVerifier string
	Role           string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the identity persistence boundary. Implementations must be safe
// for concurrent use.
type Store interface {
	// FindByName matches name exactly (case-sensitive).
	// Returns NotFoundError when absent.
	FindByName(ctx context.Context, name string) (Identity, error)
	// FindByID returns NotFoundError when absent.
	FindByID(ctx context.Context, id string) (Identity, error)
	// Create persists a new identity. A taken name yields ConflictError{Field: "username"}.
	Create(ctx context.Context, in Identity) (Identity, error)
	// SetVerifier replaces the secret verifier for name, creating the
	// identity with RoleAdmin when it does not exist yet. It is the
	// bootstrap/administrative reset path.
	SetVerifier(ctx context.Context, name, verifier string) error
}

const (
	NameMinLen = 3
	NameMaxLen = 30
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName enforces the username rules: 3-30 characters of
// letters, digits, underscore or hyphen.
func ValidateName(name string) error {
	const op = "identity.ValidateName"

	switch {
	case len(name) < NameMinLen:
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "username must be at least 3 characters"}
	case len(name) > NameMaxLen:
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "username must be at most 30 characters"}
	case !nameRe.MatchString(name):
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "username can only contain letters, numbers, underscores and hyphens"}
	}
	return nil
}

// prepareCreate validates and fills defaults for a Create call.
func prepareCreate(op string, in Identity, now time.Time) (Identity, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := ValidateName(in.Name); err != nil {
		return Identity{}, err
	}
	if strings.TrimSpace(in.SecretVerifier) == "" {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing secret verifier"}
	}
	if in.Role == "" {
		in.Role = RoleUser
	}
	if in.ID == "" {
		id, err := NewULID(now)
		if err != nil {
			return Identity{}, err
		}
		in.ID = id
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = in.CreatedAt
	}
	return in, nil
}
