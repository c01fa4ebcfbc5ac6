package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCredentialNotFound is returned by RefreshStore.FindByToken for unknown digests.
	ErrCredentialNotFound = errors.New("refresh credential not found")

	// ErrDuplicateCredential is returned by RefreshStore.Create when the id or digest is taken.
	ErrDuplicateCredential = errors.New("duplicate refresh credential")
)

// RefreshCredential is a stored refresh token. TokenHash is the digest of
// the opaque token handed to the client and is the lookup key.
type RefreshCredential struct {
	ID        string
	OwnerID   string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Valid reports whether the credential may still be exchanged at now:
// not revoked and now <= ExpiresAt.
func (c RefreshCredential) Valid(now time.Time) bool {
	return c.RevokedAt == nil && !now.After(c.ExpiresAt)
}

// RefreshStore is the authoritative owner of refresh credentials.
// Implementations must be safe for concurrent use, and a completed
// revocation must be visible to every later FindByToken.
type RefreshStore interface {
	Create(ctx context.Context, c RefreshCredential) error

	// FindByToken returns ErrCredentialNotFound for unknown digests.
	FindByToken(ctx context.Context, tokenHash string) (RefreshCredential, error)

	// RevokeToken stamps revoked_at when the credential exists and is not
	// already revoked. It reports whether this call performed the revocation;
	// unknown or already-revoked tokens are a no-op, not an error.
	RevokeToken(ctx context.Context, tokenHash string, now time.Time) (bool, error)

	// RevokeAllForOwner revokes the owner's unrevoked credentials and
	// returns how many it touched. Already-revoked rows keep their timestamp.
	RevokeAllForOwner(ctx context.Context, ownerID string, now time.Time) (int64, error)

	// DeleteExpired removes credentials with expires_at < now, revoked or
	// not, and returns the count removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
