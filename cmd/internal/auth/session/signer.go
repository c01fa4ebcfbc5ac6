package session

import (
	"time"
)

// AccessClaims is the fixed claim set of an access token.
type AccessClaims struct {
	Name string
	Role string
	// ExpiresAt is zero when the token carries no expiry.
	ExpiresAt time.Time
}

// AccessSigner signs and verifies access tokens. Verification is purely
// cryptographic plus an expiry check; it never consults a store.
//
// Verify returns an error wrapping ErrInvalidToken for every malformed,
// forged or expired token. Any other error is an unexpected fault.
type AccessSigner interface {
	Sign(c AccessClaims) (string, error)
	Verify(token string, now time.Time) (AccessClaims, error)
	Algorithm() string
}

// NewSigner returns the PASETO signer when a PASETO key is configured and
// the HS256 JWT signer otherwise.
func NewSigner(cfg Config) (AccessSigner, error) {
	if cfg.PasetoV4SecretKeyHex != "" {
		return NewPasetoV4PublicSigner(cfg)
	}
	return NewJWTSigner(cfg)
}
