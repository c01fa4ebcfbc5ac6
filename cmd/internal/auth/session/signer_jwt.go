package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type jwtSigner struct {
	key  []byte
	skew time.Duration
}

// NewJWTSigner builds an HS256 signer from cfg.JWTSecret.
func NewJWTSigner(cfg Config) (AccessSigner, error) {
	if len(cfg.JWTSecret) < MinJWTSecretBytes {
		return nil, ErrConfig
	}
	return &jwtSigner{key: []byte(cfg.JWTSecret), skew: cfg.ClockSkew}, nil
}

func (s *jwtSigner) Algorithm() string { return jwt.SigningMethodHS256.Alg() }

func (s *jwtSigner) Sign(c AccessClaims) (string, error) {
	claims := jwtClaims{Username: c.Name, Role: c.Role}
	if !c.ExpiresAt.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(c.ExpiresAt)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("session: sign jwt: %w", err)
	}
	return signed, nil
}

func (s *jwtSigner) Verify(raw string, now time.Time) (AccessClaims, error) {
	var c jwtClaims
	tok, err := jwt.ParseWithClaims(raw, &c,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(s.skew),
	)
	if err != nil || !tok.Valid {
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Username == "" || c.Role == "" {
		return AccessClaims{}, fmt.Errorf("%w: missing username or role", ErrInvalidToken)
	}

	out := AccessClaims{Name: c.Username, Role: c.Role}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
