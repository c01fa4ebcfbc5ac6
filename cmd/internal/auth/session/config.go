package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
type Config struct {
	// Issuer is set on PASETO tokens and checked on verification.
	Issuer string

	// AccessExpiresIn and RefreshExpiresIn are clock expressions ("15m", "7d").
	AccessExpiresIn  string
	RefreshExpiresIn string

	// ClockSkew is the leeway allowed when checking access-token expiry.
	ClockSkew time.Duration

	// RefreshTokenBytes is the entropy of opaque refresh tokens.
	RefreshTokenBytes int

	// JWTSecret signs HS256 access tokens.
	JWTSecret string

	// PasetoV4SecretKeyHex, when set, switches access tokens to PASETO v4.public.
	PasetoV4SecretKeyHex string
}

// MinJWTSecretBytes is the shortest accepted HS256 key.
const MinJWTSecretBytes = 32

// DefaultConfig returns the defaults used when no env overrides are present.
func DefaultConfig() Config {
	return Config{
		Issuer:            "plug",
		AccessExpiresIn:   "15m",
		RefreshExpiresIn:  "7d",
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Signing key (at least one required):
//   - PLUG_JWT_SECRET (fallback JWT_SECRET), at least 32 bytes
//   - PLUG_PASETO_V4_SECRET_KEY_HEX
//
// Optional:
//   - PLUG_AUTH_ISSUER
//   - PLUG_ACCESS_TOKEN_EXPIRES_IN (fallback JWT_ACCESS_TOKEN_EXPIRES_IN)
//   - PLUG_REFRESH_TOKEN_EXPIRES_IN (fallback JWT_REFRESH_TOKEN_EXPIRES_IN)
//   - PLUG_AUTH_CLOCK_SKEW (Go duration)
//   - PLUG_AUTH_REFRESH_TOKEN_BYTES (32..64)
//
// Expiry expressions are not validated here; see clock.NewPolicy for the
// fallback rules. Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := envFirst("PLUG_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := envFirst("PLUG_ACCESS_TOKEN_EXPIRES_IN", "JWT_ACCESS_TOKEN_EXPIRES_IN"); v != "" {
		cfg.AccessExpiresIn = v
	}
	if v := envFirst("PLUG_REFRESH_TOKEN_EXPIRES_IN", "JWT_REFRESH_TOKEN_EXPIRES_IN"); v != "" {
		cfg.RefreshExpiresIn = v
	}

	if v := envFirst("PLUG_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := envFirst("PLUG_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	cfg.JWTSecret = envFirst("PLUG_JWT_SECRET", "JWT_SECRET")
	cfg.PasetoV4SecretKeyHex = envFirst("PLUG_PASETO_V4_SECRET_KEY_HEX")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the signing-key invariants.
func (c Config) Validate() error {
	if c.JWTSecret == "" && c.PasetoV4SecretKeyHex == "" {
		return ErrConfig
	}
	if c.PasetoV4SecretKeyHex == "" && len(c.JWTSecret) < MinJWTSecretBytes {
		return ErrConfig
	}
	if c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 64 {
		return ErrConfig
	}
	return nil
}

func envFirst(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
