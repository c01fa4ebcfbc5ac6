package authapi

import (
	"os"
	"strconv"
	"strings"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// RatePerSec and RateBurst size the per-IP token bucket on /auth/*.
	RatePerSec float64
	RateBurst  int

	// AllowRoleOnRegister lets the register body carry a role.
	AllowRoleOnRegister bool
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 1 << 20, // 1 MiB
		RatePerSec:   5,
		RateBurst:    10,
	}
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:          envBool("PLUG_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:        envInt64("PLUG_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		RatePerSec:          envFloat("PLUG_AUTH_RATE_PER_SEC", def.RatePerSec),
		RateBurst:           envInt("PLUG_AUTH_RATE_BURST", def.RateBurst),
		AllowRoleOnRegister: envBool("PLUG_AUTH_ALLOW_ROLE_ON_REGISTER", false),
	}
	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}
