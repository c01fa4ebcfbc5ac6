package password

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams is the Argon2id cost. MemoryKiB is in KiB, as argon2.IDKey
// expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy is what Validate enforces on user-chosen secrets.
type Policy struct {
	MinLength int
	MaxLength int
	// RequireClasses demands at least one upper-case letter, one lower-case
	// letter and one digit.
	RequireClasses bool
	// RejectVeryWeak refuses a short list of trivial secrets.
	RejectVeryWeak bool
}

// Config is both the hasher (Hash, Verify) and the policy (Validate).
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig is 64 MiB, 3 passes, up to 4 lanes.
func DefaultConfig() Config {
	lanes := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(lanes), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      128,
			RequireClasses: true,
		},
	}
}

var (
	errNotInt  = errors.New("not an integer")
	errNotUint = errors.New("not an unsigned integer")
	errNotBool = errors.New("invalid boolean")
)

// envSetting binds one environment key to a field of Config.
type envSetting struct {
	key   string
	apply func(cfg *Config, v string) error
}

func intSetting(key string, lo, hi int, field func(*Config) *int) envSetting {
	return envSetting{key: key, apply: func(cfg *Config, v string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return errNotInt
		}
		if int(n) < lo || int(n) > hi {
			return fmt.Errorf("out of range [%d..%d]", lo, hi)
		}
		*field(cfg) = int(n)
		return nil
	}}
}

func uintSetting(key string, lo, hi uint32, set func(*Config, uint32)) envSetting {
	return envSetting{key: key, apply: func(cfg *Config, v string) error {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return errNotUint
		}
		if uint32(n) < lo || uint32(n) > hi {
			return fmt.Errorf("out of range [%d..%d]", lo, hi)
		}
		set(cfg, uint32(n))
		return nil
	}}
}

func boolSetting(key string, field func(*Config) *bool) envSetting {
	return envSetting{key: key, apply: func(cfg *Config, v string) error {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*field(cfg) = true
		case "0", "false", "no", "off":
			*field(cfg) = false
		default:
			return errNotBool
		}
		return nil
	}}
}

var envSettings = []envSetting{
	intSetting("PLUG_PASSWORD_MIN_LEN", 1, 1024, func(c *Config) *int { return &c.Policy.MinLength }),
	intSetting("PLUG_PASSWORD_MAX_LEN", 1, 4096, func(c *Config) *int { return &c.Policy.MaxLength }),
	boolSetting("PLUG_PASSWORD_REQUIRE_CLASSES", func(c *Config) *bool { return &c.Policy.RequireClasses }),
	boolSetting("PLUG_PASSWORD_REJECT_VERY_WEAK", func(c *Config) *bool { return &c.Policy.RejectVeryWeak }),
	uintSetting("PLUG_ARGON2_MEMORY_KIB", 8*1024, 1024*1024, func(c *Config, n uint32) { c.Params.MemoryKiB = n }),
	uintSetting("PLUG_ARGON2_ITERATIONS", 1, 20, func(c *Config, n uint32) { c.Params.Iterations = n }),
	uintSetting("PLUG_ARGON2_PARALLELISM", 1, 64, func(c *Config, n uint32) { c.Params.Parallelism = uint8(n) }), // #nosec G115 -- bounded above.
	uintSetting("PLUG_ARGON2_SALT_LEN", 8, 64, func(c *Config, n uint32) { c.Params.SaltLength = n }),
	uintSetting("PLUG_ARGON2_KEY_LEN", 16, 64, func(c *Config, n uint32) { c.Params.KeyLength = n }),
}

// FromEnv starts from DefaultConfig and applies the PLUG_PASSWORD_* and
// PLUG_ARGON2_* overrides. A bad value fails with an error naming its key.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, s := range envSettings {
		v, ok := os.LookupEnv(s.key)
		if !ok {
			continue
		}
		if err := s.apply(&cfg, v); err != nil {
			return Config{}, fmt.Errorf("%s: %w", s.key, err)
		}
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}
