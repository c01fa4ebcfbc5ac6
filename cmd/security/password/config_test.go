package password

import (
	"os"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv := []string{
		"PLUG_PASSWORD_MIN_LEN",
		"PLUG_PASSWORD_MAX_LEN",
		"PLUG_PASSWORD_REQUIRE_CLASSES",
		"PLUG_PASSWORD_REJECT_VERY_WEAK",
		"PLUG_ARGON2_MEMORY_KIB",
		"PLUG_ARGON2_ITERATIONS",
		"PLUG_ARGON2_PARALLELISM",
		"PLUG_ARGON2_SALT_LEN",
		"PLUG_ARGON2_KEY_LEN",
	}
	for _, k := range clearEnv {
		_ = os.Unsetenv(k)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	def := DefaultConfig()
	if cfg.Policy != def.Policy {
		t.Fatalf("policy mismatch: %+v vs %+v", cfg.Policy, def.Policy)
	}
	if cfg.Params.MemoryKiB != def.Params.MemoryKiB {
		t.Fatalf("memory mismatch")
	}
	if cfg.Policy.MinLength != 8 || cfg.Policy.MaxLength != 128 || !cfg.Policy.RequireClasses {
		t.Fatalf("unexpected default policy: %+v", cfg.Policy)
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("PLUG_PASSWORD_MIN_LEN", "10")
	t.Setenv("PLUG_PASSWORD_MAX_LEN", "200")
	t.Setenv("PLUG_PASSWORD_REQUIRE_CLASSES", "off")
	t.Setenv("PLUG_PASSWORD_REJECT_VERY_WEAK", "true")
	t.Setenv("PLUG_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("PLUG_ARGON2_ITERATIONS", "4")
	t.Setenv("PLUG_ARGON2_PARALLELISM", "2")
	t.Setenv("PLUG_ARGON2_SALT_LEN", "24")
	t.Setenv("PLUG_ARGON2_KEY_LEN", "32")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 200 || !cfg.Policy.RejectVeryWeak || cfg.Policy.RequireClasses {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
	if cfg.Params.SaltLength != 24 || cfg.Params.KeyLength != 32 {
		t.Fatalf("len override failed: %+v", cfg.Params)
	}
}

func TestFromEnv_InvalidMinMax(t *testing.T) {
	t.Setenv("PLUG_PASSWORD_MIN_LEN", "20")
	t.Setenv("PLUG_PASSWORD_MAX_LEN", "10")

	_, err := FromEnv()
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestFromEnv_BadValueNamesKey(t *testing.T) {
	t.Setenv("PLUG_ARGON2_ITERATIONS", "lots")

	_, err := FromEnv()
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := err.Error(); got != "PLUG_ARGON2_ITERATIONS: not an unsigned integer" {
		t.Fatalf("unexpected error text: %q", got)
	}
}
