package password

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// Login cost per verifier format, at the production Argon2id parameters and
// at the bcrypt cost older deployments seeded with.

func BenchmarkVerify(b *testing.B) {
	cfg := DefaultConfig()
	const secret = "Secret123"

	argon, err := cfg.Hash(secret)
	if err != nil {
		b.Fatalf("Hash: %v", err)
	}
	legacy, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		b.Fatalf("bcrypt: %v", err)
	}

	cases := []struct {
		name    string
		encoded string
		secret  string
		want    bool
	}{
		{"argon2id/match", argon, secret, true},
		{"argon2id/mismatch", argon, "Wrong1234", false},
		{"bcrypt/match", string(legacy), secret, true},
		{"bcrypt/mismatch", string(legacy), "Wrong1234", false},
	}
	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			for b.Loop() {
				ok, err := cfg.Verify(tc.encoded, tc.secret)
				if err != nil || ok != tc.want {
					b.Fatalf("Verify: ok=%v err=%v", ok, err)
				}
			}
		})
	}
}

func BenchmarkHash(b *testing.B) {
	cfg := DefaultConfig()
	for b.Loop() {
		if _, err := cfg.Hash("Secret123"); err != nil {
			b.Fatalf("Hash: %v", err)
		}
	}
}
