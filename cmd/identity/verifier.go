package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SecretHasher hashes and compares secrets. password.Config satisfies it.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(encoded, secret string) (bool, error)
}

// Verifier checks a name/secret pair against the identity store.
//
// Unknown names and wrong secrets produce the same ErrInvalidCredentials,
// and an unknown name still costs one hash comparison against a dummy
// verifier so the two cases take comparable time.
type Verifier struct {
	store   Store
	secrets SecretHasher
	dummy   string
}

// NewVerifier precomputes the dummy verifier with secrets.
func NewVerifier(store Store, secrets SecretHasher) (*Verifier, error) {
	if store == nil || secrets == nil {
		return nil, fmt.Errorf("identity: verifier needs a store and a secret hasher")
	}

	var b [18]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("identity: dummy secret: %w", err)
	}
	dummy, err := secrets.Hash(hex.EncodeToString(b[:]))
	if err != nil {
		return nil, fmt.Errorf("identity: dummy verifier: %w", err)
	}
	return &Verifier{store: store, secrets: secrets, dummy: dummy}, nil
}

// Verify returns the identity for name when secret matches its verifier.
func (v *Verifier) Verify(ctx context.Context, name, secret string) (Identity, error) {
	const op = "identity.Verify"

	id, err := v.store.FindByName(ctx, name)
	if err != nil {
		if !IsNotFound(err) {
			return Identity{}, fmt.Errorf("%s: %w", op, err)
		}
		_, _ = v.secrets.Verify(v.dummy, secret)
		return Identity{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	ok, err := v.secrets.Verify(id.SecretVerifier, secret)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: stored verifier for %s: %w", op, id.ID, err)
	}
	if !ok {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	return id, nil
}
