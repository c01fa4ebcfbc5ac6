package app

import (
	"context"

	"plug/cmd/identity"
)

// AdminName is the identity created or reset by the bootstrap password.
const AdminName = "admin"

// bootstrapAdmin sets the admin secret when one is configured. Failures are
// logged and never stop startup.
func bootstrapAdmin(ctx context.Context, ids identity.Store, secrets identity.SecretHasher, secret string, log Logger) bool {
	if secret == "" {
		return false
	}
	verifier, err := secrets.Hash(secret)
	if err != nil {
		log.Error("admin.bootstrap.fail", "stage", "hash", "err", err)
		return false
	}
	if err := ids.SetVerifier(ctx, AdminName, verifier); err != nil {
		log.Error("admin.bootstrap.fail", "stage", "store", "err", err)
		return false
	}
	log.Info("admin.bootstrap.ok", "username", AdminName)
	return true
}
