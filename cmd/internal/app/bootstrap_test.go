package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plug/cmd/identity"
)

type prefixHasher struct{ err error }

func (h prefixHasher) Hash(s string) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return "h$" + s, nil
}

func (prefixHasher) Verify(enc, s string) (bool, error) { return enc == "h$"+s, nil }

func TestBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	ids := identity.NewMemoryStore()

	assert.False(t, bootstrapAdmin(ctx, ids, prefixHasher{}, "", discardLogger()))
	_, err := ids.FindByName(ctx, AdminName)
	assert.True(t, identity.IsNotFound(err))

	require.True(t, bootstrapAdmin(ctx, ids, prefixHasher{}, "First123", discardLogger()))
	admin, err := ids.FindByName(ctx, AdminName)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleAdmin, admin.Role)
	assert.Equal(t, "h$First123", admin.SecretVerifier)

	// A second boot resets the secret in place.
	require.True(t, bootstrapAdmin(ctx, ids, prefixHasher{}, "Second123", discardLogger()))
	again, err := ids.FindByName(ctx, AdminName)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)
	assert.Equal(t, "h$Second123", again.SecretVerifier)
}

func TestBootstrapAdmin_HashFailureIsNotFatal(t *testing.T) {
	ids := identity.NewMemoryStore()
	ok := bootstrapAdmin(context.Background(), ids, prefixHasher{err: errors.New("boom")}, "Secret123", discardLogger())
	assert.False(t, ok)
}
