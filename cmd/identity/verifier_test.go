package identity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHasher stores secrets as "h:"+secret and counts comparisons.
type fakeHasher struct {
	verifies int
	fail     error
}

func (f *fakeHasher) Hash(secret string) (string, error) { return "h:" + secret, nil }

func (f *fakeHasher) Verify(encoded, secret string) (bool, error) {
	f.verifies++
	if f.fail != nil {
		return false, f.fail
	}
	if !strings.HasPrefix(encoded, "h:") {
		return false, errors.New("bad hash")
	}
	return encoded == "h:"+secret, nil
}

func TestVerifier_Verify(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	hasher := &fakeHasher{}

	_, err := store.Create(ctx, Identity{Name: "alice", SecretVerifier: "h:Secret123"})
	require.NoError(t, err)

	v, err := NewVerifier(store, hasher)
	require.NoError(t, err)

	got, err := v.Verify(ctx, "alice", "Secret123")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)

	_, wrongErr := v.Verify(ctx, "alice", "wrong")
	assert.True(t, IsInvalidCredentials(wrongErr))

	before := hasher.verifies
	_, unknownErr := v.Verify(ctx, "mallory", "Secret123")
	assert.True(t, IsInvalidCredentials(unknownErr))
	assert.Equal(t, before+1, hasher.verifies, "unknown names must still run one comparison")

	assert.Equal(t, wrongErr.Error(), unknownErr.Error(), "unknown name and wrong secret must be indistinguishable")
}

func TestVerifier_StoreFaultIsNotInvalidCredentials(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Create(ctx, Identity{Name: "alice", SecretVerifier: "corrupt"})
	require.NoError(t, err)

	v, err := NewVerifier(store, &fakeHasher{})
	require.NoError(t, err)

	_, err = v.Verify(ctx, "alice", "x")
	require.Error(t, err)
	assert.False(t, IsInvalidCredentials(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = v.Verify(cancelled, "alice", "x")
	assert.ErrorIs(t, err, context.Canceled)
}
