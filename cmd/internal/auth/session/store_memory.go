package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process RefreshStore, used with PLUG_STORE=memory
// and in tests.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]RefreshCredential
	ids    map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]RefreshCredential),
		ids:    make(map[string]struct{}),
	}
}

func (m *MemoryStore) Create(_ context.Context, c RefreshCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHash[c.TokenHash]; ok {
		return ErrDuplicateCredential
	}
	if _, ok := m.ids[c.ID]; ok {
		return ErrDuplicateCredential
	}
	c.RevokedAt = nil
	m.byHash[c.TokenHash] = c
	m.ids[c.ID] = struct{}{}
	return nil
}

func (m *MemoryStore) FindByToken(_ context.Context, tokenHash string) (RefreshCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byHash[tokenHash]
	if !ok {
		return RefreshCredential{}, ErrCredentialNotFound
	}
	if c.RevokedAt != nil {
		r := *c.RevokedAt
		c.RevokedAt = &r
	}
	return c, nil
}

func (m *MemoryStore) RevokeToken(_ context.Context, tokenHash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byHash[tokenHash]
	if !ok || c.RevokedAt != nil {
		return false, nil
	}
	t := now.UTC()
	c.RevokedAt = &t
	m.byHash[tokenHash] = c
	return true, nil
}

func (m *MemoryStore) RevokeAllForOwner(_ context.Context, ownerID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	t := now.UTC()
	for h, c := range m.byHash {
		if c.OwnerID != ownerID || c.RevokedAt != nil {
			continue
		}
		stamp := t
		c.RevokedAt = &stamp
		m.byHash[h] = c
		n++
	}
	return n, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for h, c := range m.byHash {
		if c.ExpiresAt.Before(now) {
			delete(m.byHash, h)
			delete(m.ids, c.ID)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored credentials.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHash)
}
