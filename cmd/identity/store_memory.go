package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps identities in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Identity
	byName map[string]string // name -> id
	now    func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Identity),
		byName: make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) FindByName(ctx context.Context, name string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return Identity{}, NotFoundError{Op: "identity.FindByName", Resource: "user"}
	}
	return s.byID[id], nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, ok := s.byID[id]
	if !ok {
		return Identity{}, NotFoundError{Op: "identity.FindByID", Resource: "user"}
	}
	return out, nil
}

func (s *MemoryStore) Create(ctx context.Context, in Identity) (Identity, error) {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	in, err := prepareCreate(op, in, s.now())
	if err != nil {
		return Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[in.Name]; taken {
		return Identity{}, ConflictError{Op: op, Field: "username"}
	}
	if _, taken := s.byID[in.ID]; taken {
		return Identity{}, ConflictError{Op: op, Field: "id"}
	}
	s.byID[in.ID] = in
	s.byName[in.Name] = in.ID
	return in, nil
}

func (s *MemoryStore) SetVerifier(ctx context.Context, name, verifier string) error {
	const op = "identity.SetVerifier"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(verifier) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing secret verifier"}
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byName[name]; ok {
		cur := s.byID[id]
		cur.SecretVerifier = verifier
		cur.UpdatedAt = now
		s.byID[id] = cur
		return nil
	}

	in, err := prepareCreate(op, Identity{Name: name, SecretVerifier: verifier, Role: RoleAdmin}, now)
	if err != nil {
		return err
	}
	s.byID[in.ID] = in
	s.byName[in.Name] = in.ID
	return nil
}

// Delete removes an identity. The service never deletes identities; this
// exists for operators and tests exercising the vanished-owner path.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.byID[id]; ok {
		delete(s.byName, cur.Name)
		delete(s.byID, id)
	}
}
