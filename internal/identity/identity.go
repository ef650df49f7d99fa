// Package identity provides the opaque session identifier the client presents
// to the matching service, and the stores that keep it between runs.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Store.Load when no identifier has been saved.
var ErrNotFound = errors.New("identity: not found")

// Store persists the session identifier for one profile.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, id string) error
}

// Generate returns a new random session identifier.
func Generate() string {
	return uuid.NewString()
}

// Resolve returns the stored identifier, generating and saving a new one when
// the store is empty.
func Resolve(ctx context.Context, store Store) (string, error) {
	id, err := store.Load(ctx)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("identity: load: %w", err)
	}

	id = Generate()
	if err := store.Save(ctx, id); err != nil {
		return "", fmt.Errorf("identity: save: %w", err)
	}
	return id, nil
}

// MemoryStore keeps the identifier for the lifetime of the process.
type MemoryStore struct {
	mu sync.Mutex
	id string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		return "", ErrNotFound
	}
	return s.id, nil
}

func (s *MemoryStore) Save(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}
