package checkout

import (
	"context"
	"errors"
	"sync"

	"merchant-checkout-api/internal/models"
)

// ErrSessionNotFound is returned when a session ID matches nothing.
var ErrSessionNotFound = errors.New("checkout: session not found")

// Store holds checkout sessions. Mutate serializes all changes to one
// session, so callers can read-modify-write without their own locking.
// Nested pointer fields must be replaced, never modified in place.
type Store interface {
	Create(ctx context.Context, session models.CheckoutSession) error
	Get(ctx context.Context, id string) (*models.CheckoutSession, error)
	Mutate(ctx context.Context, id string, fn func(*models.CheckoutSession) error) (*models.CheckoutSession, error)
}

type slot struct {
	mu      sync.Mutex
	session models.CheckoutSession
}

// MemoryStore is the in-memory Store used in production: sessions are
// volatile and scoped to the process lifetime.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]*slot)}
}

func (s *MemoryStore) Create(ctx context.Context, session models.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots[session.ID] = &slot{session: session}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.CheckoutSession, error) {
	s.mu.RLock()
	sl, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	copied := sl.session
	return &copied, nil
}

// Mutate runs fn on a private copy of the session under the session's
// lock and commits the copy if fn succeeds. Two concurrent mutations of
// the same session always run one after the other.
func (s *MemoryStore) Mutate(ctx context.Context, id string, fn func(*models.CheckoutSession) error) (*models.CheckoutSession, error) {
	s.mu.RLock()
	sl, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	working := sl.session
	if err := fn(&working); err != nil {
		return nil, err
	}

	sl.session = working
	copied := working
	return &copied, nil
}
