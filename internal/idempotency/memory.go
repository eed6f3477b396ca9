package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation useful for testing and local development.
type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{expires: make(map[string]time.Time), now: time.Now}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Reserve(_ context.Context, scope, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := Key(scope, key)
	now := s.now()
	if exp, ok := s.expires[id]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[id] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, Key(scope, key))
	return nil
}
