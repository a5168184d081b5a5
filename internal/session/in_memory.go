package session

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps sessions in process memory. Sessions are lost on
// restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]entry
	now      func() time.Time
}

type entry struct {
	userID    string
	expiresAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]entry),
		now:      time.Now,
	}
}

func (s *InMemoryStore) Create(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", ErrEmptyUser
	}
	id, key, err := newID()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = entry{userID: userID, expiresAt: s.now().Add(ttl)}
	return id, nil
}

func (s *InMemoryStore) Get(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[keyFor(sessionID)]
	switch {
	case !ok:
		return "", ErrNotFound
	case s.now().After(e.expiresAt):
		return "", ErrExpired
	}
	return e.userID, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, keyFor(sessionID))
	return nil
}

func (s *InMemoryStore) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.sessions {
		if now.After(e.expiresAt) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}
