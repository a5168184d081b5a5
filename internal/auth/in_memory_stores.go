package auth

import (
	"crypto/subtle"
	"sync"
	"time"
)

// PendingFlow is an authorization request waiting for its callback.
type PendingFlow struct {
	State    string
	Verifier string
}

// FlowStore keeps at most one pending flow per caller and provider.
type FlowStore interface {
	Put(key string, flow PendingFlow) error
	// Take removes and returns the flow for key when state matches and the
	// flow has not expired. A mismatched state leaves the flow in place.
	Take(key, state string) (PendingFlow, bool)
}

type storedFlow struct {
	PendingFlow
	createdAt time.Time
}

// InMemoryFlowStore is a FlowStore for a single process. Flows older than
// ttl are rejected and pruned on the next Put.
type InMemoryFlowStore struct {
	mu    sync.Mutex
	flows map[string]storedFlow
	ttl   time.Duration
	now   func() time.Time
}

func NewInMemoryFlowStore(ttl time.Duration) *InMemoryFlowStore {
	return &InMemoryFlowStore{
		flows: make(map[string]storedFlow),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Put replaces any flow pending under key.
func (s *InMemoryFlowStore) Put(key string, flow PendingFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, f := range s.flows {
		if now.Sub(f.createdAt) > s.ttl {
			delete(s.flows, k)
		}
	}
	s.flows[key] = storedFlow{PendingFlow: flow, createdAt: now}
	return nil
}

func (s *InMemoryFlowStore) Take(key, state string) (PendingFlow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[key]
	if !ok || subtle.ConstantTimeCompare([]byte(f.State), []byte(state)) != 1 {
		return PendingFlow{}, false
	}
	if s.now().Sub(f.createdAt) > s.ttl {
		delete(s.flows, key)
		return PendingFlow{}, false
	}
	delete(s.flows, key)
	return f.PendingFlow, true
}

// Len returns the number of flows held, expired ones included.
func (s *InMemoryFlowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows)
}
