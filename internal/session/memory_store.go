package session

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	state     State
	expiresAt time.Time
}

// MemoryStore is the fallback backend when Redis is not configured. Sessions
// are process-local and lost on restart, which the comparison flow tolerates:
// a lost session is just NO_ACTIVE_SESSION and the client starts over.
// Expired records are dropped lazily on every access.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]memoryRecord
	now      func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]memoryRecord),
		now:      time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.sessions[state.OwnerID] = memoryRecord{
		state:     *state,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, ownerID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	record, ok := s.sessions[ownerID]
	if !ok {
		return nil, ErrNoSession
	}
	state := record.state
	return &state, nil
}

func (s *MemoryStore) Delete(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, ownerID)
	return nil
}

func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for key, record := range s.sessions {
		if now.After(record.expiresAt) {
			delete(s.sessions, key)
		}
	}
}
