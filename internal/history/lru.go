package history

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultMaxSessions bounds the number of sessions held in memory.
const defaultMaxSessions = 1000

// LRUStore keeps history in process. The least recently touched session is
// evicted once maxSessions is exceeded.
type LRUStore struct {
	mu       sync.Mutex
	sessions *lru.Cache[string, []Turn]
	maxTurns int
}

// NewLRUStore creates an in-process store.
func NewLRUStore(maxTurns, maxSessions int) *LRUStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	cache, _ := lru.New[string, []Turn](maxSessions) // only errors on size <= 0
	return &LRUStore{sessions: cache, maxTurns: maxTurns}
}

func (s *LRUStore) Append(_ context.Context, sessionID string, turn Turn) error {
	if sessionID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _ := s.sessions.Get(sessionID)
	next := make([]Turn, 0, len(existing)+1)
	next = append(next, existing...)
	next = append(next, turn)
	if len(next) > s.maxTurns {
		next = next[len(next)-s.maxTurns:]
	}
	s.sessions.Add(sessionID, next)
	return nil
}

func (s *LRUStore) Recent(_ context.Context, sessionID string, n int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, nil
	}
	return tail(turns, n), nil
}

func (s *LRUStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Remove(sessionID)
	return nil
}

// Len returns the number of sessions held.
func (s *LRUStore) Len() int { return s.sessions.Len() }

func (s *LRUStore) Close() error { return nil }
