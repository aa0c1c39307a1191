package session

import (
	"context"
	"sync"
	"time"

	"iam-gateway/internal/domain"
)

// sessionEntry is persisted session state with its expiry.
type sessionEntry struct {
	data      domain.SessionData
	expiresAt time.Time
}

// MemoryStore provides thread-safe in-memory session storage with TTL.
// Implements domain.SessionStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a new session store and starts its sweeper.
func NewMemoryStore() *MemoryStore {
	s := newMemoryStore(time.Now)
	go s.cleanupLoop(time.Minute)
	return s
}

func newMemoryStore(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*sessionEntry),
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Load retrieves session data by ID.
func (s *MemoryStore) Load(_ context.Context, id string) (*domain.SessionData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, found := s.entries[id]
	if !found || !s.now().Before(entry.expiresAt) {
		return nil, domain.ErrSessionNotFound
	}
	data := domain.NewSession(id, &entry.data).Data()
	return &data, nil
}

// Save stores session data for ttl.
func (s *MemoryStore) Save(_ context.Context, id string, data domain.SessionData, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id] = &sessionEntry{
		data:      domain.NewSession(id, &data).Data(),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
	return nil
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// cleanup removes expired entries.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, id)
		}
	}
}

// cleanupLoop runs periodic cleanup of expired entries.
func (s *MemoryStore) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stop:
			return
		}
	}
}
