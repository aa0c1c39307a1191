package cache

import (
	"context"
	"sync"
	"time"

	"iam-gateway/internal/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheEntry is a resolved identity with its expiry.
type cacheEntry struct {
	identity  *domain.Identity
	expiresAt time.Time
}

// MemoryStore is a bounded in-process identity store with per-entry TTL.
// Implements domain.IdentityCache.
type MemoryStore struct {
	entries *lru.Cache[string, cacheEntry]
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a store holding at most maxEntries identities.
func NewMemoryStore(maxEntries int) (*MemoryStore, error) {
	return newMemoryStore(maxEntries, time.Now, time.Minute)
}

func newMemoryStore(maxEntries int, now func() time.Time, sweep time.Duration) (*MemoryStore, error) {
	entries, err := lru.New[string, cacheEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	s := &MemoryStore{entries: entries, now: now, stop: make(chan struct{})}
	if sweep > 0 {
		go s.cleanupLoop(sweep)
	}
	return s, nil
}

// Get returns a copy of the identity stored under key. Expired entries are dropped.
func (s *MemoryStore) Get(_ context.Context, key string) (*domain.Identity, bool) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, false
	}
	if !s.now().Before(entry.expiresAt) {
		s.entries.Remove(key)
		return nil, false
	}
	return entry.identity.Clone(), true
}

// Set stores a copy of identity for ttl.
func (s *MemoryStore) Set(_ context.Context, key string, identity *domain.Identity, ttl time.Duration) {
	if identity == nil || ttl <= 0 {
		return
	}
	s.entries.Add(key, cacheEntry{identity: identity.Clone(), expiresAt: s.now().Add(ttl)})
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) {
	s.entries.Remove(key)
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int { return s.entries.Len() }

// Close stops the background sweeper.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// cleanup removes expired entries.
func (s *MemoryStore) cleanup() {
	now := s.now()
	for _, key := range s.entries.Keys() {
		if entry, ok := s.entries.Peek(key); ok && !now.Before(entry.expiresAt) {
			s.entries.Remove(key)
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
