package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"iam-gateway/internal/domain"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "iamgw:session:"

// RedisStore persists sessions in Redis so any replica can serve them.
// Implements domain.SessionStore.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a new Redis-backed session store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Load retrieves session data by ID.
func (s *RedisStore) Load(ctx context.Context, id string) (*domain.SessionData, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrSessionStore, err)
	}

	var data domain.SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: decode session: %w", domain.ErrSessionStore, err)
	}
	return &data, nil
}

// Save stores session data for ttl.
func (s *RedisStore) Save(ctx context.Context, id string, data domain.SessionData, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encode session: %w", domain.ErrSessionStore, err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+id, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSessionStore, err)
	}
	return nil
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSessionStore, err)
	}
	return nil
}
