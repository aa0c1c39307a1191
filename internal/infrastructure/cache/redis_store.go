package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"iam-gateway/internal/domain"

	"github.com/redis/go-redis/v9"
)

const identityKeyPrefix = "iamgw:identity:"

// RedisStore shares resolved identities across gateway replicas.
// Implements domain.IdentityCache.
type RedisStore struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisStore creates a new Redis-backed identity store.
func NewRedisStore(client redis.UniversalClient, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// Get returns the identity stored under key. Store errors count as a miss.
func (s *RedisStore) Get(ctx context.Context, key string) (*domain.Identity, bool) {
	raw, err := s.client.Get(ctx, identityKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WarnContext(ctx, "identity cache read failed", "error", err)
		}
		return nil, false
	}

	var identity domain.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		s.logger.WarnContext(ctx, "dropping undecodable identity cache entry", "error", err)
		s.Delete(ctx, key)
		return nil, false
	}
	return &identity, true
}

// Set stores identity under key with a Redis-side expiry.
func (s *RedisStore) Set(ctx context.Context, key string, identity *domain.Identity, ttl time.Duration) {
	if identity == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(identity)
	if err != nil {
		s.logger.WarnContext(ctx, "identity cache encode failed", "error", err)
		return
	}
	if err := s.client.Set(ctx, identityKeyPrefix+key, raw, ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "identity cache write failed", "error", err)
	}
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) {
	if err := s.client.Del(ctx, identityKeyPrefix+key).Err(); err != nil {
		s.logger.WarnContext(ctx, "identity cache delete failed", "error", err)
	}
}
