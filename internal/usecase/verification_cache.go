package usecase

import (
	"context"
	"log/slog"
	"time"

	"iam-gateway/internal/domain"
	"iam-gateway/internal/infrastructure/metrics"

	"golang.org/x/sync/singleflight"
)

// VerificationCache implements domain.TokenVerifier on top of an identity
// store. Only successful resolutions are stored.
type VerificationCache struct {
	store      domain.IdentityCache
	resolver   domain.IdentityResolver
	defaultTTL time.Duration
	coalesce   bool
	group      singleflight.Group
	logger     *slog.Logger
}

// NewVerificationCache creates a new VerificationCache. With coalesce set,
// concurrent misses for one token share a single upstream call.
func NewVerificationCache(store domain.IdentityCache, resolver domain.IdentityResolver, defaultTTL time.Duration, coalesce bool, logger *slog.Logger) *VerificationCache {
	return &VerificationCache{
		store:      store,
		resolver:   resolver,
		defaultTTL: defaultTTL,
		coalesce:   coalesce,
		logger:     logger,
	}
}

// GetOrVerify returns the cached identity for token, resolving it upstream on a miss.
// A non-positive ttl uses the default.
func (c *VerificationCache) GetOrVerify(ctx context.Context, token string, ttl time.Duration) *domain.Identity {
	if token == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := domain.Fingerprint(token)

	if cached, ok := c.store.Get(ctx, key); ok {
		metrics.RecordCacheLookup(metrics.CacheHit)
		return cached.WithToken(token)
	}

	if !c.coalesce {
		return c.resolve(ctx, key, token, ttl)
	}

	v, _, shared := c.group.Do(key, func() (any, error) {
		// the flight outlives any single caller's cancellation
		return c.resolve(context.WithoutCancel(ctx), key, token, ttl), nil
	})
	if shared {
		metrics.RecordCacheLookup(metrics.CacheCoalesce)
	}
	identity, _ := v.(*domain.Identity)
	return identity.Clone()
}

func (c *VerificationCache) resolve(ctx context.Context, key, token string, ttl time.Duration) *domain.Identity {
	metrics.RecordCacheLookup(metrics.CacheMiss)

	identity := c.resolver.ResolveByToken(ctx, token)
	if identity == nil {
		c.logger.DebugContext(ctx, "token verification failed", "fingerprint", key[len(key)-8:])
		return nil
	}

	c.store.Set(ctx, key, identity.WithToken(""), ttl)
	return identity.WithToken(token)
}

// Invalidate removes the entry for token immediately.
func (c *VerificationCache) Invalidate(ctx context.Context, token string) {
	if token == "" {
		return
	}
	key := domain.Fingerprint(token)
	c.store.Delete(ctx, key)
	c.group.Forget(key)
}
