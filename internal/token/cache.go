package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/saultoio/saulto-sync/internal/credentials"
)

// Cache stores access tokens keyed by (tenant, source type) so an
// unexpired token can be reused without a credential-store round trip.
type Cache interface {
	Get(ctx context.Context, tenantID int64, sourceType string) (credentials.Token, bool)
	Put(ctx context.Context, tenantID int64, sourceType string, token credentials.Token)
	Invalidate(ctx context.Context, tenantID int64, sourceType string)
}

type cacheKey struct {
	tenantID   int64
	sourceType string
}

// MemoryCache is the in-process token cache. One instance is owned by each
// Manager so separate managers (and tests) never share token state.
type MemoryCache struct {
	mu     sync.RWMutex
	tokens map[cacheKey]credentials.Token
}

// NewMemoryCache creates an empty in-process token cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		tokens: make(map[cacheKey]credentials.Token),
	}
}

// Get returns the cached token for the pair, if any
func (c *MemoryCache) Get(ctx context.Context, tenantID int64, sourceType string) (credentials.Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	token, ok := c.tokens[cacheKey{tenantID, sourceType}]
	return token, ok
}

// Put stores a token for the pair
func (c *MemoryCache) Put(ctx context.Context, tenantID int64, sourceType string, token credentials.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokens[cacheKey{tenantID, sourceType}] = token
}

// Invalidate removes the cached token for the pair
func (c *MemoryCache) Invalidate(ctx context.Context, tenantID int64, sourceType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tokens, cacheKey{tenantID, sourceType})
}

// Reset clears the whole cache. Used by tests for deterministic state.
func (c *MemoryCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokens = make(map[cacheKey]credentials.Token)
}

// redisKey builds the cache key for the Redis backend
func redisKey(tenantID int64, sourceType string) string {
	return fmt.Sprintf("saulto:token:%d:%s", tenantID, sourceType)
}

// ttlUntil returns a TTL that expires with the token, bounded below by a
// minute so tokens without a recorded expiry still age out.
func ttlUntil(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return time.Hour
	}
	ttl := time.Until(expiresAt)
	if ttl < time.Minute {
		return time.Minute
	}
	return ttl
}
