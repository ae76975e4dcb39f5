package token

import (
	"context"
	"encoding/json"

	"github.com/saultoio/saulto-sync/internal/credentials"
	"github.com/saultoio/saulto-sync/pkg/database"
	"github.com/saultoio/saulto-sync/pkg/logger"
)

// RedisCache shares the token cache between processes. Cache misses and Redis
// failures both fall back to the credential store, so it is safe to treat
// every error as a miss.
type RedisCache struct {
	redis  *database.Redis
	logger *logger.Logger
}

// NewRedisCache creates a Redis-backed token cache
func NewRedisCache(redis *database.Redis, logger *logger.Logger) *RedisCache {
	return &RedisCache{
		redis:  redis,
		logger: logger,
	}
}

// Get returns the cached token for the pair, if any
func (c *RedisCache) Get(ctx context.Context, tenantID int64, sourceType string) (credentials.Token, bool) {
	data, err := c.redis.Client().Get(ctx, redisKey(tenantID, sourceType)).Bytes()
	if err != nil {
		return credentials.Token{}, false
	}

	var token credentials.Token
	if err := json.Unmarshal(data, &token); err != nil {
		c.logger.Warnf("Discarding unreadable cached token for tenant %d source %s: %v", tenantID, sourceType, err)
		return credentials.Token{}, false
	}

	return token, true
}

// Put stores a token for the pair with a TTL matching its expiry
func (c *RedisCache) Put(ctx context.Context, tenantID int64, sourceType string, token credentials.Token) {
	data, err := json.Marshal(token)
	if err != nil {
		return
	}

	if err := c.redis.Client().Set(ctx, redisKey(tenantID, sourceType), data, ttlUntil(token.ExpiresAt)).Err(); err != nil {
		c.logger.Warnf("Failed to cache token for tenant %d source %s: %v", tenantID, sourceType, err)
	}
}

// Invalidate removes the cached token for the pair
func (c *RedisCache) Invalidate(ctx context.Context, tenantID int64, sourceType string) {
	if err := c.redis.Client().Del(ctx, redisKey(tenantID, sourceType)).Err(); err != nil {
		c.logger.Warnf("Failed to invalidate token for tenant %d source %s: %v", tenantID, sourceType, err)
	}
}
