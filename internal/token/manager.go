// Package token manages the bearer-token lifecycle for source connections:
// caching, expiry tracking, and the single refresh-and-retry wrapper the
// pipeline runs every authenticated operation through.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/saultoio/saulto-sync/internal/credentials"
	"github.com/saultoio/saulto-sync/internal/source"
	"github.com/saultoio/saulto-sync/pkg/logger"
)

// ExpiryMargin is subtracted from a token's recorded expiry before it is
// considered usable, so a token never expires mid-request.
const ExpiryMargin = 60 * time.Second

// Refresher exchanges a connection's refresh token for a new access token.
// Satisfied by every source connector.
type Refresher interface {
	RefreshToken(ctx context.Context, conn *credentials.Connection) (credentials.Token, error)
}

// Operation is a unit of authenticated work run under WithToken
type Operation func(ctx context.Context, token credentials.Token) error

// Manager owns the token cache and the refresh-and-retry policy
type Manager struct {
	store  credentials.Store
	cache  Cache
	logger *logger.Logger
	margin time.Duration
}

// NewManager creates a token manager over the given credential store and cache
func NewManager(store credentials.Store, cache Cache, logger *logger.Logger) *Manager {
	return &Manager{
		store:  store,
		cache:  cache,
		logger: logger,
		margin: ExpiryMargin,
	}
}

// WithToken loads the current token for the (tenant, source) pair and runs op
// with it. When op fails with ErrAuthenticationExpired, exactly one refresh is
// attempted: the new token is persisted, the cache updated, and op retried
// once. A second authentication failure is terminal and surfaces as
// ErrReauthenticationRequired.
func (m *Manager) WithToken(ctx context.Context, tenantID int64, sourceType string, refresher Refresher, op Operation) error {
	conn, err := m.store.GetConnection(ctx, tenantID, sourceType)
	if err != nil {
		return fmt.Errorf("failed to load connection for tenant %d source %s: %w", tenantID, sourceType, err)
	}

	token, refreshed, err := m.usableToken(ctx, conn, refresher)
	if err != nil {
		return err
	}

	err = op(ctx, token)
	if !source.IsAuthenticationExpired(err) {
		return err
	}

	if refreshed {
		// The token was already refreshed this call; a second refresh would
		// loop on a broken grant.
		m.cache.Invalidate(ctx, tenantID, sourceType)
		return fmt.Errorf("token rejected after refresh for tenant %d source %s: %w", tenantID, sourceType, source.ErrReauthenticationRequired)
	}

	token, err = m.refresh(ctx, conn, refresher)
	if err != nil {
		return err
	}

	err = op(ctx, token)
	if source.IsAuthenticationExpired(err) {
		m.cache.Invalidate(ctx, tenantID, sourceType)
		return fmt.Errorf("token rejected after refresh for tenant %d source %s: %w", tenantID, sourceType, source.ErrReauthenticationRequired)
	}

	return err
}

// usableToken returns a token fit for immediate use: the cached one when it
// has margin left, the stored one on a cold cache, or a fresh one when the
// stored token is already past its margin.
func (m *Manager) usableToken(ctx context.Context, conn *credentials.Connection, refresher Refresher) (credentials.Token, bool, error) {
	if cached, ok := m.cache.Get(ctx, conn.TenantID, conn.SourceType); ok && !cached.Expired(m.margin) {
		return cached, false, nil
	}

	// Cold cache (process restart) falls back to the stored token.
	if !conn.Token.Expired(m.margin) {
		m.cache.Put(ctx, conn.TenantID, conn.SourceType, conn.Token)
		return conn.Token, false, nil
	}

	token, err := m.refresh(ctx, conn, refresher)
	if err != nil {
		return credentials.Token{}, false, err
	}
	return token, true, nil
}

// refresh performs the single refresh attempt: exchange, persist, recache.
// Sources that do not rotate refresh tokens return an empty one, in which
// case the prior refresh token is kept.
func (m *Manager) refresh(ctx context.Context, conn *credentials.Connection, refresher Refresher) (credentials.Token, error) {
	m.logger.Infof("Refreshing access token for tenant %d source %s", conn.TenantID, conn.SourceType)

	token, err := refresher.RefreshToken(ctx, conn)
	if err != nil {
		m.cache.Invalidate(ctx, conn.TenantID, conn.SourceType)
		return credentials.Token{}, err
	}

	if token.RefreshToken == "" {
		token.RefreshToken = conn.Token.RefreshToken
	}

	if err := m.store.UpdateToken(ctx, conn.TenantID, conn.SourceType, token); err != nil {
		return credentials.Token{}, fmt.Errorf("failed to persist refreshed token for tenant %d source %s: %w", conn.TenantID, conn.SourceType, err)
	}

	conn.Token = token
	m.cache.Put(ctx, conn.TenantID, conn.SourceType, token)

	return token, nil
}
