// Package source defines the connector contract for external line-of-business
// systems and the registry the pipeline resolves connectors from.
package source

import (
	"context"
	"time"

	"github.com/saultoio/saulto-sync/internal/credentials"
)

// Record is one source-native object, kept as parsed JSON
type Record map[string]interface{}

// PageState carries the position of an in-progress entity fetch. Which field
// is meaningful depends on the source's pagination style; a nil *PageState
// always means "first page".
type PageState struct {
	Offset int    // REST offset pagination (e.g. Jira startAt)
	Page   int    // page-number pagination (e.g. Harvest page/total_pages)
	Cursor string // cursor pagination (e.g. GraphQL sources)
}

// Page is one page of fetched records. Next is nil when the entity is
// exhausted.
type Page struct {
	Records []Record
	Next    *PageState
}

// FetchOptions carries cross-source fetch hints
type FetchOptions struct {
	// UpdatedSince limits the fetch to records changed after this time for
	// sources that support incremental pulls. Zero means a full fetch.
	UpdatedSince time.Time
}

// Connector is the per-source-type contract. One value per external source is
// registered at startup; connectors are stateless with respect to tenants and
// receive credentials on every call.
type Connector interface {
	// Name returns the source type identifier (e.g. "harvest", "jira")
	Name() string

	// Entities returns the fixed catalog of logical entities this source exposes
	Entities() []string

	// RequiredCredentials lists the config keys a connection must carry
	RequiredCredentials() []string

	// TestConnection verifies the token against a cheap read-only endpoint
	TestConnection(ctx context.Context, token credentials.Token, config map[string]string) error

	// FetchEntity pulls one page of one entity. state == nil requests the
	// first page; the returned Page.Next is nil once the entity is exhausted.
	FetchEntity(ctx context.Context, token credentials.Token, config map[string]string, entity string, state *PageState, opts FetchOptions) (Page, error)

	// RefreshToken exchanges the stored refresh token for a new access token.
	// Sources that rotate refresh tokens return the new one; sources that do
	// not return an empty RefreshToken, and the caller keeps the prior value.
	RefreshToken(ctx context.Context, conn *credentials.Connection) (credentials.Token, error)
}

// ValidateCredentials checks that a connection carries every config key the
// connector requires. It returns the missing keys, empty when valid.
func ValidateCredentials(c Connector, conn *credentials.Connection) []string {
	var missing []string
	for _, key := range c.RequiredCredentials() {
		if key == "access_token" {
			if conn.Token.AccessToken == "" {
				missing = append(missing, key)
			}
			continue
		}
		if conn.Config[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
