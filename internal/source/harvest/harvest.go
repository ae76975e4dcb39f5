// Package harvest implements the Harvest time-tracking connector using
// OAuth 2.0 bearer tokens and the REST API v2.
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/saultoio/saulto-sync/internal/credentials"
	"github.com/saultoio/saulto-sync/internal/source"
	"github.com/saultoio/saulto-sync/pkg/logger"
)

const (
	// SourceType is the registry identifier for this connector
	SourceType = "harvest"

	defaultBaseURL  = "https://api.harvestapp.com/v2"
	defaultTokenURL = "https://id.getharvest.com/api/v2/oauth2/token"

	// perPage matches the Harvest API default page size
	perPage = 100
)

// entities is the fixed catalog of Harvest entities the pipeline syncs
var entities = []string{"time_entries", "projects", "clients", "invoices", "users"}

// Connector is the Harvest source connector
type Connector struct {
	httpClient *source.HTTPClient
	logger     *logger.Logger
}

// New creates a new Harvest connector
func New(httpClient *source.HTTPClient, logger *logger.Logger) *Connector {
	return &Connector{
		httpClient: httpClient,
		logger:     logger,
	}
}

// Name returns the source type identifier
func (c *Connector) Name() string {
	return SourceType
}

// Entities returns the fixed entity catalog
func (c *Connector) Entities() []string {
	ents := make([]string, len(entities))
	copy(ents, entities)
	return ents
}

// RequiredCredentials lists the config keys a Harvest connection must carry
func (c *Connector) RequiredCredentials() []string {
	return []string{"account_id", "access_token"}
}

func (c *Connector) baseURL(config map[string]string) string {
	if u := config["base_url"]; u != "" {
		return u
	}
	return defaultBaseURL
}

func (c *Connector) headers(token credentials.Token, config map[string]string) map[string]string {
	return map[string]string{
		"Authorization":      "Bearer " + token.AccessToken,
		"Harvest-Account-ID": config["account_id"],
		"User-Agent":         "Saulto Business Metrics (support@saulto.io)",
	}
}

// TestConnection verifies the token against the current-user endpoint
func (c *Connector) TestConnection(ctx context.Context, token credentials.Token, config map[string]string) error {
	req := source.Request{
		Method:  http.MethodGet,
		URL:     c.baseURL(config) + "/users/me",
		Headers: c.headers(token, config),
	}

	if err := c.httpClient.DoJSON(ctx, req, nil); err != nil {
		return source.WrapError(SourceType, "test_connection", err)
	}
	return nil
}

// FetchEntity pulls one page of one Harvest entity. Harvest paginates with
// page/total_pages counters and returns records under a key named after the
// entity.
func (c *Connector) FetchEntity(ctx context.Context, token credentials.Token, config map[string]string, entity string, state *source.PageState, opts source.FetchOptions) (source.Page, error) {
	if !knownEntity(entity) {
		return source.Page{}, fmt.Errorf("%w: %s", source.ErrUnknownEntity, entity)
	}

	page := 1
	if state != nil {
		page = state.Page
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	if !opts.UpdatedSince.IsZero() {
		query.Set("updated_since", opts.UpdatedSince.UTC().Format("2006-01-02"))
	}

	req := source.Request{
		Method:  http.MethodGet,
		URL:     c.baseURL(config) + "/" + entity,
		Headers: c.headers(token, config),
		Query:   query,
	}

	var body map[string]json.RawMessage
	if err := c.httpClient.DoJSON(ctx, req, &body); err != nil {
		return source.Page{}, source.WrapError(SourceType, "fetch_"+entity, err)
	}

	records, err := extractRecords(body)
	if err != nil {
		return source.Page{}, source.WrapError(SourceType, "fetch_"+entity, err)
	}

	result := source.Page{Records: records}

	totalPages := intField(body, "total_pages")
	if totalPages > page {
		result.Next = &source.PageState{Page: page + 1}
	}

	return result, nil
}

// RefreshToken exchanges the stored refresh token for a new access token.
// Harvest rotates the refresh token on every exchange.
func (c *Connector) RefreshToken(ctx context.Context, conn *credentials.Connection) (credentials.Token, error) {
	if conn.Token.RefreshToken == "" {
		return credentials.Token{}, source.WrapError(SourceType, "refresh_token", source.ErrReauthenticationRequired)
	}

	tokenURL := conn.Config["token_url"]
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", conn.Token.RefreshToken)
	form.Set("client_id", conn.Config["client_id"])
	form.Set("client_secret", conn.Config["client_secret"])

	req := source.Request{
		Method: http.MethodPost,
		URL:    tokenURL,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"User-Agent":   "Saulto Business Metrics (support@saulto.io)",
		},
		Body: []byte(form.Encode()),
	}

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := c.httpClient.DoJSON(ctx, req, &resp); err != nil {
		if source.IsAuthenticationExpired(err) {
			// The refresh token itself was rejected; only reconnecting helps.
			return credentials.Token{}, source.WrapError(SourceType, "refresh_token", source.ErrReauthenticationRequired)
		}
		return credentials.Token{}, source.WrapError(SourceType, "refresh_token", err)
	}

	if resp.AccessToken == "" {
		return credentials.Token{}, source.WrapError(SourceType, "refresh_token",
			fmt.Errorf("%w: token endpoint returned no access token", source.ErrSourceUnavailable))
	}

	token := credentials.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if resp.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	c.logger.Infof("Refreshed Harvest access token for tenant %d", conn.TenantID)
	return token, nil
}

func knownEntity(entity string) bool {
	for _, e := range entities {
		if e == entity {
			return true
		}
	}
	return false
}

// extractRecords finds the record array in a Harvest response. The API returns
// data as {entity_name: [...], per_page: X, total_pages: Y, links: {...}}, so
// the records live under the first array-valued key that is not "links".
func extractRecords(body map[string]json.RawMessage) ([]source.Record, error) {
	for key, raw := range body {
		if key == "links" || len(raw) == 0 || raw[0] != '[' {
			continue
		}
		var records []source.Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("failed to parse %s records: %w", key, err)
		}
		return records, nil
	}
	return nil, nil
}

func intField(body map[string]json.RawMessage, key string) int {
	raw, ok := body[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}
