// Package jira implements the Jira issue-tracker connector using basic
// authentication against the REST API v3.
package jira

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/saultoio/saulto-sync/internal/credentials"
	"github.com/saultoio/saulto-sync/internal/source"
	"github.com/saultoio/saulto-sync/pkg/logger"
)

const (
	// SourceType is the registry identifier for this connector
	SourceType = "jira"

	// maxResults matches the Jira search API page size cap
	maxResults = 100

	// paginationCeiling guards against runaway offset loops on misbehaving
	// servers that keep reporting more results
	paginationCeiling = 10000
)

var entities = []string{"issues", "projects"}

// Connector is the Jira source connector
type Connector struct {
	httpClient *source.HTTPClient
	logger     *logger.Logger
}

// New creates a new Jira connector
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

// RequiredCredentials lists the config keys a Jira connection must carry
func (c *Connector) RequiredCredentials() []string {
	return []string{"server_url", "username", "access_token"}
}

// headers builds the basic-auth header from the username and API token
func (c *Connector) headers(token credentials.Token, config map[string]string) map[string]string {
	auth := base64.StdEncoding.EncodeToString([]byte(config["username"] + ":" + token.AccessToken))
	return map[string]string{
		"Authorization": "Basic " + auth,
		"Accept":        "application/json",
	}
}

func serverURL(config map[string]string) string {
	return strings.TrimRight(config["server_url"], "/")
}

// TestConnection verifies the credentials against the current-user endpoint
func (c *Connector) TestConnection(ctx context.Context, token credentials.Token, config map[string]string) error {
	req := source.Request{
		Method:  http.MethodGet,
		URL:     serverURL(config) + "/rest/api/3/myself",
		Headers: c.headers(token, config),
	}

	if err := c.httpClient.DoJSON(ctx, req, nil); err != nil {
		return source.WrapError(SourceType, "test_connection", err)
	}
	return nil
}

// FetchEntity pulls one page of one Jira entity. Jira paginates with
// startAt/maxResults offsets.
func (c *Connector) FetchEntity(ctx context.Context, token credentials.Token, config map[string]string, entity string, state *source.PageState, opts source.FetchOptions) (source.Page, error) {
	startAt := 0
	if state != nil {
		startAt = state.Offset
	}

	switch entity {
	case "issues":
		return c.fetchIssues(ctx, token, config, startAt, opts)
	case "projects":
		return c.fetchProjects(ctx, token, config, startAt)
	default:
		return source.Page{}, fmt.Errorf("%w: %s", source.ErrUnknownEntity, entity)
	}
}

func (c *Connector) fetchIssues(ctx context.Context, token credentials.Token, config map[string]string, startAt int, opts source.FetchOptions) (source.Page, error) {
	jqlParts := []string{}
	if !opts.UpdatedSince.IsZero() {
		jqlParts = append(jqlParts, fmt.Sprintf("updated >= '%s'", opts.UpdatedSince.UTC().Format("2006-01-02 15:04")))
	}
	jqlParts = append(jqlParts, "ORDER BY updated DESC")

	query := url.Values{}
	query.Set("jql", strings.Join(jqlParts, " "))
	query.Set("startAt", strconv.Itoa(startAt))
	query.Set("maxResults", strconv.Itoa(maxResults))
	query.Set("fields", "*all")

	req := source.Request{
		Method:  http.MethodGet,
		URL:     serverURL(config) + "/rest/api/3/search",
		Headers: c.headers(token, config),
		Query:   query,
	}

	var body struct {
		Issues []source.Record `json:"issues"`
		Total  int             `json:"total"`
	}
	if err := c.httpClient.DoJSON(ctx, req, &body); err != nil {
		return source.Page{}, source.WrapError(SourceType, "fetch_issues", err)
	}

	return offsetPage(body.Issues, startAt, body.Total), nil
}

func (c *Connector) fetchProjects(ctx context.Context, token credentials.Token, config map[string]string, startAt int) (source.Page, error) {
	query := url.Values{}
	query.Set("startAt", strconv.Itoa(startAt))
	query.Set("maxResults", strconv.Itoa(maxResults))
	query.Set("expand", "description,lead")

	req := source.Request{
		Method:  http.MethodGet,
		URL:     serverURL(config) + "/rest/api/3/project/search",
		Headers: c.headers(token, config),
		Query:   query,
	}

	var body struct {
		Values []source.Record `json:"values"`
		Total  int             `json:"total"`
	}
	if err := c.httpClient.DoJSON(ctx, req, &body); err != nil {
		return source.Page{}, source.WrapError(SourceType, "fetch_projects", err)
	}

	return offsetPage(body.Values, startAt, body.Total), nil
}

// RefreshToken is not supported: Jira API tokens are long-lived and have no
// refresh exchange, so a rejected token always means the tenant must
// reconnect the source.
func (c *Connector) RefreshToken(ctx context.Context, conn *credentials.Connection) (credentials.Token, error) {
	return credentials.Token{}, source.WrapError(SourceType, "refresh_token", source.ErrReauthenticationRequired)
}

// offsetPage normalizes offset pagination: the fetch is complete when the
// page came back short or the next offset would pass the reported total.
func offsetPage(records []source.Record, startAt, total int) source.Page {
	page := source.Page{Records: records}

	next := startAt + len(records)
	if len(records) == maxResults && next < total && next < paginationCeiling {
		page.Next = &source.PageState{Offset: next}
	}

	return page
}
