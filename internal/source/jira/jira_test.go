package jira

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/saultoio/saulto-sync/internal/credentials"
	"github.com/saultoio/saulto-sync/internal/source"
	"github.com/saultoio/saulto-sync/pkg/logger"
)

const testServer = "https://example.atlassian.net"

func newTestConnector(t *testing.T) *Connector {
	httpClient := source.NewHTTPClient(5 * time.Second)
	httpmock.ActivateNonDefault(httpClient.Underlying())
	t.Cleanup(httpmock.DeactivateAndReset)
	return New(httpClient, logger.New("jira-test"))
}

func testToken() credentials.Token {
	return credentials.Token{AccessToken: "api-token"}
}

func testConfig() map[string]string {
	return map[string]string{
		"server_url": testServer,
		"username":   "bot@example.com",
	}
}

func TestConnectorCatalog(t *testing.T) {
	c := newTestConnector(t)

	assert.Equal(t, "jira", c.Name())
	assert.Equal(t, []string{"issues", "projects"}, c.Entities())
	assert.Equal(t, []string{"server_url", "username", "access_token"}, c.RequiredCredentials())
}

func TestTestConnectionUsesBasicAuth(t *testing.T) {
	c := newTestConnector(t)

	var gotAuth string
	httpmock.RegisterResponder(http.MethodGet, testServer+"/rest/api/3/myself",
		func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			return httpmock.NewStringResponse(http.StatusOK, `{"accountId": "x"}`), nil
		})

	err := c.TestConnection(context.Background(), testToken(), testConfig())

	assert.NoError(t, err)
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("bot@example.com:api-token"))
	assert.Equal(t, expected, gotAuth)
}

func TestFetchIssuesOffsetPagination(t *testing.T) {
	c := newTestConnector(t)

	httpmock.RegisterResponder(http.MethodGet, testServer+"/rest/api/3/search",
		func(req *http.Request) (*http.Response, error) {
			startAt := req.URL.Query().Get("startAt")
			if startAt == "0" {
				issues := `[`
				for i := 0; i < maxResults; i++ {
					if i > 0 {
						issues += ","
					}
					issues += fmt.Sprintf(`{"id": "%d", "key": "PRJ-%d"}`, i, i)
				}
				issues += `]`
				return httpmock.NewStringResponse(http.StatusOK,
					fmt.Sprintf(`{"issues": %s, "total": 120}`, issues)), nil
			}
			assert.Equal(t, "100", startAt)
			return httpmock.NewStringResponse(http.StatusOK,
				`{"issues": [{"id": "100"}], "total": 120}`), nil
		})

	first, err := c.FetchEntity(context.Background(), testToken(), testConfig(), "issues", nil, source.FetchOptions{})
	assert.NoError(t, err)
	assert.Len(t, first.Records, maxResults)
	assert.NotNil(t, first.Next)
	assert.Equal(t, maxResults, first.Next.Offset)

	second, err := c.FetchEntity(context.Background(), testToken(), testConfig(), "issues", first.Next, source.FetchOptions{})
	assert.NoError(t, err)
	assert.Len(t, second.Records, 1)
	assert.Nil(t, second.Next)
}

func TestFetchIssuesIncrementalJQL(t *testing.T) {
	c := newTestConnector(t)

	var gotJQL string
	httpmock.RegisterResponder(http.MethodGet, testServer+"/rest/api/3/search",
		func(req *http.Request) (*http.Response, error) {
			gotJQL = req.URL.Query().Get("jql")
			return httpmock.NewStringResponse(http.StatusOK, `{"issues": [], "total": 0}`), nil
		})

	since := time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC)
	_, err := c.FetchEntity(context.Background(), testToken(), testConfig(), "issues", nil,
		source.FetchOptions{UpdatedSince: since})

	assert.NoError(t, err)
	assert.Equal(t, "updated >= '2026-06-01 14:30' ORDER BY updated DESC", gotJQL)
}

func TestFetchProjects(t *testing.T) {
	c := newTestConnector(t)

	httpmock.RegisterResponder(http.MethodGet, testServer+"/rest/api/3/project/search",
		httpmock.NewStringResponder(http.StatusOK,
			`{"values": [{"id": "1", "key": "PRJ"}], "total": 1}`))

	page, err := c.FetchEntity(context.Background(), testToken(), testConfig(), "projects", nil, source.FetchOptions{})

	assert.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Nil(t, page.Next)
}

func TestFetchEntityUnknownEntity(t *testing.T) {
	c := newTestConnector(t)

	_, err := c.FetchEntity(context.Background(), testToken(), testConfig(), "sprints", nil, source.FetchOptions{})

	assert.ErrorIs(t, err, source.ErrUnknownEntity)
}

func TestRefreshTokenAlwaysRequiresReauthentication(t *testing.T) {
	c := newTestConnector(t)

	conn := &credentials.Connection{
		TenantID:   3,
		SourceType: SourceType,
		Token:      testToken(),
	}

	_, err := c.RefreshToken(context.Background(), conn)

	assert.True(t, source.IsReauthenticationRequired(err))
}

func TestOffsetPageCeiling(t *testing.T) {
	records := make([]source.Record, maxResults)

	// Next offset would pass the ceiling: pagination stops even though the
	// server reports more results.
	page := offsetPage(records, paginationCeiling-maxResults, paginationCeiling+500)
	assert.Nil(t, page.Next)

	page = offsetPage(records, 0, paginationCeiling+500)
	assert.NotNil(t, page.Next)
}
