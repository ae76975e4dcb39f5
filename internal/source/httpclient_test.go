package source

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

func newMockedClient(t *testing.T, maxRetries int) *HTTPClient {
	c := &HTTPClient{
		client:     &http.Client{},
		maxRetries: maxRetries,
	}
	httpmock.ActivateNonDefault(c.Underlying())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestDoJSONDecodesBody(t *testing.T) {
	c := newMockedClient(t, 0)
	httpmock.RegisterResponder(http.MethodGet, "https://api.example.com/things",
		httpmock.NewStringResponder(http.StatusOK, `{"count": 3}`))

	var out struct {
		Count int `json:"count"`
	}
	err := c.DoJSON(context.Background(), Request{
		Method: http.MethodGet,
		URL:    "https://api.example.com/things",
	}, &out)

	assert.NoError(t, err)
	assert.Equal(t, 3, out.Count)
}

func TestDoJSONAuthFailure(t *testing.T) {
	c := newMockedClient(t, 0)

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		httpmock.RegisterResponder(http.MethodGet, "https://api.example.com/me",
			httpmock.NewStringResponder(status, `{"error": "bad token"}`))

		err := c.DoJSON(context.Background(), Request{
			Method: http.MethodGet,
			URL:    "https://api.example.com/me",
		}, nil)

		assert.ErrorIs(t, err, ErrAuthenticationExpired)
	}
}

func TestDoJSONServerErrorIsUnavailable(t *testing.T) {
	c := newMockedClient(t, 0)
	httpmock.RegisterResponder(http.MethodGet, "https://api.example.com/things",
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream broke"))

	err := c.DoJSON(context.Background(), Request{
		Method: http.MethodGet,
		URL:    "https://api.example.com/things",
	}, nil)

	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.NotErrorIs(t, err, ErrAuthenticationExpired)
}

func TestDoJSONNetworkErrorIsUnavailable(t *testing.T) {
	c := newMockedClient(t, 0)
	// No responder registered: httpmock fails the transport round trip.

	err := c.DoJSON(context.Background(), Request{
		Method: http.MethodGet,
		URL:    "https://api.example.com/unreachable",
	}, nil)

	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestDoJSONRetriesRateLimitThenSucceeds(t *testing.T) {
	c := newMockedClient(t, 2)

	calls := 0
	httpmock.RegisterResponder(http.MethodGet, "https://api.example.com/limited",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				resp := httpmock.NewStringResponse(http.StatusTooManyRequests, "")
				resp.Header.Set("Retry-After", "0")
				return resp, nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"ok": true}`), nil
		})

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.DoJSON(context.Background(), Request{
		Method: http.MethodGet,
		URL:    "https://api.example.com/limited",
	}, &out)

	assert.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 2, calls)
}

func TestDoJSONRateLimitExhaustion(t *testing.T) {
	c := newMockedClient(t, 1)

	httpmock.RegisterResponder(http.MethodGet, "https://api.example.com/limited",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusTooManyRequests, "")
			resp.Header.Set("Retry-After", "0")
			return resp, nil
		})

	err := c.DoJSON(context.Background(), Request{
		Method: http.MethodGet,
		URL:    "https://api.example.com/limited",
	}, nil)

	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestDoJSONAppendsQuery(t *testing.T) {
	c := newMockedClient(t, 0)

	var gotQuery string
	httpmock.RegisterResponder(http.MethodGet, "https://api.example.com/things",
		func(req *http.Request) (*http.Response, error) {
			gotQuery = req.URL.RawQuery
			return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
		})

	req := Request{
		Method: http.MethodGet,
		URL:    "https://api.example.com/things",
	}
	req.Query = map[string][]string{"page": {"2"}, "per_page": {"100"}}

	err := c.DoJSON(context.Background(), req, nil)

	assert.NoError(t, err)
	assert.Equal(t, "page=2&per_page=100", gotQuery)
}

func TestRetryAfterHint(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, time.Duration(0), retryAfterHint(h))

	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, retryAfterHint(h))

	h.Set("Retry-After", "Wed, 21 Oct 2026 07:28:00 GMT")
	assert.Equal(t, time.Duration(0), retryAfterHint(h))

	assert.Equal(t, time.Duration(0), retryAfterHint(nil))
}
