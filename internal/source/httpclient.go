package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxRateLimitRetries bounds how often a rate-limited call is retried
// before failing with ErrRateLimitExceeded.
const DefaultMaxRateLimitRetries = 4

// HTTPClient is the shared HTTP helper for connectors. It maps transport and
// status failures onto the source error taxonomy and retries rate-limited
// calls with exponential backoff, honoring any server-provided retry hint.
type HTTPClient struct {
	client     *http.Client
	maxRetries int
}

// NewHTTPClient creates a connector HTTP client with the given request timeout
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:     &http.Client{Timeout: timeout},
		maxRetries: DefaultMaxRateLimitRetries,
	}
}

// Underlying returns the wrapped *http.Client (used by tests to install mocks)
func (c *HTTPClient) Underlying() *http.Client {
	return c.client
}

// Request describes one connector API call
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   url.Values
	Body    []byte
}

// DoJSON executes the request and decodes a JSON response body into out.
// out may be nil when the response body is irrelevant.
func (c *HTTPClient) DoJSON(ctx context.Context, req Request, out interface{}) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.Reset()

	for attempt := 0; ; attempt++ {
		body, status, err := c.doOnce(ctx, req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}

		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return ErrAuthenticationExpired

		case status == http.StatusTooManyRequests:
			if attempt >= c.maxRetries {
				return ErrRateLimitExceeded
			}
			wait := b.NextBackOff()
			if hint := retryAfterHint(body.header); hint > wait {
				wait = hint
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue

		case status >= 500:
			return fmt.Errorf("%w: server returned status %d", ErrSourceUnavailable, status)

		case status >= 400:
			return fmt.Errorf("%w: request rejected with status %d", ErrSourceUnavailable, status)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body.data, out); err != nil {
			return fmt.Errorf("%w: malformed response body: %v", ErrSourceUnavailable, err)
		}
		return nil
	}
}

type responseBody struct {
	data   []byte
	header http.Header
}

func (c *HTTPClient) doOnce(ctx context.Context, req Request) (responseBody, int, error) {
	fullURL := req.URL
	if len(req.Query) > 0 {
		fullURL = fullURL + "?" + req.Query.Encode()
	}

	var reader io.Reader
	if len(req.Body) > 0 {
		reader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, reader)
	if err != nil {
		return responseBody{}, 0, err
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return responseBody{}, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return responseBody{}, 0, err
	}

	return responseBody{data: data, header: resp.Header}, resp.StatusCode, nil
}

// retryAfterHint parses the Retry-After header, returning 0 when absent or
// unparseable. Only the delay-seconds form is honored.
func retryAfterHint(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
