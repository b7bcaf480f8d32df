package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/okian/vigil/internal/domain/model"
)

// Default client configuration constants.
const (
	defaultRequestTimeout = 10 * time.Second
	defaultRetryMax       = 2
	defaultRetryAfter     = 5 * time.Second // when a 429 carries no Retry-After header
)

// Client talks to the directory service over its REST gateway.
//
// Transport-level retries (connection failures, 5xx) are delegated to
// retryablehttp. 429 responses are NOT retried here: rate limiting is a
// pass-wide condition the reconciliation engine handles with its own pause.
type Client struct {
	base  string
	token string
	http  *retryablehttp.Client
}

// ClientOption applies a configuration option to the Client.
type ClientOption func(*Client)

// WithToken sets the bearer token attached to every request.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithRequestTimeout bounds each HTTP call.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.HTTPClient.Timeout = d
		}
	}
}

// WithRetryMax sets the transport-level retry budget.
func WithRetryMax(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.http.RetryMax = n
		}
	}
}

// NewClient builds a directory client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = defaultRetryMax
	rc.HTTPClient.Timeout = defaultRequestTimeout
	rc.Logger = nil // suppress retryablehttp's default logging
	rc.CheckRetry = checkRetry

	c := &Client{base: baseURL, http: rc}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// checkRetry retries connection errors and 5xx, never 4xx. 429 must reach
// the caller so the reconciliation engine can pause the pass.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
		return true, nil
	}
	return false, nil
}

// ListRoles implements Directory.ListRoles.
func (c *Client) ListRoles(ctx context.Context, group string) ([]Role, error) {
	var roles []Role
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/groups/%s/roles", c.base, group), nil, &roles)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// Member implements Directory.Member.
func (c *Client) Member(ctx context.Context, group, user string) (Member, error) {
	var m Member
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/groups/%s/members/%s", c.base, group, user), nil, &m)
	if err != nil {
		return Member{}, err
	}
	return m, nil
}

// AddRole implements Directory.AddRole.
func (c *Client) AddRole(ctx context.Context, group, user, role string) error {
	url := fmt.Sprintf("%s/groups/%s/members/%s/roles/%s", c.base, group, user, role)
	return c.do(ctx, http.MethodPut, url, nil, nil)
}

// RemoveRoles implements Directory.RemoveRoles.
func (c *Client) RemoveRoles(ctx context.Context, group, user string, roles []string) error {
	body, err := json.Marshal(struct {
		Roles []string `json:"roles"`
	}{Roles: roles})
	if err != nil {
		return fmt.Errorf("%w: encode remove body: %v", ErrTransport, err)
	}
	url := fmt.Sprintf("%s/groups/%s/members/%s/roles", c.base, group, user)
	return c.do(ctx, http.MethodDelete, url, body, nil)
}

// Presence implements PresenceChecker against the gateway's live view.
func (c *Client) Presence(ctx context.Context, group, user string) (model.PresenceState, error) {
	var out struct {
		InChannel    bool `json:"in_channel"`
		Broadcasting bool `json:"broadcasting"`
	}
	url := fmt.Sprintf("%s/groups/%s/presence/%s", c.base, group, user)
	if err := c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return model.PresenceState{}, err
	}
	return model.PresenceState{InChannel: out.InChannel, Broadcasting: out.Broadcasting}, nil
}

// do issues one request and maps the response onto the error taxonomy.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	var rawBody any
	if body != nil {
		rawBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, rawBody)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s %s: status %d", ErrTransport, method, url, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrTransport, err)
		}
	}
	return nil
}

// retryAfter reads the server-specified backoff, in seconds.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}
