// Package gitlab implements the GitLab extraction source: a rate-limited
// REST API client and the adapter normalizing its resources.
package gitlab

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/sources"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5

	// DefaultPerPage is the default page size requested from the API.
	DefaultPerPage = 100
)

// Client is a GitLab REST API (v4) client.
//
// Two layers keep it inside the provider's quota: a client-side token
// bucket paces outgoing requests, and the RateLimit-Remaining/-Reset
// response headers are observed so that an exhausted server-side quota
// suspends the next request until the reported reset instead of firing
// into a guaranteed 429.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	policy     sources.RetryPolicy
	perPage    int

	mu         sync.Mutex
	quotaReset time.Time // zero when the server-side quota has capacity
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client (tests use this to bypass the
// bearer-token transport).
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithRetryPolicy sets the transient-failure retry policy.
func WithRetryPolicy(policy sources.RetryPolicy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithPerPage sets the page size requested from the API.
func WithPerPage(perPage int) ClientOption {
	return func(c *Client) {
		if perPage > 0 && perPage <= 100 {
			c.perPage = perPage
		}
	}
}

// NewClient creates a new GitLab API client for a host and access token.
func NewClient(host, token string, opts ...ClientOption) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = DefaultTimeout

	c := &Client{
		baseURL:    host + "/api/v4",
		httpClient: httpClient,
		logger:     common.GetLogger(),
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		policy: sources.RetryPolicy{
			MaxAttempts:       5,
			InitialBackoff:    time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		},
		perPage: DefaultPerPage,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// PerPage returns the configured page size.
func (c *Client) PerPage() int {
	return c.perPage
}

// waitForQuota suspends until both the client-side token bucket and the
// server-reported quota window allow a request.
func (c *Client) waitForQuota(ctx context.Context) error {
	c.mu.Lock()
	reset := c.quotaReset
	c.mu.Unlock()

	if until := time.Until(reset); until > 0 {
		c.logger.Debug().Dur("wait", until).Msg("GitLab quota exhausted, suspending until reset")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(until):
		}
	}

	return c.limiter.Wait(ctx)
}

// observeQuota records the provider-reported remaining quota from a
// response. RateLimit-Reset is a unix timestamp.
func (c *Client) observeQuota(resp *http.Response) {
	remaining := resp.Header.Get("RateLimit-Remaining")
	if remaining == "" {
		remaining = resp.Header.Get("RateLimit-Observed") // some proxies strip Remaining
		if remaining == "" {
			return
		}
	}

	n, err := strconv.Atoi(remaining)
	if err != nil || n > 0 {
		return
	}

	if unix, err := strconv.ParseInt(resp.Header.Get("RateLimit-Reset"), 10, 64); err == nil {
		c.mu.Lock()
		c.quotaReset = time.Unix(unix, 0)
		c.mu.Unlock()
	}
}

// GetPage fetches one page of a paginated resource. It returns the raw JSON
// body and the X-Next-Page token ("" on the last page). Transient failures
// are retried with backoff inside; a non-429 4xx fails immediately as
// *models.FatalFetchError.
func (c *Client) GetPage(ctx context.Context, path string, params url.Values, pageToken string) (body []byte, nextPage string, err error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("per_page", strconv.Itoa(c.perPage))
	if pageToken != "" {
		params.Set("page", pageToken)
	}

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	err = sources.Retry(ctx, c.policy, c.logger, models.SourceGitLab, path, func(ctx context.Context) (time.Duration, error) {
		if err := c.waitForQuota(ctx); err != nil {
			return 0, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return 0, &models.FatalFetchError{
				Source: models.SourceGitLab, Endpoint: path, Message: err.Error(),
			}
		}

		c.logger.Debug().Str("endpoint", path).Str("page", pageToken).Msg("GitLab API request")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		c.observeQuota(resp)

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return 0, fmt.Errorf("failed to read response body: %w", err)
			}
			nextPage = resp.Header.Get("X-Next-Page")
			return 0, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			return retryAfter(resp), fmt.Errorf("rate limited (status 429)")

		case resp.StatusCode >= 500:
			return 0, fmt.Errorf("server error (status %d)", resp.StatusCode)

		default:
			// 401/403/404 and friends: credential or request related,
			// retrying cannot help.
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return 0, &models.FatalFetchError{
				Source:     models.SourceGitLab,
				Endpoint:   path,
				StatusCode: resp.StatusCode,
				Message:    string(msg),
			}
		}
	})

	if err != nil {
		return nil, "", err
	}
	return body, nextPage, nil
}

// retryAfter parses the Retry-After header (seconds) from a 429 response.
func retryAfter(resp *http.Response) time.Duration {
	if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}
