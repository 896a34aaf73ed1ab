// Package httpfetch is the concrete stand-in for the "HTTP fetcher"
// collaborator spec.md §1/§6 treats as external: a small Fetcher interface
// plus a resilient, rate-limited implementation backed by
// hashicorp/go-retryablehttp and golang.org/x/time/rate, grounded on
// sigstore-policy-controller's go.mod (a direct go-retryablehttp dependency)
// and the teacher's existing golang.org/x/time dependency.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/SUNET/fed-trust/pkg/ferrors"
	"github.com/SUNET/fed-trust/pkg/logging"
)

// Fetcher is the minimal collaborator contract spec.md §6 names: fetch a
// URL's body over HTTP. Collector and trust-mark status checks depend on
// this interface, not on a concrete HTTP client, so tests can substitute a
// stub.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Post(ctx context.Context, url string, contentType string, body []byte) ([]byte, error)
}

// Client is the default Fetcher: bounded retries on transient transport
// errors (spec.md §7 "Transport errors ... treated as statement
// unavailable") and a per-process token-bucket rate limit on outbound
// federation fetches.
type Client struct {
	http    *retryablehttp.Client
	limiter *rate.Limiter
	logger  logging.Logger
}

// Config controls Client construction.
type Config struct {
	Timeout      time.Duration
	MaxRetries   int
	RateLimitRPS float64 // 0 disables the limiter
	Logger       logging.Logger
}

// New builds a Client. A zero Config yields a 10s timeout, 2 retries, the
// default logger, and no rate limiter.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.DefaultLogger()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil // the retryablehttp default logger writes to stderr directly; we log via pkg/logging instead

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), int(cfg.RateLimitRPS)+1)
	}

	return &Client{http: rc, limiter: limiter, logger: cfg.Logger}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Get fetches url, returning its body on a 2xx response. Any non-2xx status,
// timeout, or transport failure is reported as an error; per spec.md §7
// ("transport errors ... branch is abandoned") callers are expected to
// treat that as "statement unavailable" and drop only the affected branch.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("fetch failed", logging.F("url", url), logging.F("error", err.Error()))
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ferrors.New(ferrors.MalformedStatement, url, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	return body, nil
}

// Post sends body to url with contentType, returning the response body on a
// 2xx response. Used for the trust-mark status endpoint (spec.md §4.5 step
// 6, §6).
func (c *Client) Post(ctx context.Context, url string, contentType string, body []byte) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("post failed", logging.F("url", url), logging.F("error", err.Error()))
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ferrors.New(ferrors.MalformedStatement, url, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	return respBody, nil
}
