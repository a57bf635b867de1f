package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/medscope/study-search-service/internal/domain"
)

// HTTPClientConfig configures the shared upstream HTTP client.
type HTTPClientConfig struct {
	// Source names the upstream in wrapped errors (e.g. "PubMed").
	Source string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RateLimit is the sustained request rate in requests per second.
	RateLimit float64

	// BurstSize is the token-bucket burst size.
	BurstSize int

	// MaxRetries is the number of retry attempts after the first request.
	MaxRetries int

	// RetryDelay is the base delay between retries. A Retry-After header
	// on 429 and 5xx responses takes precedence.
	RetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g. "X-API-Key").
	APIKeyHeader string
}

// HTTPClient issues rate-limited, retrying requests to one upstream API.
// It is safe for concurrent use.
//
// Failures that outlast the retry budget, both transport errors and
// persistent 429/5xx statuses, come back as *domain.ExternalAPIError
// wrapping domain.ErrServiceUnavailable so callers can map them to the
// degraded-upstream path without inspecting strings.
type HTTPClient struct {
	client  *http.Client
	limiter *rate.Limiter
	config  HTTPClientConfig
}

// NewHTTPClient creates an upstream HTTP client.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Source == "" {
		cfg.Source = "upstream"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 10
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "MedScope-StudySearchService/1.0"
	}

	return &HTTPClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BurstSize),
		config:  cfg,
	}
}

// Do executes the request, waiting on the rate limiter before each attempt
// and retrying transport errors, 429, and 5xx responses.
//
// The request body is not preserved across retries; callers must provide
// requests with GetBody set if the body needs to be resent on retry.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.setHeaders(req)

	attempts := c.config.MaxRetries + 1
	var (
		lastStatus int
		lastErr    error
	)
	for i := 0; i < attempts; i++ {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastStatus = 0
			lastErr = err
			if i+1 < attempts {
				if err := c.backoff(req, c.config.RetryDelay); err != nil {
					return nil, err
				}
			}
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			// Success or a non-retryable status the caller inspects.
			return resp, nil
		}

		lastStatus = resp.StatusCode
		lastErr = fmt.Errorf("upstream returned status %d", resp.StatusCode)
		delay := retryAfter(resp, c.config.RetryDelay)
		drainBody(resp)
		if i+1 < attempts {
			if err := c.backoff(req, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, domain.NewExternalAPIError(
		c.config.Source,
		lastStatus,
		fmt.Sprintf("request failed after %d attempts: %v", attempts, lastErr),
		fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, lastErr),
	)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}
}

// backoff sleeps for the given delay, then rewinds the request body for the
// next attempt. It returns early when the request context ends.
func (c *HTTPClient) backoff(req *http.Request, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
	}

	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("cannot retry request: %w", err)
	}
	req.Body = body
	return nil
}

// retryableStatus reports whether the status warrants another attempt:
// 429 and any 5xx.
func retryableStatus(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// retryAfter resolves the wait before the next attempt, honoring a
// Retry-After header in either seconds or HTTP-date form.
func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return fallback
	}

	if seconds, err := strconv.ParseInt(header, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return fallback
	}

	if t, err := http.ParseTime(header); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return fallback
}

// drainBody discards and closes the response body so the connection can be
// reused by the next attempt.
func drainBody(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// ErrorType classifies an upstream error for metrics labels.
func ErrorType(err error) string {
	if errors.Is(err, domain.ErrServiceUnavailable) {
		return "unavailable"
	}
	var apiErr *domain.ExternalAPIError
	if errors.As(err, &apiErr) {
		return "upstream_status"
	}
	return "transport"
}
