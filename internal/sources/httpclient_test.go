package sources

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscope/study-search-service/internal/domain"
)

func TestNewHTTPClient(t *testing.T) {
	t.Run("creates client with custom config", func(t *testing.T) {
		cfg := HTTPClientConfig{
			Source:       "TestSource",
			Timeout:      15 * time.Second,
			RateLimit:    5,
			BurstSize:    3,
			MaxRetries:   2,
			RetryDelay:   500 * time.Millisecond,
			UserAgent:    "TestAgent/1.0",
			APIKey:       "test-key",
			APIKeyHeader: "X-API-Key",
		}

		client := NewHTTPClient(cfg)

		require.NotNil(t, client)
		require.NotNil(t, client.client)
		require.NotNil(t, client.limiter)
		assert.Equal(t, 15*time.Second, client.client.Timeout)
		assert.Equal(t, cfg.UserAgent, client.config.UserAgent)
		assert.Equal(t, cfg.MaxRetries, client.config.MaxRetries)
	})

	t.Run("applies default values", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{})

		require.NotNil(t, client)
		assert.Equal(t, "upstream", client.config.Source)
		assert.Equal(t, 30*time.Second, client.client.Timeout)
		assert.Equal(t, "MedScope-StudySearchService/1.0", client.config.UserAgent)
		assert.Equal(t, 3, client.config.MaxRetries)
		assert.Equal(t, time.Second, client.config.RetryDelay)
	})
}

func TestHTTPClient_Do(t *testing.T) {
	t.Run("successful request with User-Agent", func(t *testing.T) {
		var receivedUserAgent string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedUserAgent = r.Header.Get("User-Agent")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			UserAgent: "TestAgent/2.0",
			RateLimit: 100, // High rate to avoid test delays
			BurstSize: 10,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "TestAgent/2.0", receivedUserAgent)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, `{"status":"ok"}`, string(body))
	})

	t.Run("sets API key header when configured", func(t *testing.T) {
		var receivedAPIKey string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedAPIKey = r.Header.Get("X-API-Key")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:    100,
			BurstSize:    10,
			APIKey:       "secret-key-123",
			APIKeyHeader: "X-API-Key",
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "secret-key-123", receivedAPIKey)
	})

	t.Run("preserves existing User-Agent header", func(t *testing.T) {
		var receivedUserAgent string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedUserAgent = r.Header.Get("User-Agent")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			UserAgent: "DefaultAgent/1.0",
			RateLimit: 100,
			BurstSize: 10,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		req.Header.Set("User-Agent", "CustomAgent/3.0")

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "CustomAgent/3.0", receivedUserAgent)
	})
}

func TestHTTPClient_RetryOn429(t *testing.T) {
	t.Run("retries on 429 and succeeds", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := requestCount.Add(1)
			if count < 3 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("success"))
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:  100,
			BurstSize:  10,
			MaxRetries: 3,
			RetryDelay: 10 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(3), requestCount.Load())
	})

	t.Run("typed unavailable error after max retries on 429", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount.Add(1)
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			Source:     "TestSource",
			RateLimit:  100,
			BurstSize:  10,
			MaxRetries: 2,
			RetryDelay: 10 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.Error(t, err)
		assert.Nil(t, resp)

		var apiErr *domain.ExternalAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "TestSource", apiErr.Source)
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
		// Initial attempt + MaxRetries
		assert.Equal(t, int32(3), requestCount.Load())
	})
}

func TestHTTPClient_RetryOn5xx(t *testing.T) {
	t.Run("retries on 500 and succeeds", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := requestCount.Add(1)
			if count < 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:  100,
			BurstSize:  10,
			MaxRetries: 3,
			RetryDelay: 10 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(2), requestCount.Load())
	})

	t.Run("typed unavailable error after persistent 503", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			Source:     "TestSource",
			RateLimit:  100,
			BurstSize:  10,
			MaxRetries: 1,
			RetryDelay: 10 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		_, err = client.Do(req)
		require.Error(t, err)

		var apiErr *domain.ExternalAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	})

	t.Run("typed unavailable error after transport failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close() // Refuse all connections

		client := NewHTTPClient(HTTPClientConfig{
			Source:     "TestSource",
			RateLimit:  100,
			BurstSize:  10,
			MaxRetries: 1,
			RetryDelay: 10 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		_, err = client.Do(req)
		require.Error(t, err)

		var apiErr *domain.ExternalAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 0, apiErr.StatusCode)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	})

	t.Run("does not retry on 4xx client errors", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:  100,
			BurstSize:  10,
			MaxRetries: 3,
			RetryDelay: 10 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, int32(1), requestCount.Load())
	})
}

func TestHTTPClient_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientConfig{
		RateLimit: 100,
		BurstSize: 10,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClient_RetryWithRequestBody(t *testing.T) {
	var requestCount atomic.Int32
	var lastBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		body, _ := io.ReadAll(r.Body)
		lastBody = string(body)
		if count < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientConfig{
		RateLimit:  100,
		BurstSize:  10,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	})

	bodyContent := `{"data":"test"}`
	req, err := http.NewRequestWithContext(
		context.Background(),
		http.MethodPost,
		server.URL,
		strings.NewReader(bodyContent),
	)
	require.NoError(t, err)

	// Set GetBody to enable body reset on retry
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(bodyContent)), nil
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, bodyContent, lastBody)
	assert.Equal(t, int32(2), requestCount.Load())
}

func TestRetryAfter(t *testing.T) {
	fallback := 500 * time.Millisecond

	t.Run("uses fallback when Retry-After is empty", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		assert.Equal(t, fallback, retryAfter(resp, fallback))
	})

	t.Run("parses Retry-After as seconds", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"5"}}}
		assert.Equal(t, 5*time.Second, retryAfter(resp, fallback))
	})

	t.Run("parses Retry-After as HTTP date", func(t *testing.T) {
		futureTime := time.Now().Add(10 * time.Second)
		resp := &http.Response{
			Header: http.Header{
				"Retry-After": []string{futureTime.UTC().Format(http.TimeFormat)},
			},
		}
		delay := retryAfter(resp, fallback)
		assert.Greater(t, delay, 9*time.Second)
		assert.Less(t, delay, 11*time.Second)
	})

	t.Run("uses fallback for invalid Retry-After", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"invalid"}}}
		assert.Equal(t, fallback, retryAfter(resp, fallback))
	})
}

func TestRetryableStatus(t *testing.T) {
	testCases := []struct {
		statusCode  int
		shouldRetry bool
	}{
		{http.StatusOK, false},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
	}

	for _, tc := range testCases {
		t.Run(http.StatusText(tc.statusCode), func(t *testing.T) {
			assert.Equal(t, tc.shouldRetry, retryableStatus(tc.statusCode), "status %d", tc.statusCode)
		})
	}
}
