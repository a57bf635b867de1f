package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscope/study-search-service/internal/observability"
)

var testMetrics = observability.NewMetrics("searchsvc_llm_test")

func successBody(content string) string {
	resp := chatResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-2024",
		Choices: []chatChoice{
			{Message: chatMessage{Role: "assistant", Content: content}, FinishReason: "stop"},
		},
		Usage: chatUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func newTestOpenAIClient(baseURL string) *OpenAIClient {
	c := NewOpenAIClient(OpenAIConfig{
		APIKey:     "sk-test",
		Model:      "gpt-4o",
		BaseURL:    baseURL,
		MaxRetries: 2,
	})
	c.retryDelay = 10 * time.Millisecond
	return c
}

func TestOpenAIClient_Complete(t *testing.T) {
	var gotBody chatRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.Write([]byte(successBody(`{"ok":true}`)))
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL)

	resp, err := client.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "hello"},
		},
		JSONResponse: true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, "gpt-4o-2024", resp.Model)
	assert.Equal(t, 100, resp.Usage.InputTokens)
	assert.Equal(t, 20, resp.Usage.OutputTokens)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	require.NotNil(t, gotBody.ResponseFormat)
	assert.Equal(t, "json_object", gotBody.ResponseFormat.Type)
}

func TestOpenAIClient_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		w.Write([]byte(successBody("done")))
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL)

	resp, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL)

	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "bad key", apiErr.Message)
	assert.Equal(t, "invalid_api_key", apiErr.Code)
	assert.False(t, apiErr.IsTransient())
}

func TestOpenAIClient_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL)

	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted 2 retries")
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIClient_RecordsMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(successBody("done")))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  "sk-test",
		Model:   "gpt-4o",
		BaseURL: server.URL,
		Metrics: testMetrics,
	})

	total := testMetrics.LLMRequestsTotal.WithLabelValues("classify", "gpt-4o")
	input := testMetrics.LLMTokensUsed.WithLabelValues("classify", "gpt-4o", "input")
	output := testMetrics.LLMTokensUsed.WithLabelValues("classify", "gpt-4o", "output")
	totalBefore := testutil.ToFloat64(total)
	inputBefore := testutil.ToFloat64(input)
	outputBefore := testutil.ToFloat64(output)

	_, err := client.Complete(context.Background(), Request{
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		Operation: "classify",
	})
	require.NoError(t, err)

	assert.Equal(t, totalBefore+1, testutil.ToFloat64(total))
	assert.Equal(t, inputBefore+100, testutil.ToFloat64(input))
	assert.Equal(t, outputBefore+20, testutil.ToFloat64(output))
}

func TestOpenAIClient_RecordsFailureMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:  "sk-test",
		Model:   "gpt-4o",
		BaseURL: server.URL,
		Metrics: testMetrics,
	})

	failed := testMetrics.LLMRequestsFailed.WithLabelValues("refine", "gpt-4o", "api")
	before := testutil.ToFloat64(failed)

	_, err := client.Complete(context.Background(), Request{
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		Operation: "refine",
	})
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(failed))
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL)

	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty choices")
}

func TestOpenAIClient_Defaults(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{APIKey: "k"})

	assert.Equal(t, defaultOpenAIBaseURL, client.baseURL)
	assert.Equal(t, defaultOpenAIModel, client.model)
	assert.Equal(t, "openai", client.Provider())
	assert.Equal(t, defaultOpenAIModel, client.Model())
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, isTransientError(&APIError{StatusCode: 500}))
	assert.True(t, isTransientError(&APIError{StatusCode: 429}))
	assert.True(t, isTransientError(&APIError{StatusCode: 0}))
	assert.False(t, isTransientError(&APIError{StatusCode: 400}))
	assert.False(t, isTransientError(assert.AnError))
	assert.False(t, isTransientError(nil))
}
