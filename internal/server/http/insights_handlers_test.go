package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscope/study-search-service/internal/llm"
)

func TestHandleGenerateInsights(t *testing.T) {
	var captured llm.InsightsRequest
	gen := &stubInsights{
		generateFn: func(_ context.Context, req llm.InsightsRequest) (*llm.InsightsResult, error) {
			captured = req
			return &llm.InsightsResult{
				Content: json.RawMessage(`{"summary":"pump therapy improves control"}`),
				Model:   "stub-model",
			}, nil
		},
	}
	srv := newTestServer(testDeps{insights: gen})

	body := `{"query":"insulin pump children","studies":["Study A text","Study B text"],"focus":"efficacy"}`
	rr := serveHTTP(srv, postJSON("/api/insights/generate-insights", body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp insightsResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "stub-model", resp.Model)
	assert.JSONEq(t, `{"summary":"pump therapy improves control"}`, string(resp.Insights))

	assert.Equal(t, "insulin pump children", captured.Query)
	assert.Len(t, captured.Studies, 2)
	assert.Equal(t, "efficacy", captured.Focus)
}

func TestHandleGenerateInsights_RequiresStudies(t *testing.T) {
	srv := newTestServer(testDeps{insights: &stubInsights{}})

	rr := serveHTTP(srv, postJSON("/api/insights/generate-insights", `{"query":"x"}`))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "studies")
}

func TestHandleGenerateInsights_Disabled(t *testing.T) {
	srv := newTestServer(testDeps{})

	rr := serveHTTP(srv, postJSON("/api/insights/generate-insights", `{"studies":["a"]}`))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not enabled")
}

func TestHandleGenerateInsights_UpstreamFailure(t *testing.T) {
	gen := &stubInsights{
		generateFn: func(_ context.Context, _ llm.InsightsRequest) (*llm.InsightsResult, error) {
			return nil, assert.AnError
		},
	}
	srv := newTestServer(testDeps{insights: gen})

	rr := serveHTTP(srv, postJSON("/api/insights/generate-insights", `{"studies":["a"]}`))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestHandleChat(t *testing.T) {
	var captured llm.ChatRequest
	gen := &stubInsights{
		chatFn: func(_ context.Context, req llm.ChatRequest) (string, error) {
			captured = req
			return "Three of the studies report improved HbA1c.", nil
		},
	}
	srv := newTestServer(testDeps{insights: gen})

	body := `{"question":"What did we find on HbA1c?",` +
		`"context":"Study A ... Study B ...",` +
		`"history":[{"role":"user","content":"Summarize the studies"},{"role":"assistant","content":"They cover pump therapy."}]}`
	rr := serveHTTP(srv, postJSON("/api/insights/chat", body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp chatResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "Three of the studies report improved HbA1c.", resp.Answer)

	assert.Equal(t, "What did we find on HbA1c?", captured.Question)
	assert.Equal(t, "Study A ... Study B ...", captured.Context)
	require.Len(t, captured.History, 2)
	assert.Equal(t, llm.RoleUser, captured.History[0].Role)
	assert.Equal(t, llm.RoleAssistant, captured.History[1].Role)
}

func TestHandleChat_RequiresQuestion(t *testing.T) {
	srv := newTestServer(testDeps{insights: &stubInsights{}})

	rr := serveHTTP(srv, postJSON("/api/insights/chat", `{"context":"studies"}`))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "question is required")
}

func TestHandleChat_InvalidHistoryRole(t *testing.T) {
	srv := newTestServer(testDeps{insights: &stubInsights{}})

	body := `{"question":"q","history":[{"role":"system","content":"x"}]}`
	rr := serveHTTP(srv, postJSON("/api/insights/chat", body))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
