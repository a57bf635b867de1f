package httpserver

import (
	"net/http"

	"github.com/medscope/study-search-service/internal/llm"
)

// generateInsightsRequest is the JSON request body for a cross-study synthesis.
type generateInsightsRequest struct {
	Query   string   `json:"query"`
	Studies []string `json:"studies" validate:"required,min=1"`
	Focus   string   `json:"focus,omitempty"`
}

// chatMessage is one prior conversation turn.
type chatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// chatRequest is the JSON request body for a grounded follow-up question.
type chatRequest struct {
	Question string        `json:"question" validate:"required"`
	Context  string        `json:"context,omitempty"`
	History  []chatMessage `json:"history,omitempty" validate:"omitempty,dive"`
}

// handleGenerateInsights handles POST /api/insights/generate-insights.
func (s *Server) handleGenerateInsights(w http.ResponseWriter, r *http.Request) {
	if s.insights == nil {
		writeError(w, http.StatusServiceUnavailable, "insights are not enabled")
		return
	}

	var req generateInsightsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.insights.GenerateInsights(r.Context(), llm.InsightsRequest{
		Query:   req.Query,
		Studies: req.Studies,
		Focus:   req.Focus,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("insights generation failed")
		writeError(w, http.StatusBadGateway, "insights generation failed")
		return
	}
	writeJSON(w, http.StatusOK, insightsResponse{
		Insights: res.Content,
		Model:    res.Model,
	})
}

// handleChat handles POST /api/insights/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.insights == nil {
		writeError(w, http.StatusServiceUnavailable, "insights are not enabled")
		return
	}

	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	history := make([]llm.Message, len(req.History))
	for i, m := range req.History {
		history[i] = llm.Message{Role: m.Role, Content: m.Content}
	}

	answer, err := s.insights.Chat(r.Context(), llm.ChatRequest{
		History:  history,
		Question: req.Question,
		Context:  req.Context,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("chat completion failed")
		writeError(w, http.StatusBadGateway, "chat completion failed")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer})
}
