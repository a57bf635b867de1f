package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// InsightsRequest carries the material for a cross-study insights summary.
type InsightsRequest struct {
	// Query is the search that produced the studies.
	Query string `json:"query"`

	// Studies are the study texts (titles plus abstracts or summaries) to
	// synthesize. At least one is required.
	Studies []string `json:"studies"`

	// Focus optionally narrows the synthesis ("safety", "efficacy", ...).
	Focus string `json:"focus,omitempty"`
}

// InsightsResult is the structured synthesis returned by the model.
// The JSON is passed through to the caller unparsed beyond envelope checks.
type InsightsResult struct {
	// Content is the model's JSON insights document.
	Content json.RawMessage `json:"content"`

	// Model is the model that produced the synthesis.
	Model string `json:"model"`
}

// ChatRequest is one turn of a grounded conversation about search results.
type ChatRequest struct {
	// History is the prior conversation, oldest first.
	History []Message `json:"history,omitempty"`

	// Question is the user's current question.
	Question string `json:"question"`

	// Context is the study material the answer must be grounded in.
	Context string `json:"context,omitempty"`
}

// InsightsGenerator produces cross-study syntheses and grounded chat answers.
type InsightsGenerator interface {
	// GenerateInsights synthesizes themes, agreements, and contradictions
	// across the given studies.
	GenerateInsights(ctx context.Context, req InsightsRequest) (*InsightsResult, error)

	// Chat answers a follow-up question grounded in the given study context.
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// Insights implements InsightsGenerator on top of a completion Client.
type Insights struct {
	client Client
}

// Compile-time check that Insights implements InsightsGenerator.
var _ InsightsGenerator = (*Insights)(nil)

// NewInsights creates an insights generator backed by the given completion
// client.
func NewInsights(client Client) *Insights {
	return &Insights{client: client}
}

const insightsSystemPrompt = `You are a biomedical evidence synthesis assistant. ` +
	`Given a set of study texts retrieved for one search, produce a structured synthesis.

You MUST respond with valid JSON in exactly this format:
{"summary": "...", "themes": [{"title": "...", "detail": "...", "study_indices": [1]}], "contradictions": ["..."], "limitations": ["..."]}

Guidelines:
1. Cite studies by their 1-based index in study_indices.
2. Report only what the study texts support; never invent findings.
3. contradictions lists points where studies disagree; empty if none.`

// GenerateInsights synthesizes the given studies into a structured document.
func (g *Insights) GenerateInsights(ctx context.Context, req InsightsRequest) (*InsightsResult, error) {
	if len(req.Studies) == 0 {
		return nil, fmt.Errorf("insights: at least one study is required")
	}

	var ub strings.Builder
	if req.Query != "" {
		ub.WriteString("Search query: ")
		ub.WriteString(req.Query)
		ub.WriteString("\n\n")
	}
	if req.Focus != "" {
		ub.WriteString("Synthesis focus: ")
		ub.WriteString(req.Focus)
		ub.WriteString("\n\n")
	}
	for i, study := range req.Studies {
		fmt.Fprintf(&ub, "Study %d:\n---\n%s\n---\n\n", i+1, study)
	}

	resp, err := g.client.Complete(ctx, Request{
		Messages: []Message{
			{Role: RoleSystem, Content: insightsSystemPrompt},
			{Role: RoleUser, Content: ub.String()},
		},
		JSONResponse: true,
		MaxTokens:    4096,
		Operation:    "insights",
	})
	if err != nil {
		return nil, fmt.Errorf("insights via %s failed: %w", g.client.Provider(), err)
	}

	if !json.Valid([]byte(resp.Content)) {
		return nil, fmt.Errorf("insights: model returned invalid JSON")
	}

	return &InsightsResult{
		Content: json.RawMessage(resp.Content),
		Model:   resp.Model,
	}, nil
}

const chatSystemPrompt = `You are a biomedical research assistant answering questions ` +
	`about a set of retrieved studies. Ground every answer in the provided study context; ` +
	`when the context does not contain the answer, say so instead of speculating.`

// Chat answers one follow-up question grounded in the provided context.
func (g *Insights) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", fmt.Errorf("chat: question must not be empty")
	}

	messages := make([]Message, 0, len(req.History)+3)
	messages = append(messages, Message{Role: RoleSystem, Content: chatSystemPrompt})
	if req.Context != "" {
		messages = append(messages, Message{
			Role:    RoleSystem,
			Content: "Study context:\n---\n" + req.Context + "\n---",
		})
	}
	messages = append(messages, req.History...)
	messages = append(messages, Message{Role: RoleUser, Content: req.Question})

	resp, err := g.client.Complete(ctx, Request{
		Messages:  messages,
		MaxTokens: 2048,
		Operation: "chat",
	})
	if err != nil {
		return "", fmt.Errorf("chat via %s failed: %w", g.client.Provider(), err)
	}

	return resp.Content, nil
}
