// Package llm provides the language-model integrations of the study search
// service: query refinement for the upstream sources, patient-criteria query
// expansion, per-criterion eligibility classification, and insights/chat.
//
// All features sit behind the narrow Client interface so the OpenAI-compatible
// HTTP transport can be swapped for a fake in tests, and behind purpose-built
// interfaces (QueryRefiner, CriteriaClassifier, InsightsGenerator) so callers
// never see prompt construction.
package llm

import "context"

// Message roles for chat-style completion requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in a chat completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	// Messages is the conversation to complete.
	Messages []Message

	// JSONResponse requests a JSON-object response format when true.
	JSONResponse bool

	// MaxTokens bounds the completion length. Zero uses the provider default.
	MaxTokens int

	// Operation labels the completion for metrics (e.g., "refine",
	// "classify"). Empty reports as "completion".
	Operation string
}

// Usage contains token accounting for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is a provider-neutral completion response.
type Response struct {
	// Content is the completion text. When JSONResponse was requested this
	// is a JSON object document.
	Content string

	// Model is the model that produced the completion.
	Model string

	// Usage is the token accounting reported by the provider.
	Usage Usage
}

// Client is the narrow completion interface all LLM features are built on.
//
// Implementations should:
//   - Respect context cancellation
//   - Retry transient provider errors (429, 5xx)
//   - Return wrapped errors with provider context
type Client interface {
	// Complete executes one chat completion.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Provider returns the name of the LLM provider (e.g., "openai").
	Provider() string

	// Model returns the model identifier being used (e.g., "gpt-4o").
	Model() string
}
