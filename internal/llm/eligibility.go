package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/medscope/study-search-service/internal/domain"
)

// CriteriaClassifier classifies systematic-review criteria against one study.
type CriteriaClassifier interface {
	// ClassifyCriteria evaluates every inclusion and exclusion criterion
	// against the study text and returns one CriterionResult per criterion,
	// in input order. An empty criteria set yields an empty result without a
	// model call.
	ClassifyCriteria(ctx context.Context, criteria domain.CriteriaSet, studyText string) (*domain.EligibilityResult, error)
}

// Classifier implements CriteriaClassifier on top of a completion Client.
type Classifier struct {
	client Client
	now    func() time.Time
}

// Compile-time check that Classifier implements CriteriaClassifier.
var _ CriteriaClassifier = (*Classifier)(nil)

// NewClassifier creates an eligibility classifier backed by the given
// completion client.
func NewClassifier(client Client) *Classifier {
	return &Classifier{
		client: client,
		now:    time.Now,
	}
}

// classifyResponse is the expected JSON structure of a classification
// completion.
type classifyResponse struct {
	Inclusion []criterionJSON `json:"inclusion"`
	Exclusion []criterionJSON `json:"exclusion"`
}

type criterionJSON struct {
	Criterion  string  `json:"criterion"`
	Status     string  `json:"status"`
	IsTrue     bool    `json:"is_true"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
	Reasoning  string  `json:"reasoning"`
}

// ClassifyCriteria evaluates the criteria set against the study text.
func (c *Classifier) ClassifyCriteria(ctx context.Context, criteria domain.CriteriaSet, studyText string) (*domain.EligibilityResult, error) {
	if criteria.IsEmpty() {
		return &domain.EligibilityResult{CheckedAt: c.now()}, nil
	}
	if strings.TrimSpace(studyText) == "" {
		return nil, fmt.Errorf("classify: study text must not be empty")
	}

	systemPrompt, userPrompt := buildClassifyPrompt(criteria, studyText)

	resp, err := c.client.Complete(ctx, Request{
		Messages: []Message{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: userPrompt},
		},
		JSONResponse: true,
		MaxTokens:    4096,
		Operation:    "classify",
	})
	if err != nil {
		return nil, fmt.Errorf("eligibility check via %s failed: %w", c.client.Provider(), err)
	}

	var parsed classifyResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return nil, fmt.Errorf("classify: failed to parse model response as JSON: %w", err)
	}

	result := &domain.EligibilityResult{
		Inclusion: alignResults(criteria.Inclusion, parsed.Inclusion),
		Exclusion: alignResults(criteria.Exclusion, parsed.Exclusion),
		Model:     resp.Model,
		CheckedAt: c.now(),
	}

	return result, nil
}

// alignResults pairs model outputs with the input criteria by position,
// normalizing classifications. Criteria the model skipped come back as
// unclear with zero confidence; blank input criteria are dropped.
func alignResults(criteria []string, outputs []criterionJSON) []domain.CriterionResult {
	results := make([]domain.CriterionResult, 0, len(criteria))
	pos := 0
	for _, criterion := range criteria {
		if strings.TrimSpace(criterion) == "" {
			continue
		}

		cr := domain.CriterionResult{
			Criterion: criterion,
			Status:    domain.CriterionUnclear,
		}
		if pos < len(outputs) {
			out := outputs[pos]
			status := domain.CriterionStatus(strings.ToLower(strings.TrimSpace(out.Status)))
			if domain.IsValidCriterionStatus(status) {
				cr.Status = status
			}
			cr.IsTrue = out.IsTrue
			cr.Confidence = clampConfidence(out.Confidence)
			cr.Evidence = out.Evidence
			cr.Reasoning = out.Reasoning
		}
		pos++
		results = append(results, cr)
	}
	return results
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// buildClassifyPrompt builds the system and user prompts for criteria
// classification.
func buildClassifyPrompt(criteria domain.CriteriaSet, studyText string) (systemPrompt, userPrompt string) {
	var sb strings.Builder

	sb.WriteString("You are a systematic review screening assistant. You are given the text ")
	sb.WriteString("of one study and a list of inclusion and exclusion criteria. For EVERY ")
	sb.WriteString("criterion, in the order given, judge whether the study satisfies it.\n\n")

	sb.WriteString("You MUST respond with valid JSON in exactly this format:\n")
	sb.WriteString(`{"inclusion": [{"criterion": "...", "status": "met|not_met|unclear", "is_true": true, "confidence": 0.0, "evidence": "...", "reasoning": "..."}], "exclusion": [...]}`)
	sb.WriteString("\n\n")

	sb.WriteString("Guidelines:\n")
	sb.WriteString("1. status is \"met\" only when the study text explicitly supports the criterion; ")
	sb.WriteString("\"not_met\" when it explicitly contradicts it; otherwise \"unclear\".\n")
	sb.WriteString("2. is_true mirrors status: true for met, false otherwise.\n")
	sb.WriteString("3. confidence is a number between 0 and 1.\n")
	sb.WriteString("4. evidence quotes the supporting passage from the study text, or is empty.\n")
	sb.WriteString("5. Produce exactly one output object per input criterion, preserving order.\n")

	var ub strings.Builder
	ub.WriteString("Inclusion criteria:\n")
	writeCriteria(&ub, criteria.Inclusion)
	ub.WriteString("\nExclusion criteria:\n")
	writeCriteria(&ub, criteria.Exclusion)
	ub.WriteString("\nStudy text:\n---\n")
	ub.WriteString(studyText)
	ub.WriteString("\n---")

	return sb.String(), ub.String()
}

// writeCriteria numbers the non-blank criteria, matching the positional
// alignment used when parsing the response.
func writeCriteria(ub *strings.Builder, criteria []string) {
	n := 0
	for _, cr := range criteria {
		if strings.TrimSpace(cr) == "" {
			continue
		}
		n++
		ub.WriteString(fmt.Sprintf("%d. %s\n", n, cr))
	}
}
