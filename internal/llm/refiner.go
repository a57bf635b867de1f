package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// maxPatientVariants caps the number of sub-queries generated for a patient
// description, matching the prompt instruction.
const maxPatientVariants = 5

// RefineRequest contains the user's search input to be expanded into
// source-specific queries.
type RefineRequest struct {
	// Query is the free-text user query.
	Query string

	// Condition is the user-typed condition, if any. A non-empty value must
	// survive refinement verbatim.
	Condition string

	// Intervention is the user-typed intervention, if any. A non-empty value
	// must survive refinement verbatim.
	Intervention string
}

// RefineResult contains the per-source expansions of one query.
type RefineResult struct {
	// PubMedQuery is the expanded boolean query for the E-utilities search.
	PubMedQuery string

	// Condition is the condition expression for the registry search.
	Condition string

	// Intervention is the intervention expression for the registry search.
	Intervention string

	// RefinedQuery is a single human-readable restatement of the query,
	// echoed back to the caller for display.
	RefinedQuery string

	// Reasoning is the model's explanation of its expansion (optional).
	Reasoning string

	// Model is the model that produced the expansion.
	Model string
}

// QueryRefiner expands user queries into source-specific search expressions.
type QueryRefiner interface {
	// Refine expands one user query. User-typed condition and intervention
	// values are passed through unchanged.
	Refine(ctx context.Context, req RefineRequest) (*RefineResult, error)

	// PatientVariants expands a free-text patient description into up to
	// five focused sub-queries, each isolating one clinical characteristic.
	PatientVariants(ctx context.Context, description string) ([]string, error)
}

// Refiner implements QueryRefiner on top of a completion Client.
type Refiner struct {
	client Client
}

// Compile-time check that Refiner implements QueryRefiner.
var _ QueryRefiner = (*Refiner)(nil)

// NewRefiner creates a query refiner backed by the given completion client.
func NewRefiner(client Client) *Refiner {
	return &Refiner{client: client}
}

// refineResponse is the expected JSON structure of a refinement completion.
type refineResponse struct {
	PubMedQuery  string `json:"pubmed_query"`
	Condition    string `json:"condition"`
	Intervention string `json:"intervention"`
	RefinedQuery string `json:"refined_query"`
	Reasoning    string `json:"reasoning,omitempty"`
}

// Refine expands the query into per-source search expressions.
func (r *Refiner) Refine(ctx context.Context, req RefineRequest) (*RefineResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("refine: query must not be empty")
	}

	systemPrompt, userPrompt := buildRefinePrompt(req)

	resp, err := r.client.Complete(ctx, Request{
		Messages: []Message{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: userPrompt},
		},
		JSONResponse: true,
		Operation:    "refine",
	})
	if err != nil {
		return nil, fmt.Errorf("query refinement via %s failed: %w", r.client.Provider(), err)
	}

	var parsed refineResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return nil, fmt.Errorf("refine: failed to parse model response as JSON: %w", err)
	}

	if parsed.PubMedQuery == "" {
		parsed.PubMedQuery = req.Query
	}

	result := &RefineResult{
		PubMedQuery:  parsed.PubMedQuery,
		Condition:    parsed.Condition,
		Intervention: parsed.Intervention,
		RefinedQuery: parsed.RefinedQuery,
		Reasoning:    parsed.Reasoning,
		Model:        resp.Model,
	}

	// User-typed fields are authoritative and survive refinement verbatim.
	if strings.TrimSpace(req.Condition) != "" {
		result.Condition = req.Condition
	}
	if strings.TrimSpace(req.Intervention) != "" {
		result.Intervention = req.Intervention
	}

	return result, nil
}

// patientResponse is the expected JSON structure of a patient-expansion
// completion.
type patientResponse struct {
	Queries []string `json:"queries"`
}

// PatientVariants expands a patient description into focused sub-queries.
// The result is never empty on success: a model response with no usable
// queries falls back to the original description.
func (r *Refiner) PatientVariants(ctx context.Context, description string) ([]string, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("patient variants: description must not be empty")
	}

	resp, err := r.client.Complete(ctx, Request{
		Messages: []Message{
			{Role: RoleSystem, Content: patientSystemPrompt},
			{Role: RoleUser, Content: "Patient description:\n---\n" + description + "\n---"},
		},
		JSONResponse: true,
		Operation:    "patient_variants",
	})
	if err != nil {
		return nil, fmt.Errorf("patient expansion via %s failed: %w", r.client.Provider(), err)
	}

	var parsed patientResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return nil, fmt.Errorf("patient variants: failed to parse model response as JSON: %w", err)
	}

	variants := make([]string, 0, maxPatientVariants)
	for _, q := range parsed.Queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		variants = append(variants, q)
		if len(variants) == maxPatientVariants {
			break
		}
	}

	if len(variants) == 0 {
		variants = append(variants, description)
	}

	return variants, nil
}

const patientSystemPrompt = `You are a clinical research search specialist. ` +
	`Given a free-text patient description, decompose it into up to 5 focused search queries, ` +
	`each isolating one clinically significant characteristic (diagnosis, comorbidity, ` +
	`biomarker, prior treatment, demographic constraint) so each query can be searched ` +
	`against PubMed and ClinicalTrials.gov independently.

You MUST respond with valid JSON in exactly this format:
{"queries": ["query 1", "query 2"]}

Guidelines:
1. Each query must stand alone as a search expression.
2. Use established clinical terminology, not the patient's informal wording.
3. Order queries by clinical relevance, most significant first.
4. Never produce more than 5 queries.`

// buildRefinePrompt builds the system and user prompts for query refinement.
func buildRefinePrompt(req RefineRequest) (systemPrompt, userPrompt string) {
	var sb strings.Builder

	sb.WriteString("You are a biomedical literature search specialist. Your task is to expand ")
	sb.WriteString("a user's search query into effective queries for two databases: PubMed ")
	sb.WriteString("(NCBI E-utilities boolean syntax with [tiab]/[MeSH Terms] field tags) and ")
	sb.WriteString("ClinicalTrials.gov (separate condition and intervention expressions).\n\n")

	sb.WriteString("You MUST respond with valid JSON in exactly this format:\n")
	sb.WriteString(`{"pubmed_query": "...", "condition": "...", "intervention": "...", "refined_query": "...", "reasoning": "..."}`)
	sb.WriteString("\n\n")

	sb.WriteString("Guidelines:\n")
	sb.WriteString("1. Expand abbreviations and include synonyms joined with OR.\n")
	sb.WriteString("2. Prefer MeSH terms where they exist.\n")
	sb.WriteString("3. Keep the condition and intervention expressions short; the registry matches them against indexed fields.\n")
	sb.WriteString("4. refined_query is a one-line human-readable restatement of the search.\n")

	var ub strings.Builder
	ub.WriteString("User query:\n---\n")
	ub.WriteString(req.Query)
	ub.WriteString("\n---\n")
	if req.Condition != "" {
		ub.WriteString(fmt.Sprintf("\nThe user explicitly typed this condition; echo it back unchanged: %s\n", req.Condition))
	}
	if req.Intervention != "" {
		ub.WriteString(fmt.Sprintf("\nThe user explicitly typed this intervention; echo it back unchanged: %s\n", req.Intervention))
	}

	return sb.String(), ub.String()
}
