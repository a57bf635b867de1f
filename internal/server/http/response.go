package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/medscope/study-search-service/internal/domain"
	"github.com/medscope/study-search-service/internal/history"
	"github.com/medscope/study-search-service/internal/search"
)

// Search response types for JSON serialization.

type searchResponse struct {
	SearchKey string               `json:"search_key"`
	Query     string               `json:"query,omitempty"`
	Filters   domain.SearchFilters `json:"filters"`

	Results      []resultItemResponse `json:"results"`
	Counts       countsResponse       `json:"counts"`
	Page         int                  `json:"page"`
	PageSize     int                  `json:"page_size"`
	TotalPages   int                  `json:"total_pages"`
	RefinedQuery string               `json:"refined_query,omitempty"`

	AppliedQueries    *appliedQueriesResponse `json:"applied_queries,omitempty"`
	HasAppliedFilters bool                    `json:"has_applied_filters"`

	PatientMode    bool     `json:"patient_mode,omitempty"`
	PatientQueries []string `json:"patient_queries,omitempty"`

	Degraded []string `json:"degraded_sources,omitempty"`
}

type countsResponse struct {
	PubMed int `json:"pubmed"`
	CTG    int `json:"ctg"`
	Merged int `json:"merged"`
	Total  int `json:"total"`
}

type appliedQueriesResponse struct {
	PubMed string `json:"pubmed,omitempty"`
	CTG    string `json:"ctg,omitempty"`
}

type resultItemResponse struct {
	Kind    string           `json:"kind"`
	Focus   string           `json:"focus,omitempty"`
	Display displayResponse  `json:"display"`
	Article *articleResponse `json:"article,omitempty"`
	Trial   *trialResponse   `json:"trial,omitempty"`
}

type displayResponse struct {
	Source    string `json:"source"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet,omitempty"`
	Secondary string `json:"secondary_id,omitempty"`
	Merged    bool   `json:"merged"`
}

type articleResponse struct {
	PMID            string           `json:"pmid"`
	PMCID           string           `json:"pmcid,omitempty"`
	DOI             string           `json:"doi,omitempty"`
	Title           string           `json:"title"`
	Abstract        string           `json:"abstract,omitempty"`
	Authors         []authorResponse `json:"authors,omitempty"`
	Journal         string           `json:"journal,omitempty"`
	PublicationYear int              `json:"publication_year,omitempty"`
	NCTNumbers      []string         `json:"nct_numbers,omitempty"`
}

type authorResponse struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

type trialResponse struct {
	NCTID           string                `json:"nct_id"`
	BriefTitle      string                `json:"brief_title"`
	OfficialTitle   string                `json:"official_title,omitempty"`
	OverallStatus   string                `json:"overall_status,omitempty"`
	Phases          []string              `json:"phases,omitempty"`
	StudyType       string                `json:"study_type,omitempty"`
	Conditions      []string              `json:"conditions,omitempty"`
	Interventions   []string              `json:"interventions,omitempty"`
	Sponsor         string                `json:"sponsor,omitempty"`
	SponsorClass    string                `json:"sponsor_class,omitempty"`
	EnrollmentCount int                   `json:"enrollment_count,omitempty"`
	BriefSummary    string                `json:"brief_summary,omitempty"`
	StructuredInfo  *domain.StudySections `json:"structured_info,omitempty"`
}

type fullTextResponse struct {
	PMCID string `json:"pmcid"`
	HTML  string `json:"html"`
}

type eligibilityResponse struct {
	Source    string              `json:"source"`
	ID        string              `json:"id"`
	Inclusion []criterionResponse `json:"inclusion"`
	Exclusion []criterionResponse `json:"exclusion"`
	Model     string              `json:"model,omitempty"`
	CheckedAt time.Time           `json:"checked_at"`
	Error     string              `json:"error,omitempty"`
}

type criterionResponse struct {
	Criterion  string  `json:"criterion"`
	Status     string  `json:"status"`
	IsTrue     bool    `json:"is_true"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

type insightsResponse struct {
	Insights json.RawMessage `json:"insights"`
	Model    string          `json:"model,omitempty"`
}

type chatResponse struct {
	Answer string `json:"answer"`
}

type historyEntryResponse struct {
	ID        string               `json:"id"`
	Query     string               `json:"query"`
	Filters   domain.SearchFilters `json:"filters"`
	CreatedAt time.Time            `json:"created_at"`
}

type listHistoryResponse struct {
	Entries []historyEntryResponse `json:"entries"`
}

// Converter functions

func searchResultToResponse(res *search.Result) searchResponse {
	items := make([]resultItemResponse, len(res.Page.Items))
	for i := range res.Page.Items {
		items[i] = resultItemToResponse(&res.Page.Items[i])
	}
	resp := searchResponse{
		SearchKey:         res.SearchKey,
		Query:             res.Query,
		Filters:           res.Filters,
		Results:           items,
		Counts:            countsResponse(res.Page.Counts),
		Page:              res.Page.Page,
		PageSize:          res.Page.PageSize,
		TotalPages:        res.Page.TotalPages,
		RefinedQuery:      res.Page.RefinedQuery,
		HasAppliedFilters: res.HasAppliedFilters,
		PatientMode:       res.PatientMode,
		PatientQueries:    res.PatientQueries,
		Degraded:          res.Degraded,
	}
	if res.AppliedQueries.PubMed != "" || res.AppliedQueries.CTG != "" {
		resp.AppliedQueries = &appliedQueriesResponse{
			PubMed: res.AppliedQueries.PubMed,
			CTG:    res.AppliedQueries.CTG,
		}
	}
	return resp
}

func resultItemToResponse(item *domain.SearchResultItem) resultItemResponse {
	d := item.Flatten()
	resp := resultItemResponse{
		Kind:  string(item.Kind),
		Focus: string(item.Focus),
		Display: displayResponse{
			Source:    string(d.Source),
			ID:        d.ID,
			Title:     d.Title,
			Snippet:   d.Snippet,
			Secondary: d.Secondary,
			Merged:    d.Merged,
		},
	}
	if item.Article != nil {
		resp.Article = domainArticleToResponse(item.Article)
	}
	if item.Trial != nil {
		resp.Trial = domainTrialToResponse(item.Trial)
	}
	return resp
}

func domainArticleToResponse(a *domain.Article) *articleResponse {
	authors := make([]authorResponse, len(a.Authors))
	for i, au := range a.Authors {
		authors[i] = authorResponse{Name: au.Name, Affiliation: au.Affiliation}
	}
	return &articleResponse{
		PMID:            a.PMID,
		PMCID:           a.PMCID,
		DOI:             a.DOI,
		Title:           a.Title,
		Abstract:        a.Abstract,
		Authors:         authors,
		Journal:         a.Journal,
		PublicationYear: a.PublicationYear,
		NCTNumbers:      a.NCTNumbers,
	}
}

func domainTrialToResponse(t *domain.Trial) *trialResponse {
	return &trialResponse{
		NCTID:           t.NCTID,
		BriefTitle:      t.BriefTitle,
		OfficialTitle:   t.OfficialTitle,
		OverallStatus:   t.OverallStatus,
		Phases:          t.Phases,
		StudyType:       t.StudyType,
		Conditions:      t.Conditions,
		Interventions:   t.Interventions,
		Sponsor:         t.Sponsor,
		SponsorClass:    t.SponsorClass,
		EnrollmentCount: t.EnrollmentCount,
		BriefSummary:    t.BriefSummary,
		StructuredInfo:  t.StructuredInfo,
	}
}

func domainEligibilityToResponse(source, id string, res *domain.EligibilityResult) eligibilityResponse {
	return eligibilityResponse{
		Source:    source,
		ID:        id,
		Inclusion: criteriaToResponse(res.Inclusion),
		Exclusion: criteriaToResponse(res.Exclusion),
		Model:     res.Model,
		CheckedAt: res.CheckedAt,
	}
}

func criteriaToResponse(results []domain.CriterionResult) []criterionResponse {
	out := make([]criterionResponse, len(results))
	for i, r := range results {
		out[i] = criterionResponse{
			Criterion:  r.Criterion,
			Status:     string(r.Status),
			IsTrue:     r.IsTrue,
			Confidence: r.Confidence,
			Evidence:   r.Evidence,
			Reasoning:  r.Reasoning,
		}
	}
	return out
}

func domainHistoryToResponse(entries []*history.Entry) listHistoryResponse {
	out := make([]historyEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = historyEntryResponse{
			ID:        e.ID.String(),
			Query:     e.Query,
			Filters:   e.Filters,
			CreatedAt: e.CreatedAt,
		}
	}
	return listHistoryResponse{Entries: out}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// writeDomainError maps domain errors to HTTP status codes and writes a JSON
// error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrNotFound):
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, nf.Error())
		} else {
			writeError(w, http.StatusNotFound, "resource not found")
		}
	case errors.Is(err, domain.ErrSessionExpired):
		writeError(w, http.StatusGone, "search session expired")
	case errors.Is(err, domain.ErrStaleResponse):
		writeError(w, http.StatusConflict, "superseded by a newer request")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited by upstream source")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusBadGateway, "upstream source unavailable")
	default:
		var apiErr *domain.ExternalAPIError
		if errors.As(err, &apiErr) {
			writeError(w, http.StatusBadGateway, "upstream source error")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
