package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/medscope/study-search-service/internal/domain"
	"github.com/medscope/study-search-service/internal/observability"
	"github.com/medscope/study-search-service/internal/search"
)

// Validation constants.
const (
	maxQueryLength     = 10000
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
	maxHistoryLimit    = 100
)

var validate = validator.New()

// searchRequest is the JSON request body for a new search.
type searchRequest struct {
	UserQuery    string   `json:"user_query"`
	Condition    string   `json:"condition,omitempty"`
	Intervention string   `json:"intervention,omitempty"`
	OtherTerms   string   `json:"other_terms,omitempty"`
	PubMedQuery  string   `json:"pubmed_query,omitempty"`
	CTGQuery     string   `json:"ctg_query,omitempty"`
	Sex          string   `json:"sex,omitempty" validate:"omitempty,oneof=all female male"`
	AgeGroup     string   `json:"age_group,omitempty" validate:"omitempty,oneof=child adult older"`
	SponsorClass string   `json:"sponsor_class,omitempty"`
	Phases       []string `json:"phases,omitempty"`
	Statuses     []string `json:"statuses,omitempty"`
	Sources      []string `json:"sources,omitempty" validate:"omitempty,dive,oneof=PM CTG"`

	// PreviousKey names the session a forced new search replaces.
	PreviousKey string `json:"previous_key,omitempty"`
}

func (r *searchRequest) filters() domain.SearchFilters {
	sources := make([]domain.SourceType, len(r.Sources))
	for i, src := range r.Sources {
		sources[i] = domain.SourceType(src)
	}
	return domain.SearchFilters{
		Condition:    strings.TrimSpace(r.Condition),
		Intervention: strings.TrimSpace(r.Intervention),
		OtherTerms:   strings.TrimSpace(r.OtherTerms),
		PubMedQuery:  strings.TrimSpace(r.PubMedQuery),
		CTGQuery:     strings.TrimSpace(r.CTGQuery),
		Sex:          r.Sex,
		AgeGroup:     r.AgeGroup,
		SponsorClass: r.SponsorClass,
		Phases:       r.Phases,
		Statuses:     r.Statuses,
		Sources:      sources,
	}
}

func (r *searchRequest) hasSearchInput() bool {
	for _, s := range []string{r.UserQuery, r.Condition, r.Intervention, r.OtherTerms, r.PubMedQuery, r.CTGQuery} {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

// filterRequest is the JSON request body for post-filtering an existing search.
type filterRequest struct {
	SearchKey string `json:"search_key" validate:"required"`
	searchRequest
}

// pagingRequest is the JSON request body for page navigation.
type pagingRequest struct {
	SearchKey string `json:"search_key" validate:"required"`
	Page      int    `json:"page" validate:"required,min=1"`
}

// patientSearchRequest is the JSON request body for a patient-criteria search.
type patientSearchRequest struct {
	Description string `json:"patient_description" validate:"required"`
}

// handleSearch handles POST /api/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.hasSearchInput() {
		writeError(w, http.StatusBadRequest, "at least one search field is required")
		return
	}
	if len(req.UserQuery) > maxQueryLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("user_query must be at most %d characters", maxQueryLength))
		return
	}

	res, err := s.search.Search(r.Context(), search.Request{
		Query:       req.UserQuery,
		Filters:     req.filters(),
		PreviousKey: req.PreviousKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResultToResponse(res))
}

// handleFilter handles POST /api/search/filter.
func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.search.ApplyFilters(r.Context(), req.SearchKey, req.filters())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResultToResponse(res))
}

// handlePaging handles POST /api/search/paging and POST /api/search/patient/paging.
// The controller resolves patient-mode sessions from the snapshot, so both
// paths share one handler.
func (s *Server) handlePaging(w http.ResponseWriter, r *http.Request) {
	var req pagingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.search.GoToPage(r.Context(), req.SearchKey, req.Page)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResultToResponse(res))
}

// handlePatientSearch handles POST /api/search/patient.
func (s *Server) handlePatientSearch(w http.ResponseWriter, r *http.Request) {
	var req patientSearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Description) > maxQueryLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("patient_description must be at most %d characters", maxQueryLength))
		return
	}

	res, err := s.search.PatientSearch(r.Context(), search.PatientRequest{
		Description: req.Description,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResultToResponse(res))
}

// handleListHistory handles GET /api/history.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "search history is not enabled")
		return
	}
	userID := observability.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	entries, err := s.history.List(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainHistoryToResponse(entries))
}

// handleClearHistory handles DELETE /api/history.
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "search history is not enabled")
		return
	}
	userID := observability.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := s.history.Clear(r.Context(), userID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// decodeJSON reads, unmarshals, and validates a JSON request body. On failure
// it writes a 400 response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage renders the first field failure of a validator error
// without echoing the offending value back to the client.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
