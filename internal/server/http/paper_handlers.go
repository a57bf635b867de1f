package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/medscope/study-search-service/internal/domain"
	"github.com/medscope/study-search-service/internal/search"
)

// checkEligibilityRequest is the JSON request body for a systematic-review
// eligibility check of one study record.
type checkEligibilityRequest struct {
	Source string `json:"source" validate:"required,oneof=PM CTG"`
	ID     string `json:"id"`

	Criteria struct {
		Inclusion []string `json:"inclusion,omitempty"`
		Exclusion []string `json:"exclusion,omitempty"`
	} `json:"criteria"`

	// StructuredInfo carries already-fetched protocol sections for a registry
	// record, sparing a second detail fetch.
	StructuredInfo *domain.StudySections `json:"structured_info,omitempty"`
}

// handleStructuredInfo handles GET /api/paper/structured_info.
func (s *Server) handleStructuredInfo(w http.ResponseWriter, r *http.Request) {
	nctID := strings.TrimSpace(r.URL.Query().Get("nct_id"))
	if nctID == "" {
		writeError(w, http.StatusBadRequest, "nct_id is required")
		return
	}

	sections, err := s.detail.StructuredInfo(r.Context(), nctID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sections)
}

// handleCTGDetail handles GET /api/paper/ctg_detail.
func (s *Server) handleCTGDetail(w http.ResponseWriter, r *http.Request) {
	nctID := strings.TrimSpace(r.URL.Query().Get("nct_id"))
	if nctID == "" {
		writeError(w, http.StatusBadRequest, "nct_id is required")
		return
	}

	trial, err := s.detail.TrialDetail(r.Context(), nctID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainTrialToResponse(trial))
}

// handlePMCFullText handles GET /api/paper/pmc_full_text_html.
func (s *Server) handlePMCFullText(w http.ResponseWriter, r *http.Request) {
	pmcid := strings.TrimSpace(r.URL.Query().Get("pmcid"))
	if pmcid == "" {
		writeError(w, http.StatusBadRequest, "pmcid is required")
		return
	}

	html, err := s.detail.ArticleFullTextHTML(r.Context(), pmcid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fullTextResponse{PMCID: pmcid, HTML: html})
}

// handleCheckEligibility handles POST /api/paper/check_systematic_review.
// An upstream fetch failure for the study text is reported inline in a 200
// body so the caller can render it next to sibling records.
func (s *Server) handleCheckEligibility(w http.ResponseWriter, r *http.Request) {
	var req checkEligibilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.detail.CheckEligibility(r.Context(), search.EligibilityRequest{
		Source: domain.SourceType(req.Source),
		ID:     strings.TrimSpace(req.ID),
		Criteria: domain.CriteriaSet{
			Inclusion: req.Criteria.Inclusion,
			Exclusion: req.Criteria.Exclusion,
		},
		Sections: req.StructuredInfo,
	})
	if err != nil {
		var apiErr *domain.ExternalAPIError
		if errors.As(err, &apiErr) {
			writeJSON(w, http.StatusOK, eligibilityResponse{
				Source: req.Source,
				ID:     req.ID,
				Error:  "failed to load study details",
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainEligibilityToResponse(req.Source, req.ID, res))
}
