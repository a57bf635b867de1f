// Package session stores per-search session snapshots. A snapshot is the
// single source of truth for one search key: the active filters, the current
// page, the page cache, and the patient-mode state all live here, and every
// other view of that state is derived from it.
package session

import (
	"time"

	"github.com/medscope/study-search-service/internal/domain"
)

// PageSlot is one cached page of merged results together with the query
// bookkeeping that produced it.
type PageSlot struct {
	Items        []domain.SearchResultItem `json:"items"`
	Counts       domain.ResultCounts       `json:"counts"`
	RefinedQuery string                    `json:"refined_query,omitempty"`

	// CTGTokens is the ClinicalTrials.gov continuation-token history up to
	// and including this page. Token i continues from page i+1.
	CTGTokens []string `json:"ctg_tokens,omitempty"`
}

// PatientVariant is one model-expanded patient sub-query and its results.
type PatientVariant struct {
	Query        string                    `json:"query"`
	Items        []domain.SearchResultItem `json:"items"`
	TotalResults int                       `json:"total_results"`
}

// Snapshot is the full state of one search session.
type Snapshot struct {
	SearchKey string `json:"search_key"`
	Query     string `json:"query"`

	// Filters is the active filter set for the session.
	Filters domain.SearchFilters `json:"filters"`

	// PostFilters holds the refinement filter set applied on top of an
	// existing result set. Nil when no post-filters are active.
	PostFilters *domain.SearchFilters `json:"post_filters,omitempty"`

	// Page is the 1-based current page.
	Page int `json:"page"`

	TotalResults int `json:"total_results"`
	TotalPages   int `json:"total_pages"`

	// Pages caches fetched result pages by page number.
	Pages map[int]PageSlot `json:"pages,omitempty"`

	// CTGTokenHistory maps page n to the token that fetches page n+1.
	CTGTokenHistory []string `json:"ctg_token_history,omitempty"`

	// AppliedQueries records the literal upstream queries of the last
	// search, for display and audit only.
	AppliedQueries domain.AppliedQueries `json:"applied_queries,omitempty"`

	// PatientVariants holds per-variant results when the session is in
	// patient-criteria mode. Empty otherwise.
	PatientVariants []PatientVariant `json:"patient_variants,omitempty"`

	// PatientPage is the 1-based page within the patient-mode result set.
	PatientPage int `json:"patient_page,omitempty"`

	// Seq is the monotonic sequence of the last search issued for this
	// session. Responses tagged with an older sequence are discarded.
	Seq uint64 `json:"seq"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSnapshot creates a fresh snapshot for a new search.
func NewSnapshot(key, query string, filters domain.SearchFilters) *Snapshot {
	now := time.Now().UTC()
	return &Snapshot{
		SearchKey: key,
		Query:     query,
		Filters:   filters,
		Page:      1,
		Pages:     make(map[int]PageSlot),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasAppliedFilters reports whether a post-filter set is active.
func (s *Snapshot) HasAppliedFilters() bool {
	return s.PostFilters != nil
}

// PatientMode reports whether the session holds patient-variant results.
func (s *Snapshot) PatientMode() bool {
	return len(s.PatientVariants) > 0
}

// CachedPage returns the cached slot for the given page.
func (s *Snapshot) CachedPage(page int) (PageSlot, bool) {
	slot, ok := s.Pages[page]
	return slot, ok
}

// CachePage stores a fetched page and records its token history.
func (s *Snapshot) CachePage(page int, slot PageSlot) {
	if s.Pages == nil {
		s.Pages = make(map[int]PageSlot)
	}
	s.Pages[page] = slot
	s.UpdatedAt = time.Now().UTC()
}

// PushCTGToken appends a continuation token after fetching a page.
func (s *Snapshot) PushCTGToken(token string) {
	s.CTGTokenHistory = append(s.CTGTokenHistory, token)
}

// CTGTokenForPage returns the token that fetches the given page, if the
// session has paged that far. Page 1 never needs a token.
func (s *Snapshot) CTGTokenForPage(page int) (string, bool) {
	if page <= 1 {
		return "", true
	}
	idx := page - 2
	if idx >= len(s.CTGTokenHistory) {
		return "", false
	}
	return s.CTGTokenHistory[idx], true
}

// ApplyFilters installs a post-filter set, invalidating everything the edit
// makes stale: the page cache, the token history, and the page position.
func (s *Snapshot) ApplyFilters(filters domain.SearchFilters) {
	f := filters.Clone()
	s.PostFilters = &f
	s.resetPaging()
}

// ReplaceFilters swaps the active filter set. A materially different set
// drops the page cache and resets the page to 1; a cosmetic change keeps
// both.
func (s *Snapshot) ReplaceFilters(filters domain.SearchFilters) {
	if s.Filters.MateriallyDiffers(filters) {
		s.resetPaging()
	}
	s.Filters = filters.Clone()
	s.UpdatedAt = time.Now().UTC()
}

func (s *Snapshot) resetPaging() {
	s.Page = 1
	s.Pages = make(map[int]PageSlot)
	s.CTGTokenHistory = nil
	s.UpdatedAt = time.Now().UTC()
}
