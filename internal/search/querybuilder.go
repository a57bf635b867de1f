package search

import (
	"fmt"
	"strings"

	"github.com/medscope/study-search-service/internal/domain"
	"github.com/medscope/study-search-service/internal/sources"
)

// buildPubMedQuery composes the PubMed term expression for one search. A
// verbatim PubMedQuery (user-supplied or model-refined) wins over field
// composition; with no usable fields the raw free-text query is sent as-is.
func buildPubMedQuery(query string, f domain.SearchFilters) string {
	if f.PubMedQuery != "" {
		return f.PubMedQuery
	}
	var parts []string
	if f.Condition != "" {
		parts = append(parts, fmt.Sprintf("(%q)", f.Condition))
	}
	if f.Intervention != "" {
		parts = append(parts, fmt.Sprintf("(%q)", f.Intervention))
	}
	if f.OtherTerms != "" {
		parts = append(parts, fmt.Sprintf("(%s)", f.OtherTerms))
	}
	if len(parts) == 0 {
		return strings.TrimSpace(query)
	}
	return strings.Join(parts, " AND ")
}

// buildTrialParams maps the filter set onto ClinicalTrials.gov search
// parameters. Free text falls through to query.term when no structured
// fields are present.
func buildTrialParams(query string, f domain.SearchFilters, pageSize int, pageToken string) sources.TrialSearchParams {
	terms := f.CTGQuery
	if terms == "" {
		terms = f.OtherTerms
	}
	if terms == "" && f.Condition == "" && f.Intervention == "" {
		terms = strings.TrimSpace(query)
	}
	return sources.TrialSearchParams{
		Condition:    f.Condition,
		Intervention: f.Intervention,
		Terms:        terms,
		Statuses:     append([]string(nil), f.Statuses...),
		Phases:       append([]string(nil), f.Phases...),
		Sex:          ctgSex(f.Sex),
		AgeGroup:     f.AgeGroup,
		SponsorClass: strings.ToUpper(f.SponsorClass),
		MaxResults:   pageSize,
		PageToken:    pageToken,
	}
}

// ctgSex translates the demographic facet to the registry's enum. "all" means
// no restriction and is omitted from the upstream query.
func ctgSex(sex string) string {
	switch strings.ToLower(strings.TrimSpace(sex)) {
	case domain.SexFemale:
		return "FEMALE"
	case domain.SexMale:
		return "MALE"
	default:
		return ""
	}
}

// wantsSource reports whether the filter set selects the given source.
func wantsSource(f domain.SearchFilters, st domain.SourceType) bool {
	for _, s := range f.Sources {
		if s == st {
			return true
		}
	}
	return false
}
