package domain

import (
	"net/url"
	"strings"
)

// SexFilter values accepted by the demographic facet.
const (
	SexAll    = "all"
	SexFemale = "female"
	SexMale   = "male"
)

// SearchFilters holds the field-level constraints of one search. The zero
// value is not meaningful; use DefaultFilters.
type SearchFilters struct {
	// Condition is the disease/condition search field.
	Condition string `json:"condition,omitempty"`

	// Intervention is the treatment/intervention search field.
	Intervention string `json:"intervention,omitempty"`

	// OtherTerms holds free additional search terms.
	OtherTerms string `json:"other_terms,omitempty"`

	// PubMedQuery, when set, is sent to PubMed verbatim instead of a
	// generated term expression.
	PubMedQuery string `json:"pubmed_query,omitempty"`

	// CTGQuery, when set, is sent to ClinicalTrials.gov verbatim.
	CTGQuery string `json:"ctg_query,omitempty"`

	// Sex restricts trials by participant sex (all, female, male).
	Sex string `json:"sex,omitempty"`

	// AgeGroup restricts trials by age bracket (child, adult, older).
	AgeGroup string `json:"age_group,omitempty"`

	// SponsorClass restricts trials by lead sponsor class (NIH, INDUSTRY,
	// OTHER...).
	SponsorClass string `json:"sponsor_class,omitempty"`

	// Phases restricts trials by study phase.
	Phases []string `json:"phases,omitempty"`

	// Statuses restricts trials by overall recruitment status.
	Statuses []string `json:"statuses,omitempty"`

	// Sources selects which upstream sources to query.
	Sources []SourceType `json:"sources"`
}

// DefaultFilters returns the filter set used for a brand-new free-text query.
func DefaultFilters() SearchFilters {
	return SearchFilters{
		Sex:     SexAll,
		Sources: DefaultSources(),
	}
}

// Clone returns a deep copy of the filters.
func (f SearchFilters) Clone() SearchFilters {
	c := f
	c.Phases = append([]string(nil), f.Phases...)
	c.Statuses = append([]string(nil), f.Statuses...)
	c.Sources = append([]SourceType(nil), f.Sources...)
	return c
}

// MergeExplicit overlays the explicitly provided fields of other onto a
// default filter set. User-typed condition and intervention text always win
// over values already present in f, protecting them from being overwritten by
// model-suggested refinements.
func (f SearchFilters) MergeExplicit(other SearchFilters) SearchFilters {
	out := f.Clone()
	if other.Condition != "" {
		out.Condition = other.Condition
	}
	if other.Intervention != "" {
		out.Intervention = other.Intervention
	}
	if other.OtherTerms != "" {
		out.OtherTerms = other.OtherTerms
	}
	if other.PubMedQuery != "" {
		out.PubMedQuery = other.PubMedQuery
	}
	if other.CTGQuery != "" {
		out.CTGQuery = other.CTGQuery
	}
	if other.Sex != "" {
		out.Sex = other.Sex
	}
	if other.AgeGroup != "" {
		out.AgeGroup = other.AgeGroup
	}
	if other.SponsorClass != "" {
		out.SponsorClass = other.SponsorClass
	}
	if len(other.Phases) > 0 {
		out.Phases = append([]string(nil), other.Phases...)
	}
	if len(other.Statuses) > 0 {
		out.Statuses = append([]string(nil), other.Statuses...)
	}
	if len(other.Sources) > 0 {
		out.Sources = append([]SourceType(nil), other.Sources...)
	}
	return out
}

// MateriallyDiffers reports whether the two filter sets differ in any field
// that invalidates cached result pages. Pagination bookkeeping (page, refined
// query, CTG continuation tokens) lives outside SearchFilters, so every field
// here is material.
func (f SearchFilters) MateriallyDiffers(other SearchFilters) bool {
	if f.Condition != other.Condition ||
		f.Intervention != other.Intervention ||
		f.OtherTerms != other.OtherTerms ||
		f.PubMedQuery != other.PubMedQuery ||
		f.CTGQuery != other.CTGQuery ||
		f.Sex != other.Sex ||
		f.AgeGroup != other.AgeGroup ||
		f.SponsorClass != other.SponsorClass {
		return true
	}
	if !equalStrings(f.Phases, other.Phases) || !equalStrings(f.Statuses, other.Statuses) {
		return true
	}
	if len(f.Sources) != len(other.Sources) {
		return true
	}
	for i := range f.Sources {
		if f.Sources[i] != other.Sources[i] {
			return true
		}
	}
	return false
}

// Values projects the shareable-link subset of the filters (cond, intr,
// sources) onto URL query parameters. The projection is derived state; it is
// never read back into a live session except at bootstrap.
func (f SearchFilters) Values() url.Values {
	v := url.Values{}
	if f.Condition != "" {
		v.Set("cond", f.Condition)
	}
	if f.Intervention != "" {
		v.Set("intr", f.Intervention)
	}
	if len(f.Sources) > 0 {
		codes := make([]string, len(f.Sources))
		for i, s := range f.Sources {
			codes[i] = string(s)
		}
		v.Set("sources", strings.Join(codes, ","))
	}
	return v
}

// FiltersFromValues bootstraps a filter set from URL query parameters,
// ignoring anything outside the whitelisted subset. Unknown source codes are
// dropped; an empty or fully invalid list falls back to the defaults.
func FiltersFromValues(v url.Values) SearchFilters {
	f := DefaultFilters()
	if cond := strings.TrimSpace(v.Get("cond")); cond != "" {
		f.Condition = cond
	}
	if intr := strings.TrimSpace(v.Get("intr")); intr != "" {
		f.Intervention = intr
	}
	if raw := v.Get("sources"); raw != "" {
		var sources []SourceType
		for _, code := range strings.Split(raw, ",") {
			st := SourceType(strings.ToUpper(strings.TrimSpace(code)))
			if IsValidSourceType(st) {
				sources = append(sources, st)
			}
		}
		if len(sources) > 0 {
			f.Sources = sources
		}
	}
	return f
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
