// Package domain provides domain models and business logic for the Study Search Service.
package domain

import (
	"strings"
	"time"
)

// SourceType identifies an upstream study source.
type SourceType string

const (
	// SourceTypePubMed is the PubMed / PubMed Central literature source.
	SourceTypePubMed SourceType = "PM"

	// SourceTypeCTG is the ClinicalTrials.gov registry source.
	SourceTypeCTG SourceType = "CTG"
)

// IsValidSourceType reports whether the given source type is supported.
func IsValidSourceType(s SourceType) bool {
	switch s {
	case SourceTypePubMed, SourceTypeCTG:
		return true
	default:
		return false
	}
}

// DefaultSources returns the source selection used when a query does not name
// sources explicitly.
func DefaultSources() []SourceType {
	return []SourceType{SourceTypePubMed, SourceTypeCTG}
}

// Author represents an article author with an optional affiliation.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

// Article is a PubMed-shaped literature record.
type Article struct {
	PMID            string     `json:"pmid"`
	PMCID           string     `json:"pmcid,omitempty"`
	DOI             string     `json:"doi,omitempty"`
	Title           string     `json:"title"`
	Abstract        string     `json:"abstract,omitempty"`
	Authors         []Author   `json:"authors,omitempty"`
	Journal         string     `json:"journal,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	PublicationYear int        `json:"publication_year,omitempty"`
	MeshTerms       []string   `json:"mesh_terms,omitempty"`

	// NCTNumbers holds clinical trial registry numbers referenced by the
	// article (databank accession numbers). Used for cross-source merging.
	NCTNumbers []string `json:"nct_numbers,omitempty"`
}

// HasIdentifier reports whether the article carries at least one usable identifier.
func (a *Article) HasIdentifier() bool {
	return a != nil && (a.PMID != "" || a.PMCID != "" || a.DOI != "")
}

// Trial is a ClinicalTrials.gov-shaped registry record.
type Trial struct {
	NCTID           string     `json:"nct_id"`
	BriefTitle      string     `json:"brief_title"`
	OfficialTitle   string     `json:"official_title,omitempty"`
	OverallStatus   string     `json:"overall_status,omitempty"`
	Phases          []string   `json:"phases,omitempty"`
	StudyType       string     `json:"study_type,omitempty"`
	Conditions      []string   `json:"conditions,omitempty"`
	Interventions   []string   `json:"interventions,omitempty"`
	Sponsor         string     `json:"sponsor,omitempty"`
	SponsorClass    string     `json:"sponsor_class,omitempty"`
	EnrollmentCount int        `json:"enrollment_count,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	BriefSummary    string     `json:"brief_summary,omitempty"`

	// ReferencedPMIDs holds PubMed IDs listed in the trial's references
	// section. Used for cross-source merging.
	ReferencedPMIDs []string `json:"referenced_pmids,omitempty"`

	// StructuredInfo holds the full protocol sections when they have been
	// fetched. Nil until a detail lookup has been performed.
	StructuredInfo *StudySections `json:"structured_info,omitempty"`
}

// HasIdentifier reports whether the trial carries a registry identifier.
func (t *Trial) HasIdentifier() bool {
	return t != nil && t.NCTID != ""
}

// NormalizeNCTID upper-cases and trims a registry number so cross-source
// matching is not defeated by formatting differences ("nct01234567 " vs
// "NCT01234567").
func NormalizeNCTID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// AppliedQueries holds the literal query strings sent to each upstream source
// for a completed search. Read-only, used for display and audit.
type AppliedQueries struct {
	PubMed string `json:"pubmed,omitempty"`
	CTG    string `json:"ctg,omitempty"`
}
