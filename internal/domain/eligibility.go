package domain

import (
	"strings"
	"time"
)

// CriterionStatus classifies one eligibility criterion against a study.
type CriterionStatus string

const (
	CriterionMet     CriterionStatus = "met"
	CriterionNotMet  CriterionStatus = "not_met"
	CriterionUnclear CriterionStatus = "unclear"
)

// IsValidCriterionStatus reports whether s is a known classification.
func IsValidCriterionStatus(s CriterionStatus) bool {
	switch s {
	case CriterionMet, CriterionNotMet, CriterionUnclear:
		return true
	default:
		return false
	}
}

// CriteriaSet is the user-entered inclusion and exclusion criteria of one
// systematic review.
type CriteriaSet struct {
	Inclusion []string `json:"inclusion,omitempty"`
	Exclusion []string `json:"exclusion,omitempty"`
}

// IsEmpty reports whether the set contains no non-blank criteria.
func (c CriteriaSet) IsEmpty() bool {
	for _, s := range c.Inclusion {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	for _, s := range c.Exclusion {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

// CriterionResult is the classification of one criterion against one study.
type CriterionResult struct {
	Criterion  string          `json:"criterion"`
	Status     CriterionStatus `json:"status"`
	IsTrue     bool            `json:"is_true"`
	Confidence float64         `json:"confidence"`
	Evidence   string          `json:"evidence,omitempty"`
	Reasoning  string          `json:"reasoning,omitempty"`
}

// EligibilityResult is a full eligibility check for one (study, criteria-set)
// pair. Results are not cached across studies.
type EligibilityResult struct {
	Inclusion []CriterionResult `json:"inclusion,omitempty"`
	Exclusion []CriterionResult `json:"exclusion,omitempty"`
	Model     string            `json:"model,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
}
