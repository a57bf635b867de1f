package domain

import "strings"

// StudySections holds the structured protocol sections of one registry study.
// It is the source-neutral form of ClinicalTrials.gov's protocol modules,
// populated by a detail lookup.
type StudySections struct {
	NCTID         string `json:"nct_id"`
	BriefTitle    string `json:"brief_title,omitempty"`
	OfficialTitle string `json:"official_title,omitempty"`

	BriefSummary        string `json:"brief_summary,omitempty"`
	DetailedDescription string `json:"detailed_description,omitempty"`

	Conditions    []string            `json:"conditions,omitempty"`
	Interventions []StudyIntervention `json:"interventions,omitempty"`
	Outcomes      []StudyOutcome      `json:"outcomes,omitempty"`

	Eligibility StudyEligibility `json:"eligibility"`
}

// StudyIntervention describes one protocol intervention arm entry.
type StudyIntervention struct {
	Type        string `json:"type,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StudyOutcome describes one primary or secondary outcome measure.
type StudyOutcome struct {
	Measure     string `json:"measure"`
	Description string `json:"description,omitempty"`
	TimeFrame   string `json:"time_frame,omitempty"`
	Primary     bool   `json:"primary"`
}

// StudyEligibility holds the protocol eligibility module.
type StudyEligibility struct {
	Criteria          string `json:"criteria,omitempty"`
	Sex               string `json:"sex,omitempty"`
	MinimumAge        string `json:"minimum_age,omitempty"`
	MaximumAge        string `json:"maximum_age,omitempty"`
	HealthyVolunteers bool   `json:"healthy_volunteers"`
}

// FlattenText flattens the sections relevant to eligibility screening into a
// plain-text blob: titles, summaries, conditions, interventions, outcomes and
// the eligibility module. Section labels keep the blob interpretable by a
// language model without the JSON structure.
func (s *StudySections) FlattenText() string {
	if s == nil {
		return ""
	}
	var sb strings.Builder

	writeSection := func(label, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(text))
		sb.WriteString("\n")
	}

	title := s.OfficialTitle
	if title == "" {
		title = s.BriefTitle
	}
	writeSection("Title", title)
	writeSection("Brief Summary", s.BriefSummary)
	writeSection("Detailed Description", s.DetailedDescription)
	writeSection("Conditions", strings.Join(s.Conditions, "; "))

	if len(s.Interventions) > 0 {
		parts := make([]string, 0, len(s.Interventions))
		for _, iv := range s.Interventions {
			p := iv.Name
			if iv.Type != "" {
				p = iv.Type + ": " + p
			}
			if iv.Description != "" {
				p += " - " + iv.Description
			}
			parts = append(parts, p)
		}
		writeSection("Interventions", strings.Join(parts, "; "))
	}

	if len(s.Outcomes) > 0 {
		parts := make([]string, 0, len(s.Outcomes))
		for _, o := range s.Outcomes {
			p := o.Measure
			if o.TimeFrame != "" {
				p += " [" + o.TimeFrame + "]"
			}
			parts = append(parts, p)
		}
		writeSection("Outcome Measures", strings.Join(parts, "; "))
	}

	writeSection("Eligibility Criteria", s.Eligibility.Criteria)
	writeSection("Sex", s.Eligibility.Sex)
	if s.Eligibility.MinimumAge != "" || s.Eligibility.MaximumAge != "" {
		writeSection("Age Range", strings.TrimSpace(s.Eligibility.MinimumAge+" to "+s.Eligibility.MaximumAge))
	}

	return strings.TrimRight(sb.String(), "\n")
}
