// Package ctgov provides a client for the ClinicalTrials.gov API (v2).
//
// ClinicalTrials.gov is the US registry of clinical studies. This package
// implements the sources.TrialSource interface over the modernized v2 REST
// API, which paginates with opaque page tokens rather than offsets.
//
// API documentation: https://clinicaltrials.gov/data-api/api
package ctgov

// StudiesResponse is the response envelope of GET /studies.
type StudiesResponse struct {
	TotalCount    int     `json:"totalCount"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
	Studies       []Study `json:"studies"`
}

// Study wraps a single registry study record.
type Study struct {
	ProtocolSection ProtocolSection `json:"protocolSection"`
}

// ProtocolSection holds the registered protocol modules of a study.
type ProtocolSection struct {
	Identification IdentificationModule        `json:"identificationModule"`
	Status         StatusModule                `json:"statusModule"`
	Sponsor        *SponsorCollaboratorsModule `json:"sponsorCollaboratorsModule,omitempty"`
	Description    *DescriptionModule          `json:"descriptionModule,omitempty"`
	Conditions     *ConditionsModule           `json:"conditionsModule,omitempty"`
	Design         *DesignModule               `json:"designModule,omitempty"`
	Arms           *ArmsInterventionsModule    `json:"armsInterventionsModule,omitempty"`
	Outcomes       *OutcomesModule             `json:"outcomesModule,omitempty"`
	Eligibility    *EligibilityModule          `json:"eligibilityModule,omitempty"`
	References     *ReferencesModule           `json:"referencesModule,omitempty"`
}

// IdentificationModule holds the registry number and titles.
type IdentificationModule struct {
	NCTID         string `json:"nctId"`
	BriefTitle    string `json:"briefTitle,omitempty"`
	OfficialTitle string `json:"officialTitle,omitempty"`
}

// StatusModule holds the recruitment status and dates.
type StatusModule struct {
	OverallStatus   string      `json:"overallStatus,omitempty"`
	StartDateStruct *DateStruct `json:"startDateStruct,omitempty"`
}

// DateStruct is a partial date ("2022", "2022-03", or "2022-03-15").
type DateStruct struct {
	Date string `json:"date,omitempty"`
	Type string `json:"type,omitempty"`
}

// SponsorCollaboratorsModule holds the lead sponsor.
type SponsorCollaboratorsModule struct {
	LeadSponsor *Sponsor `json:"leadSponsor,omitempty"`
}

// Sponsor identifies a sponsoring organization and its funder class.
type Sponsor struct {
	Name  string `json:"name,omitempty"`
	Class string `json:"class,omitempty"`
}

// DescriptionModule holds the study summaries.
type DescriptionModule struct {
	BriefSummary        string `json:"briefSummary,omitempty"`
	DetailedDescription string `json:"detailedDescription,omitempty"`
}

// ConditionsModule lists the studied conditions.
type ConditionsModule struct {
	Conditions []string `json:"conditions,omitempty"`
}

// DesignModule holds study type, phases, and enrollment.
type DesignModule struct {
	StudyType      string          `json:"studyType,omitempty"`
	Phases         []string        `json:"phases,omitempty"`
	EnrollmentInfo *EnrollmentInfo `json:"enrollmentInfo,omitempty"`
}

// EnrollmentInfo holds the planned or actual enrollment count.
type EnrollmentInfo struct {
	Count int    `json:"count,omitempty"`
	Type  string `json:"type,omitempty"`
}

// ArmsInterventionsModule lists the study interventions.
type ArmsInterventionsModule struct {
	Interventions []Intervention `json:"interventions,omitempty"`
}

// Intervention describes a single intervention arm entry.
type Intervention struct {
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// OutcomesModule lists the outcome measures.
type OutcomesModule struct {
	PrimaryOutcomes   []Outcome `json:"primaryOutcomes,omitempty"`
	SecondaryOutcomes []Outcome `json:"secondaryOutcomes,omitempty"`
}

// Outcome describes a single outcome measure.
type Outcome struct {
	Measure     string `json:"measure,omitempty"`
	Description string `json:"description,omitempty"`
	TimeFrame   string `json:"timeFrame,omitempty"`
}

// EligibilityModule holds the free-text criteria and demographic bounds.
type EligibilityModule struct {
	EligibilityCriteria string   `json:"eligibilityCriteria,omitempty"`
	Sex                 string   `json:"sex,omitempty"`
	MinimumAge          string   `json:"minimumAge,omitempty"`
	MaximumAge          string   `json:"maximumAge,omitempty"`
	HealthyVolunteers   bool     `json:"healthyVolunteers,omitempty"`
	StdAges             []string `json:"stdAges,omitempty"`
}

// ReferencesModule lists publications linked to the study.
type ReferencesModule struct {
	References []Reference `json:"references,omitempty"`
}

// Reference is a single linked publication, optionally with its PMID.
type Reference struct {
	PMID     string `json:"pmid,omitempty"`
	Type     string `json:"type,omitempty"`
	Citation string `json:"citation,omitempty"`
}
