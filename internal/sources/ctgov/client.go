package ctgov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/medscope/study-search-service/internal/domain"
	"github.com/medscope/study-search-service/internal/observability"
	"github.com/medscope/study-search-service/internal/sources"
)

const (
	// DefaultBaseURL is the base URL for the ClinicalTrials.gov v2 API.
	DefaultBaseURL = "https://clinicaltrials.gov/api/v2"

	// DefaultRateLimit is a conservative request rate for the public API.
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default page size per search.
	DefaultMaxResults = 100

	// MaxResultsLimit is the maximum page size allowed by the API.
	MaxResultsLimit = 1000

	// sourceName is the human-readable name for this source.
	sourceName = "ClinicalTrials.gov"
)

// Config holds the configuration for the ClinicalTrials.gov client.
type Config struct {
	// BaseURL is the API base URL. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Timeout is the request timeout. Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to DefaultRateLimit if zero.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	// Defaults to DefaultBurstSize if zero.
	BurstSize int

	// MaxResults is the default page size per search.
	// Defaults to DefaultMaxResults if zero.
	MaxResults int

	// Enabled indicates whether this source is enabled.
	// When false, all operations return errors.
	Enabled bool

	// Metrics records upstream request counters and latency. Optional.
	Metrics *observability.Metrics
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client implements the sources.TrialSource interface for ClinicalTrials.gov.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
}

// Compile-time check that Client implements TrialSource.
var _ sources.TrialSource = (*Client)(nil)

// New creates a new ClinicalTrials.gov client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpCfg := sources.HTTPClientConfig{
		Source:    sourceName,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		UserAgent: "MedScope-StudySearchService/1.0 (mailto:support@medscope.io)",
	}

	return &Client{
		config:     cfg,
		httpClient: sources.NewHTTPClient(httpCfg),
	}
}

// NewWithHTTPClient creates a new client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *sources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries the registry for trials matching the given parameters.
// Pagination is token-based: pass the NextPageToken of a previous result to
// continue, an empty token for the first page.
func (c *Client) Search(ctx context.Context, params sources.TrialSearchParams) (*sources.TrialResult, error) {
	if !c.config.Enabled {
		return nil, errors.New("ctgov source is disabled")
	}

	startTime := time.Now()

	u, err := url.Parse(c.config.BaseURL + "/studies")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("format", "json")
	q.Set("countTotal", "true")

	if params.Condition != "" {
		q.Set("query.cond", params.Condition)
	}
	if params.Intervention != "" {
		q.Set("query.intr", params.Intervention)
	}
	if params.Terms != "" {
		q.Set("query.term", params.Terms)
	}
	if len(params.Statuses) > 0 {
		q.Set("filter.overallStatus", strings.Join(params.Statuses, "|"))
	}
	if agg := buildAggFilters(params); agg != "" {
		q.Set("aggFilters", agg)
	}

	pageSize := params.MaxResults
	if pageSize <= 0 {
		pageSize = c.config.MaxResults
	}
	if pageSize > MaxResultsLimit {
		pageSize = MaxResultsLimit
	}
	q.Set("pageSize", strconv.Itoa(pageSize))

	if params.PageToken != "" {
		q.Set("pageToken", params.PageToken)
	}

	u.RawQuery = q.Encode()

	body, err := c.get(ctx, "studies", u.String())
	if err != nil {
		return nil, fmt.Errorf("studies search failed: %w", err)
	}

	var resp StudiesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse studies response: %w", err)
	}

	trials := make([]*domain.Trial, 0, len(resp.Studies))
	for _, study := range resp.Studies {
		trials = append(trials, trialFromStudy(study, false))
	}

	return &sources.TrialResult{
		Trials:         trials,
		TotalResults:   resp.TotalCount,
		NextPageToken:  resp.NextPageToken,
		SearchDuration: time.Since(startTime),
	}, nil
}

// GetByID retrieves a single study by registry number, including the full
// protocol sections (StructuredInfo is always populated on success).
func (c *Client) GetByID(ctx context.Context, id string) (*domain.Trial, error) {
	if !c.config.Enabled {
		return nil, errors.New("ctgov source is disabled")
	}

	nctID := domain.NormalizeNCTID(id)
	if nctID == "" {
		return nil, domain.NewValidationError("nct_id", "must not be empty")
	}

	u, err := url.Parse(c.config.BaseURL + "/studies/" + url.PathEscape(nctID))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, "study_detail", u.String())
	if err != nil {
		var apiErr *domain.ExternalAPIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, domain.NewNotFoundError("study", nctID)
		}
		return nil, fmt.Errorf("study lookup failed: %w", err)
	}

	var study Study
	if err := json.Unmarshal(body, &study); err != nil {
		return nil, fmt.Errorf("failed to parse study response: %w", err)
	}

	if study.ProtocolSection.Identification.NCTID == "" {
		return nil, domain.NewNotFoundError("study", nctID)
	}

	return trialFromStudy(study, true), nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeCTG
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// get executes a GET request against the named endpoint and returns the
// response body. Non-200 status codes are wrapped as ExternalAPIError.
func (c *Client) get(ctx context.Context, endpoint, rawURL string) (body []byte, err error) {
	if m := c.config.Metrics; m != nil {
		m.SourceRequestsTotal.WithLabelValues(sourceName, endpoint).Inc()
		start := time.Now()
		defer func() {
			m.SourceRequestDuration.WithLabelValues(sourceName, endpoint).Observe(time.Since(start).Seconds())
			if err != nil {
				m.SourceRequestsFailed.WithLabelValues(sourceName, endpoint, sources.ErrorType(err)).Inc()
			}
		}()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	return body, nil
}

// buildAggFilters assembles the aggFilters expression from the demographic
// filter params. The API expects comma-separated "key:value value" pairs,
// e.g. "phase:2 3,sex:f,ages:child".
func buildAggFilters(params sources.TrialSearchParams) string {
	var filters []string

	if len(params.Phases) > 0 {
		values := make([]string, 0, len(params.Phases))
		for _, p := range params.Phases {
			if v := phaseFilterValue(p); v != "" {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			filters = append(filters, "phase:"+strings.Join(values, " "))
		}
	}

	switch strings.ToUpper(params.Sex) {
	case "FEMALE":
		filters = append(filters, "sex:f")
	case "MALE":
		filters = append(filters, "sex:m")
	}

	if ag := strings.ToLower(strings.TrimSpace(params.AgeGroup)); ag != "" {
		filters = append(filters, "ages:"+ag)
	}

	if sc := strings.ToLower(strings.TrimSpace(params.SponsorClass)); sc != "" {
		filters = append(filters, "funderType:"+sc)
	}

	return strings.Join(filters, ",")
}

// phaseFilterValue maps a phase name to the aggFilters phase value
// ("PHASE2" -> "2", "EARLY_PHASE1" -> "0", "NA" -> "").
func phaseFilterValue(phase string) string {
	p := strings.ToUpper(strings.TrimSpace(phase))
	switch p {
	case "EARLY_PHASE1":
		return "0"
	case "PHASE1":
		return "1"
	case "PHASE2":
		return "2"
	case "PHASE3":
		return "3"
	case "PHASE4":
		return "4"
	case "0", "1", "2", "3", "4":
		return p
	default:
		return ""
	}
}

// trialFromStudy converts a registry study record to a domain.Trial.
// When includeSections is true the full protocol sections are attached as
// StructuredInfo.
func trialFromStudy(study Study, includeSections bool) *domain.Trial {
	ps := study.ProtocolSection

	trial := &domain.Trial{
		NCTID:         domain.NormalizeNCTID(ps.Identification.NCTID),
		BriefTitle:    ps.Identification.BriefTitle,
		OfficialTitle: ps.Identification.OfficialTitle,
		OverallStatus: ps.Status.OverallStatus,
		StartDate:     parsePartialDate(ps.Status.StartDateStruct),
	}

	if ps.Design != nil {
		trial.Phases = ps.Design.Phases
		trial.StudyType = ps.Design.StudyType
		if ps.Design.EnrollmentInfo != nil {
			trial.EnrollmentCount = ps.Design.EnrollmentInfo.Count
		}
	}

	if ps.Conditions != nil {
		trial.Conditions = ps.Conditions.Conditions
	}

	if ps.Arms != nil {
		trial.Interventions = make([]string, 0, len(ps.Arms.Interventions))
		for _, iv := range ps.Arms.Interventions {
			if iv.Name != "" {
				trial.Interventions = append(trial.Interventions, iv.Name)
			}
		}
	}

	if ps.Sponsor != nil && ps.Sponsor.LeadSponsor != nil {
		trial.Sponsor = ps.Sponsor.LeadSponsor.Name
		trial.SponsorClass = ps.Sponsor.LeadSponsor.Class
	}

	if ps.Description != nil {
		trial.BriefSummary = ps.Description.BriefSummary
	}

	if ps.References != nil {
		for _, ref := range ps.References.References {
			if ref.PMID != "" {
				trial.ReferencedPMIDs = append(trial.ReferencedPMIDs, ref.PMID)
			}
		}
	}

	if includeSections {
		trial.StructuredInfo = sectionsFromStudy(study)
	}

	return trial
}

// sectionsFromStudy extracts the full protocol sections of a study.
func sectionsFromStudy(study Study) *domain.StudySections {
	ps := study.ProtocolSection

	sections := &domain.StudySections{
		NCTID:         domain.NormalizeNCTID(ps.Identification.NCTID),
		BriefTitle:    ps.Identification.BriefTitle,
		OfficialTitle: ps.Identification.OfficialTitle,
	}

	if ps.Description != nil {
		sections.BriefSummary = ps.Description.BriefSummary
		sections.DetailedDescription = ps.Description.DetailedDescription
	}

	if ps.Conditions != nil {
		sections.Conditions = ps.Conditions.Conditions
	}

	if ps.Arms != nil {
		sections.Interventions = make([]domain.StudyIntervention, 0, len(ps.Arms.Interventions))
		for _, iv := range ps.Arms.Interventions {
			sections.Interventions = append(sections.Interventions, domain.StudyIntervention{
				Type:        iv.Type,
				Name:        iv.Name,
				Description: iv.Description,
			})
		}
	}

	if ps.Outcomes != nil {
		for _, o := range ps.Outcomes.PrimaryOutcomes {
			sections.Outcomes = append(sections.Outcomes, domain.StudyOutcome{
				Measure:     o.Measure,
				Description: o.Description,
				TimeFrame:   o.TimeFrame,
				Primary:     true,
			})
		}
		for _, o := range ps.Outcomes.SecondaryOutcomes {
			sections.Outcomes = append(sections.Outcomes, domain.StudyOutcome{
				Measure:     o.Measure,
				Description: o.Description,
				TimeFrame:   o.TimeFrame,
				Primary:     false,
			})
		}
	}

	if ps.Eligibility != nil {
		sections.Eligibility = domain.StudyEligibility{
			Criteria:          ps.Eligibility.EligibilityCriteria,
			Sex:               ps.Eligibility.Sex,
			MinimumAge:        ps.Eligibility.MinimumAge,
			MaximumAge:        ps.Eligibility.MaximumAge,
			HealthyVolunteers: ps.Eligibility.HealthyVolunteers,
		}
	}

	return sections
}

// parsePartialDate parses the registry's partial date formats
// ("2022", "2022-03", "2022-03-15").
func parsePartialDate(ds *DateStruct) *time.Time {
	if ds == nil || ds.Date == "" {
		return nil
	}

	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, ds.Date); err == nil {
			return &t
		}
	}

	return nil
}
