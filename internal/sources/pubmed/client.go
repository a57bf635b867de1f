package pubmed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
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
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the rate limit without an API key (3 requests/second).
	// With an API key, the limit increases to 10 requests/second.
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per search.
	DefaultMaxResults = 100

	// MaxResultsLimit is the maximum results allowed per request by the API.
	MaxResultsLimit = 10000

	// sourceName is the human-readable name for this source.
	sourceName = "PubMed"
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the NCBI API key for higher rate limits.
	// Optional but recommended for production use.
	APIKey string

	// Timeout is the request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to DefaultRateLimit (3 req/sec) if zero.
	// With an API key, you can increase this to 10 req/sec.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	// Defaults to DefaultBurstSize if zero.
	BurstSize int

	// MaxResults is the default maximum results per search.
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

// Client implements the sources.ArticleSource interface for PubMed.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
}

// Compile-time check that Client implements ArticleSource.
var _ sources.ArticleSource = (*Client)(nil)

// New creates a new PubMed client with the given configuration.
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

// NewWithHTTPClient creates a new PubMed client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *sources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries PubMed for articles matching the given parameters.
// It performs a two-step search:
// 1. esearch.fcgi - retrieves PMIDs matching the query
// 2. efetch.fcgi - retrieves full article metadata for the PMIDs
func (c *Client) Search(ctx context.Context, params sources.ArticleSearchParams) (*sources.ArticleResult, error) {
	if !c.config.Enabled {
		return nil, errors.New("pubmed source is disabled")
	}

	startTime := time.Now()

	// Step 1: Search for PMIDs
	searchResult, err := c.esearch(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("esearch failed: %w", err)
	}

	// Check for errors in the response
	if searchResult.ErrorList != nil {
		if len(searchResult.ErrorList.PhraseNotFound) > 0 {
			// Return empty results for phrases not found (not an error)
			return &sources.ArticleResult{
				Articles:       []*domain.Article{},
				TotalResults:   0,
				HasMore:        false,
				NextOffset:     0,
				SearchDuration: time.Since(startTime),
			}, nil
		}
	}

	// If no results, return early
	if len(searchResult.IDList.IDs) == 0 {
		return &sources.ArticleResult{
			Articles:       []*domain.Article{},
			TotalResults:   searchResult.Count,
			HasMore:        searchResult.Count > params.Offset,
			NextOffset:     params.Offset,
			SearchDuration: time.Since(startTime),
		}, nil
	}

	// Step 2: Fetch full article metadata
	articleSet, err := c.efetch(ctx, searchResult.IDList.IDs)
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	articles := make([]*domain.Article, 0, len(articleSet.Articles))
	for _, a := range articleSet.Articles {
		articles = append(articles, articleFromXML(a))
	}

	nextOffset := params.Offset + len(articles)
	hasMore := nextOffset < searchResult.Count

	return &sources.ArticleResult{
		Articles:       articles,
		TotalResults:   searchResult.Count,
		HasMore:        hasMore,
		NextOffset:     nextOffset,
		SearchDuration: time.Since(startTime),
	}, nil
}

// GetByID retrieves a specific article by its PubMed ID (PMID).
func (c *Client) GetByID(ctx context.Context, id string) (*domain.Article, error) {
	if !c.config.Enabled {
		return nil, errors.New("pubmed source is disabled")
	}

	articleSet, err := c.efetch(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	if len(articleSet.Articles) == 0 {
		return nil, domain.NewNotFoundError("article", id)
	}

	return articleFromXML(articleSet.Articles[0]), nil
}

// FullTextHTML retrieves the full text of an open-access article from
// PubMed Central and renders it as a simple HTML fragment.
// The id may be given with or without the "PMC" prefix.
// Returns domain.ErrNotFound when the article has no full text in PMC.
func (c *Client) FullTextHTML(ctx context.Context, pmcid string) (string, error) {
	if !c.config.Enabled {
		return "", errors.New("pubmed source is disabled")
	}

	id := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(pmcid)), "PMC")
	if id == "" {
		return "", domain.NewValidationError("pmcid", "must not be empty")
	}

	u, err := url.Parse(c.config.BaseURL + "/efetch.fcgi")
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pmc")
	q.Set("id", id)
	q.Set("retmode", "xml")
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, "efetch_pmc", u.String())
	if err != nil {
		return "", err
	}

	var set PMCArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return "", fmt.Errorf("failed to parse PMC response: %w", err)
	}

	if len(set.Articles) == 0 || set.Articles[0].Body == nil {
		return "", domain.NewNotFoundError("pmc full text", pmcid)
	}

	return renderArticleHTML(set.Articles[0]), nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypePubMed
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// esearch performs a search query and returns matching PMIDs.
func (c *Client) esearch(ctx context.Context, params sources.ArticleSearchParams) (*ESearchResult, error) {
	u, err := url.Parse(c.config.BaseURL + "/esearch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("term", params.Query)
	q.Set("retmode", "xml")
	q.Set("usehistory", "n")

	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}
	q.Set("retmax", strconv.Itoa(maxResults))

	if params.Offset > 0 {
		q.Set("retstart", strconv.Itoa(params.Offset))
	}

	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}

	u.RawQuery = q.Encode()

	body, err := c.get(ctx, "esearch", u.String())
	if err != nil {
		return nil, err
	}

	var result ESearchResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse XML response: %w", err)
	}

	return &result, nil
}

// efetch retrieves full article metadata for the given PMIDs.
func (c *Client) efetch(ctx context.Context, pmids []string) (*PubmedArticleSet, error) {
	if len(pmids) == 0 {
		return &PubmedArticleSet{}, nil
	}

	u, err := url.Parse(c.config.BaseURL + "/efetch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "xml")
	q.Set("rettype", "abstract")

	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}

	u.RawQuery = q.Encode()

	body, err := c.get(ctx, "efetch", u.String())
	if err != nil {
		return nil, err
	}

	var result PubmedArticleSet
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse XML response: %w", err)
	}

	return &result, nil
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

// articleFromXML converts a PubmedArticle to a domain.Article.
func articleFromXML(article PubmedArticle) *domain.Article {
	citation := article.MedlineCitation
	pubmedData := article.PubmedData

	doi := extractDOI(citation.Article, pubmedData)

	var pmcid string
	for _, aid := range pubmedData.ArticleIdList.ArticleIds {
		if aid.IdType == "pmc" {
			pmcid = aid.Value
			break
		}
	}

	pubDate, pubYear := extractPublicationDate(citation.Article)

	journal := citation.Article.Journal.Title
	if journal == "" {
		journal = citation.Article.Journal.ISOAbbreviation
	}

	var meshTerms []string
	if citation.MeshHeadingList != nil {
		meshTerms = make([]string, 0, len(citation.MeshHeadingList.MeshHeadings))
		for _, mh := range citation.MeshHeadingList.MeshHeadings {
			meshTerms = append(meshTerms, mh.DescriptorName.Value)
		}
	}

	return &domain.Article{
		PMID:            citation.PMID.Value,
		PMCID:           pmcid,
		DOI:             doi,
		Title:           citation.Article.ArticleTitle,
		Abstract:        extractAbstract(citation.Article.Abstract),
		Authors:         extractAuthors(citation.Article.AuthorList),
		Journal:         journal,
		PublicationDate: pubDate,
		PublicationYear: pubYear,
		MeshTerms:       meshTerms,
		NCTNumbers:      extractNCTNumbers(citation.Article.DataBankList),
	}
}

// extractDOI extracts the DOI from article metadata.
// It checks ELocationID first (more reliable), then ArticleIdList.
func extractDOI(article Article, pubmedData PubmedData) string {
	for _, eloc := range article.ELocationID {
		if eloc.EIdType == "doi" && (eloc.Valid == "" || eloc.Valid == "Y") {
			return eloc.Value
		}
	}

	for _, aid := range pubmedData.ArticleIdList.ArticleIds {
		if aid.IdType == "doi" {
			return aid.Value
		}
	}

	return ""
}

// extractNCTNumbers collects ClinicalTrials.gov registry numbers from the
// article's databank accession list. Other databanks (GenBank, PDB, ...) are
// ignored.
func extractNCTNumbers(dbl *DataBankList) []string {
	if dbl == nil {
		return nil
	}

	var ncts []string
	for _, db := range dbl.DataBanks {
		if !strings.EqualFold(db.DataBankName, "ClinicalTrials.gov") {
			continue
		}
		for _, acc := range db.AccessionNumberList.AccessionNumbers {
			id := domain.NormalizeNCTID(acc)
			if strings.HasPrefix(id, "NCT") {
				ncts = append(ncts, id)
			}
		}
	}

	return ncts
}

// extractPublicationDate extracts the publication date from the article.
// Returns the parsed date and year. Uses ArticleDate if available, otherwise PubDate.
func extractPublicationDate(article Article) (*time.Time, int) {
	// Try ArticleDate first (more precise)
	for _, ad := range article.ArticleDate {
		if ad.DateType == "epublish" || ad.DateType == "Electronic" || ad.DateType == "" {
			if t := parseDate(ad.Year, ad.Month, ad.Day); t != nil {
				return t, t.Year()
			}
		}
	}

	// Fall back to PubDate from JournalIssue
	pubDate := article.Journal.JournalIssue.PubDate

	// Handle MedlineDate format (e.g., "2020 Jan-Feb")
	if pubDate.MedlineDate != "" {
		year := extractYearFromMedlineDate(pubDate.MedlineDate)
		if year > 0 {
			t := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
			return &t, year
		}
	}

	// Standard date format
	if pubDate.Year != "" {
		t := parseDate(pubDate.Year, pubDate.Month, pubDate.Day)
		if t != nil {
			return t, t.Year()
		}
		// If we have a year but couldn't parse a full date, return year only
		if year, err := strconv.Atoi(pubDate.Year); err == nil {
			t := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
			return &t, year
		}
	}

	return nil, 0
}

// parseDate parses year, month, day strings into a time.Time.
func parseDate(year, month, day string) *time.Time {
	if year == "" {
		return nil
	}

	y, err := strconv.Atoi(year)
	if err != nil {
		return nil
	}

	m := parseMonth(month)
	d := 1
	if day != "" {
		if parsed, err := strconv.Atoi(day); err == nil {
			d = parsed
		}
	}

	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

// monthNames maps lowercase month name strings (abbreviation and full) to time.Month.
// This is a package-level variable to avoid re-allocating on every call to parseMonth.
var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// parseMonth parses a month string (numeric or name) into time.Month.
func parseMonth(month string) time.Month {
	if month == "" {
		return time.January
	}

	// Try numeric
	if m, err := strconv.Atoi(month); err == nil && m >= 1 && m <= 12 {
		return time.Month(m)
	}

	if m, ok := monthNames[strings.ToLower(month)]; ok {
		return m
	}

	return time.January
}

// extractYearFromMedlineDate extracts the year from a MedlineDate string.
func extractYearFromMedlineDate(medlineDate string) int {
	// MedlineDate can be "2020 Jan-Feb", "2020 Spring", "2020-2021", etc.
	parts := strings.Fields(medlineDate)
	if len(parts) > 0 {
		yearStr := strings.Split(parts[0], "-")[0]
		if year, err := strconv.Atoi(yearStr); err == nil {
			return year
		}
	}
	return 0
}

// extractAbstract concatenates multiple abstract sections into a single string.
func extractAbstract(abstract *Abstract) string {
	if abstract == nil || len(abstract.AbstractTexts) == 0 {
		return ""
	}

	// If only one section without label, return it directly
	if len(abstract.AbstractTexts) == 1 && abstract.AbstractTexts[0].Label == "" {
		return strings.TrimSpace(abstract.AbstractTexts[0].Value)
	}

	// Concatenate multiple sections with labels
	var parts []string
	for _, at := range abstract.AbstractTexts {
		text := strings.TrimSpace(at.Value)
		if text == "" {
			continue
		}
		if at.Label != "" {
			parts = append(parts, at.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " ")
}

// extractAuthors converts PubMed authors to domain authors.
func extractAuthors(authorList *AuthorList) []domain.Author {
	if authorList == nil || len(authorList.Authors) == 0 {
		return nil
	}

	authors := make([]domain.Author, 0, len(authorList.Authors))
	for _, a := range authorList.Authors {
		// Skip invalid authors
		if a.ValidYN == "N" {
			continue
		}

		var name string
		if a.CollectiveName != "" {
			name = a.CollectiveName
		} else {
			nameParts := make([]string, 0, 2)
			if a.ForeName != "" {
				nameParts = append(nameParts, a.ForeName)
			}
			if a.LastName != "" {
				nameParts = append(nameParts, a.LastName)
			}
			name = strings.Join(nameParts, " ")
		}

		if name == "" {
			continue
		}

		var affiliation string
		if len(a.AffiliationInfo) > 0 {
			affiliation = a.AffiliationInfo[0].Affiliation
		}

		authors = append(authors, domain.Author{
			Name:        name,
			Affiliation: affiliation,
		})
	}

	return authors
}

// renderArticleHTML renders a JATS article body as a flat HTML fragment.
// Section titles become headings, paragraphs become <p> elements. Inline
// markup is dropped; text content is HTML-escaped.
func renderArticleHTML(article PMCArticle) string {
	var b strings.Builder

	if title := strings.TrimSpace(article.Front.ArticleMeta.TitleGroup.ArticleTitle); title != "" {
		b.WriteString("<h1>")
		b.WriteString(html.EscapeString(title))
		b.WriteString("</h1>\n")
	}

	for _, p := range article.Body.Paragraphs {
		writeParagraph(&b, p)
	}
	for _, sec := range article.Body.Sections {
		renderSectionHTML(&b, sec, 2)
	}

	return b.String()
}

// renderSectionHTML renders a JATS section at the given heading level.
// Nesting deeper than <h6> stays at <h6>.
func renderSectionHTML(b *strings.Builder, sec PMCSection, level int) {
	if level > 6 {
		level = 6
	}

	if title := strings.TrimSpace(sec.Title); title != "" {
		fmt.Fprintf(b, "<h%d>%s</h%d>\n", level, html.EscapeString(title), level)
	}

	for _, p := range sec.Paragraphs {
		writeParagraph(b, p)
	}

	for _, sub := range sec.Subsections {
		renderSectionHTML(b, sub, level+1)
	}
}

func writeParagraph(b *strings.Builder, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.WriteString("<p>")
	b.WriteString(html.EscapeString(text))
	b.WriteString("</p>\n")
}
