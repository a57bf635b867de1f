// Package sources provides interfaces and shared plumbing for the upstream
// study database clients.
//
// Two kinds of upstream exist: literature sources returning articles
// (PubMed via the NCBI E-utilities) and registry sources returning clinical
// trials (ClinicalTrials.gov). Both share the rate-limited HTTP client in
// this package, but their result shapes differ enough that they get separate
// interfaces: literature paginates by offset, the registry paginates by
// opaque page token.
package sources

import (
	"context"
	"time"

	"github.com/medscope/study-search-service/internal/domain"
)

// ArticleSearchParams defines the parameters for a literature search.
type ArticleSearchParams struct {
	// Query is the search query string (required). PubMed field tags and
	// boolean operators are passed through verbatim.
	Query string

	// MaxResults limits the number of articles returned in a single request.
	// A value of 0 uses the source's default limit.
	MaxResults int

	// Offset specifies the starting position for paginated results.
	Offset int
}

// ArticleResult contains the results of a literature search.
type ArticleResult struct {
	// Articles contains the articles returned by the search.
	// May be empty if no articles match the query.
	Articles []*domain.Article

	// TotalResults is the total number of articles matching the query,
	// regardless of pagination limits.
	TotalResults int

	// HasMore indicates whether additional results are available
	// beyond the current page.
	HasMore bool

	// NextOffset is the offset value to use for fetching the next page.
	// Only meaningful when HasMore is true.
	NextOffset int

	// SearchDuration is the time taken to execute the search,
	// including network latency and response parsing.
	SearchDuration time.Duration
}

// TrialSearchParams defines the parameters for a registry search.
type TrialSearchParams struct {
	// Condition is the condition/disease query expression.
	Condition string

	// Intervention is the intervention/treatment query expression.
	Intervention string

	// Terms is a free-text query applied across all study fields.
	Terms string

	// Statuses restricts results to the given overall statuses
	// (e.g. RECRUITING, COMPLETED). Empty means no restriction.
	Statuses []string

	// Phases restricts results to the given study phases. Empty means no
	// restriction.
	Phases []string

	// Sex restricts results by eligible sex (ALL, FEMALE, MALE).
	Sex string

	// AgeGroup restricts results by standardized age group
	// (child, adult, older). Empty means no restriction.
	AgeGroup string

	// SponsorClass restricts results by lead sponsor class
	// (INDUSTRY, NIH, OTHER). Empty means no restriction.
	SponsorClass string

	// MaxResults limits the number of trials returned in a single request.
	// A value of 0 uses the source's default limit.
	MaxResults int

	// PageToken is the opaque continuation token from a previous result.
	// Empty requests the first page.
	PageToken string
}

// TrialResult contains the results of a registry search.
type TrialResult struct {
	// Trials contains the trials returned by the search.
	Trials []*domain.Trial

	// TotalResults is the total number of trials matching the query.
	TotalResults int

	// NextPageToken is the continuation token for the next page.
	// Empty when no further pages exist.
	NextPageToken string

	// SearchDuration is the time taken to execute the search.
	SearchDuration time.Duration
}

// Source describes the identity of an upstream source client.
// Used for attribution, logging, and metrics.
type Source interface {
	// SourceType returns the type identifier for this source.
	SourceType() domain.SourceType

	// Name returns a human-readable name for this source.
	Name() string

	// IsEnabled returns whether this source is currently enabled and
	// available for searches. A source may be disabled by configuration.
	IsEnabled() bool
}

// ArticleSource is implemented by literature database clients.
//
// Implementations should:
//   - Respect context cancellation
//   - Apply rate limiting as needed
//   - Transform source-specific responses to domain.Article
//   - Include appropriate error wrapping with source context
type ArticleSource interface {
	Source

	// Search queries the source for articles matching the given parameters.
	Search(ctx context.Context, params ArticleSearchParams) (*ArticleResult, error)

	// GetByID retrieves a specific article by its source identifier (PMID).
	// Returns domain.ErrNotFound if the article does not exist.
	GetByID(ctx context.Context, id string) (*domain.Article, error)
}

// TrialSource is implemented by clinical trial registry clients.
type TrialSource interface {
	Source

	// Search queries the registry for trials matching the given parameters.
	Search(ctx context.Context, params TrialSearchParams) (*TrialResult, error)

	// GetByID retrieves a specific trial by its registry number (NCT ID),
	// including the full protocol sections.
	// Returns domain.ErrNotFound if the trial does not exist.
	GetByID(ctx context.Context, id string) (*domain.Trial, error)
}
