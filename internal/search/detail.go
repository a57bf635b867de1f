package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medscope/study-search-service/internal/domain"
	"github.com/medscope/study-search-service/internal/llm"
	"github.com/medscope/study-search-service/internal/observability"
	"github.com/medscope/study-search-service/internal/sources"
)

// FullTextSource serves rendered full-text HTML for open-access articles.
// Implemented by the PubMed client via PubMed Central.
type FullTextSource interface {
	FullTextHTML(ctx context.Context, pmcid string) (string, error)
}

// EligibilityRequest is one systematic-review eligibility check for a single
// study record.
type EligibilityRequest struct {
	// Source names the record's origin and selects how study text is
	// assembled.
	Source domain.SourceType

	// ID is the record identifier: PMID for literature, NCT number for
	// registry records.
	ID string

	// Criteria is the review's inclusion/exclusion criteria set.
	Criteria domain.CriteriaSet

	// Sections optionally carries already-fetched protocol sections for a
	// registry record, avoiding a second detail fetch.
	Sections *domain.StudySections
}

// DetailService serves per-record detail lookups and eligibility checks.
type DetailService struct {
	articles   sources.ArticleSource
	trials     sources.TrialSource
	fullText   FullTextSource
	classifier llm.CriteriaClassifier
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewDetailService creates the detail service. Any dependency may be nil; the
// corresponding operations report the record source as unavailable.
func NewDetailService(
	articles sources.ArticleSource,
	trials sources.TrialSource,
	fullText FullTextSource,
	classifier llm.CriteriaClassifier,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *DetailService {
	return &DetailService{
		articles:   articles,
		trials:     trials,
		fullText:   fullText,
		classifier: classifier,
		logger:     logger.With().Str("component", "detail").Logger(),
		metrics:    metrics,
	}
}

// StructuredInfo returns the structured protocol sections of one registry
// study.
func (s *DetailService) StructuredInfo(ctx context.Context, nctID string) (*domain.StudySections, error) {
	trial, err := s.TrialDetail(ctx, nctID)
	if err != nil {
		return nil, err
	}
	if trial.StructuredInfo == nil {
		return nil, domain.NewNotFoundError("study sections", nctID)
	}
	return trial.StructuredInfo, nil
}

// TrialDetail returns the full registry record for one study.
func (s *DetailService) TrialDetail(ctx context.Context, nctID string) (*domain.Trial, error) {
	if s.trials == nil || !s.trials.IsEnabled() {
		return nil, fmt.Errorf("%w: registry source disabled", domain.ErrServiceUnavailable)
	}
	if strings.TrimSpace(nctID) == "" {
		return nil, domain.NewValidationError("nct_id", "registry number is required")
	}
	return s.trials.GetByID(ctx, nctID)
}

// ArticleFullTextHTML returns the rendered full text of one open-access
// article.
func (s *DetailService) ArticleFullTextHTML(ctx context.Context, pmcid string) (string, error) {
	if s.fullText == nil {
		return "", fmt.Errorf("%w: full-text source disabled", domain.ErrServiceUnavailable)
	}
	return s.fullText.FullTextHTML(ctx, pmcid)
}

// CheckEligibility classifies the review criteria against one study record.
// A request with no identifier or no criteria is skipped outright and yields
// a deterministic empty result without touching any upstream.
func (s *DetailService) CheckEligibility(ctx context.Context, req EligibilityRequest) (*domain.EligibilityResult, error) {
	if strings.TrimSpace(req.ID) == "" || req.Criteria.IsEmpty() {
		return &domain.EligibilityResult{CheckedAt: time.Now().UTC()}, nil
	}
	if s.classifier == nil {
		return nil, fmt.Errorf("%w: eligibility checking disabled", domain.ErrServiceUnavailable)
	}

	start := time.Now()
	s.metrics.EligibilityChecks.WithLabelValues(string(req.Source)).Inc()

	var (
		text string
		err  error
	)
	switch req.Source {
	case domain.SourceTypePubMed:
		text, err = s.articleText(ctx, req.ID)
	case domain.SourceTypeCTG:
		text, err = s.trialText(ctx, req.ID, req.Sections)
	default:
		return nil, domain.NewValidationError("source", fmt.Sprintf("unknown source %q", req.Source))
	}
	if err != nil {
		return nil, err
	}

	result, err := s.classifier.ClassifyCriteria(ctx, req.Criteria, text)
	if err != nil {
		return nil, err
	}
	s.metrics.EligibilityCheckDuration.Observe(time.Since(start).Seconds())
	return result, nil
}

// articleText fetches the article and assembles the abstract-based study text.
func (s *DetailService) articleText(ctx context.Context, pmid string) (string, error) {
	if s.articles == nil || !s.articles.IsEnabled() {
		return "", fmt.Errorf("%w: literature source disabled", domain.ErrServiceUnavailable)
	}
	article, err := s.articles.GetByID(ctx, pmid)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if article.Title != "" {
		sb.WriteString("Title: " + article.Title + "\n")
	}
	if article.Journal != "" {
		sb.WriteString("Journal: " + article.Journal + "\n")
	}
	if article.Abstract != "" {
		sb.WriteString("Abstract: " + article.Abstract)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", domain.NewNotFoundError("article text", pmid)
	}
	return text, nil
}

// trialText flattens the protocol sections, fetching them first when the
// caller did not supply a cached copy.
func (s *DetailService) trialText(ctx context.Context, nctID string, sections *domain.StudySections) (string, error) {
	if sections == nil {
		var err error
		sections, err = s.StructuredInfo(ctx, nctID)
		if err != nil {
			return "", err
		}
	}
	text := sections.FlattenText()
	if text == "" {
		return "", domain.NewNotFoundError("study sections", nctID)
	}
	return text, nil
}
