// Package search implements the search controller: the state machine that
// drives new searches, post-filter refinement, pagination, and patient-mode
// expansion over the upstream study sources.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medscope/study-search-service/internal/domain"
	"github.com/medscope/study-search-service/internal/llm"
	"github.com/medscope/study-search-service/internal/merge"
	"github.com/medscope/study-search-service/internal/observability"
	"github.com/medscope/study-search-service/internal/session"
	"github.com/medscope/study-search-service/internal/sources"
)

// Search modes used for metrics labels.
const (
	modeNew     = "new"
	modeFilter  = "filter"
	modePage    = "page"
	modePatient = "patient"
)

// HistoryRecorder appends one entry to a user's search history. Recording is
// best-effort; failures are logged and never fail the search.
type HistoryRecorder interface {
	Add(ctx context.Context, userID, query string, filters domain.SearchFilters) error
}

// Config holds controller tunables.
type Config struct {
	// PageSize is the per-source page size.
	PageSize int

	// MaxPatientVariants caps model-expanded patient sub-queries.
	MaxPatientVariants int

	// RefineQueries enables model-backed query expansion on new searches.
	RefineQueries bool
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	if c.MaxPatientVariants <= 0 {
		c.MaxPatientVariants = 5
	}
}

// Request is one new-search submission.
type Request struct {
	// Query is the raw free-text user query.
	Query string

	// Filters carries the explicitly set search fields. Zero-valued fields
	// fall back to defaults.
	Filters domain.SearchFilters

	// PreviousKey, when set, names the session a forced new search replaces.
	// The old entry is deleted before the new one is written.
	PreviousKey string
}

// PatientRequest is one patient-criteria search submission.
type PatientRequest struct {
	// Description is the free-text patient description.
	Description string
}

// Result is the controller's response envelope for every search operation.
type Result struct {
	SearchKey string               `json:"search_key"`
	Query     string               `json:"query,omitempty"`
	Filters   domain.SearchFilters `json:"filters"`
	Page      domain.ResultPage    `json:"page"`

	AppliedQueries    domain.AppliedQueries `json:"applied_queries,omitempty"`
	HasAppliedFilters bool                  `json:"has_applied_filters"`

	PatientMode    bool     `json:"patient_mode,omitempty"`
	PatientQueries []string `json:"patient_queries,omitempty"`

	// Degraded lists sources that failed or were skipped on this request,
	// such as ClinicalTrials.gov pages past the known token frontier.
	// Results from the surviving sources are still returned.
	Degraded []string `json:"degraded,omitempty"`
}

// Service is the search controller. All session state lives in the snapshot
// store; the service itself only holds the in-flight sequence table used to
// discard superseded responses.
type Service struct {
	cfg      Config
	articles sources.ArticleSource
	trials   sources.TrialSource
	refiner  llm.QueryRefiner
	store    session.Store
	history  HistoryRecorder
	logger   zerolog.Logger
	metrics  *observability.Metrics

	newKey func() string
	seq    *sequencer
}

// NewService creates the search controller. The article source, trial source,
// refiner, and history recorder may each be nil; the corresponding behavior
// is skipped.
func NewService(
	cfg Config,
	articles sources.ArticleSource,
	trials sources.TrialSource,
	refiner llm.QueryRefiner,
	store session.Store,
	history HistoryRecorder,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:      cfg,
		articles: articles,
		trials:   trials,
		refiner:  refiner,
		store:    store,
		history:  history,
		logger:   logger.With().Str("component", "search").Logger(),
		metrics:  metrics,
		newKey:   func() string { return uuid.NewString() },
		seq:      newSequencer(),
	}
}

// Search runs a brand-new search: fresh key, page 1, default filters merged
// with the explicitly provided fields, optional model refinement, fan-out to
// the selected sources, and a fresh session snapshot.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	s.metrics.SearchesStarted.WithLabelValues(modeNew).Inc()

	if req.PreviousKey != "" {
		if err := s.store.Delete(ctx, req.PreviousKey); err != nil {
			s.logger.Warn().Err(err).Str("search_key", req.PreviousKey).Msg("failed to delete superseded session")
		}
		s.seq.drop(req.PreviousKey)
	}

	query := strings.TrimSpace(req.Query)
	filters := domain.DefaultFilters().MergeExplicit(req.Filters)

	refinedQuery := ""
	if s.refiner != nil && s.cfg.RefineQueries && query != "" {
		refined, err := s.refiner.Refine(ctx, llm.RefineRequest{
			Query:        query,
			Condition:    req.Filters.Condition,
			Intervention: req.Filters.Intervention,
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("query refinement failed, searching with raw query")
		} else {
			refinedQuery = refined.RefinedQuery
			filters = filters.MergeExplicit(domain.SearchFilters{
				Condition:    refined.Condition,
				Intervention: refined.Intervention,
				PubMedQuery:  refined.PubMedQuery,
			})
		}
	}

	key := s.newKey()
	tag := s.seq.next(key)

	out, err := s.fetch(ctx, query, filters, 1, "", false)
	if err != nil {
		s.metrics.SearchesFailed.WithLabelValues(modeNew).Inc()
		return nil, err
	}
	if !s.seq.isCurrent(key, tag) {
		s.metrics.StaleResponsesDiscarded.Inc()
		return nil, domain.ErrStaleResponse
	}

	snap := session.NewSnapshot(key, query, filters)
	snap.Seq = tag
	out.slot.RefinedQuery = refinedQuery
	s.commitPage(snap, 1, out)
	snap.AppliedQueries = out.applied

	if err := s.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	s.metrics.SessionsWritten.Inc()
	s.recordHistory(ctx, query, filters)

	s.metrics.SearchDuration.WithLabelValues(modeNew).Observe(time.Since(start).Seconds())
	s.metrics.ResultsPerSearch.WithLabelValues(modeNew).Observe(float64(len(out.slot.Items)))
	return s.result(snap, out.slot, out.degraded), nil
}

// ApplyFilters re-queries an existing session with a post-filter set. An
// unknown or expired key degrades to a plain new search with the given
// filters.
func (s *Service) ApplyFilters(ctx context.Context, key string, filters domain.SearchFilters) (*Result, error) {
	snap, err := s.store.Get(ctx, key)
	if errors.Is(err, domain.ErrSessionExpired) {
		s.metrics.SessionsExpired.Inc()
		s.seq.drop(key)
		return s.Search(ctx, Request{Filters: filters})
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	s.metrics.SearchesStarted.WithLabelValues(modeFilter).Inc()

	effective := snap.Filters.MergeExplicit(filters)
	snap.ApplyFilters(effective)

	tag := s.seq.next(key)
	out, err := s.fetch(ctx, snap.Query, effective, 1, "", false)
	if err != nil {
		s.metrics.SearchesFailed.WithLabelValues(modeFilter).Inc()
		return nil, err
	}
	if !s.seq.isCurrent(key, tag) {
		s.metrics.StaleResponsesDiscarded.Inc()
		return nil, domain.ErrStaleResponse
	}

	snap.Seq = tag
	s.commitPage(snap, 1, out)
	snap.AppliedQueries = out.applied

	if err := s.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	s.metrics.SessionsWritten.Inc()

	s.metrics.SearchDuration.WithLabelValues(modeFilter).Observe(time.Since(start).Seconds())
	s.metrics.ResultsPerSearch.WithLabelValues(modeFilter).Observe(float64(len(out.slot.Items)))
	return s.result(snap, out.slot, out.degraded), nil
}

// GoToPage navigates an existing session to the given page. Resolution order:
// patient-mode paging, the page cache, a post-filter re-query, then a plain
// page advance. The search key and the filter set are never touched.
func (s *Service) GoToPage(ctx context.Context, key string, page int) (*Result, error) {
	if page < 1 {
		return nil, domain.NewValidationError("page", "must be at least 1")
	}
	snap, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			s.metrics.SessionsExpired.Inc()
			s.seq.drop(key)
		}
		return nil, err
	}

	s.metrics.SearchesStarted.WithLabelValues(modePage).Inc()

	if snap.PatientMode() {
		return s.patientPage(ctx, snap, page)
	}

	if slot, ok := snap.CachedPage(page); ok {
		s.metrics.PageCacheHits.Inc()
		snap.Page = page
		if err := s.store.Put(ctx, snap); err != nil {
			return nil, fmt.Errorf("persist session: %w", err)
		}
		return s.result(snap, slot, nil), nil
	}
	s.metrics.PageCacheMisses.Inc()

	effective := snap.Filters
	if snap.PostFilters != nil {
		effective = *snap.PostFilters
	}

	token, haveToken := snap.CTGTokenForPage(page)
	if !haveToken {
		s.logger.Debug().Int("page", page).Msg("no continuation token for page, skipping registry leg")
	}

	tag := s.seq.next(key)
	out, err := s.fetch(ctx, snap.Query, effective, page, token, !haveToken)
	if err != nil {
		s.metrics.SearchesFailed.WithLabelValues(modePage).Inc()
		return nil, err
	}
	if !s.seq.isCurrent(key, tag) {
		s.metrics.StaleResponsesDiscarded.Inc()
		return nil, domain.ErrStaleResponse
	}

	snap.Seq = tag
	s.commitPage(snap, page, out)

	if err := s.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	s.metrics.SessionsWritten.Inc()
	return s.result(snap, out.slot, out.degraded), nil
}

// PatientSearch expands a free-text patient description into up to
// MaxPatientVariants sub-queries, searches each, and stores the per-variant
// results in a fresh session.
func (s *Service) PatientSearch(ctx context.Context, req PatientRequest) (*Result, error) {
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return nil, domain.NewValidationError("description", "must not be empty")
	}

	start := time.Now()
	s.metrics.SearchesStarted.WithLabelValues(modePatient).Inc()

	queries := []string{desc}
	if s.refiner != nil {
		expanded, err := s.refiner.PatientVariants(ctx, desc)
		if err != nil {
			s.logger.Warn().Err(err).Msg("patient variant expansion failed, searching raw description")
		} else if len(expanded) > 0 {
			queries = expanded
		}
	}
	if len(queries) > s.cfg.MaxPatientVariants {
		queries = queries[:s.cfg.MaxPatientVariants]
	}

	key := s.newKey()
	tag := s.seq.next(key)
	filters := domain.DefaultFilters()

	var (
		variants []session.PatientVariant
		degraded []string
		total    int
	)
	for _, q := range queries {
		out, err := s.fetch(ctx, q, filters, 1, "", false)
		if err != nil {
			s.logger.Warn().Err(err).Str("variant", q).Msg("patient variant search failed")
			degraded = append(degraded, q)
			variants = append(variants, session.PatientVariant{Query: q})
			continue
		}
		degraded = append(degraded, out.degraded...)
		variants = append(variants, session.PatientVariant{
			Query:        q,
			Items:        out.slot.Items,
			TotalResults: out.pmTotal + out.ctgTotal,
		})
		total += len(out.slot.Items)
	}
	if total == 0 && len(degraded) >= len(queries) {
		s.metrics.SearchesFailed.WithLabelValues(modePatient).Inc()
		return nil, fmt.Errorf("%w: all patient variant searches failed", domain.ErrServiceUnavailable)
	}
	if !s.seq.isCurrent(key, tag) {
		s.metrics.StaleResponsesDiscarded.Inc()
		return nil, domain.ErrStaleResponse
	}

	snap := session.NewSnapshot(key, desc, filters)
	snap.Seq = tag
	snap.PatientVariants = variants
	snap.PatientPage = 1
	snap.TotalResults = total
	snap.TotalPages = pageCount(total, s.cfg.PageSize)

	if err := s.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	s.metrics.SessionsWritten.Inc()
	s.recordHistory(ctx, desc, filters)

	s.metrics.SearchDuration.WithLabelValues(modePatient).Observe(time.Since(start).Seconds())
	s.metrics.ResultsPerSearch.WithLabelValues(modePatient).Observe(float64(total))
	return s.patientResult(snap, 1, degraded)
}

// patientPage serves one page of the concatenated patient-variant results.
func (s *Service) patientPage(ctx context.Context, snap *session.Snapshot, page int) (*Result, error) {
	res, err := s.patientResult(snap, page, nil)
	if err != nil {
		return nil, err
	}
	snap.PatientPage = page
	if err := s.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return res, nil
}

func (s *Service) patientResult(snap *session.Snapshot, page int, degraded []string) (*Result, error) {
	var all []domain.SearchResultItem
	queries := make([]string, 0, len(snap.PatientVariants))
	for _, v := range snap.PatientVariants {
		all = append(all, v.Items...)
		queries = append(queries, v.Query)
	}

	totalPages := pageCount(len(all), s.cfg.PageSize)
	if page > totalPages && totalPages > 0 {
		return nil, domain.NewValidationError("page", fmt.Sprintf("beyond last page %d", totalPages))
	}
	lo := (page - 1) * s.cfg.PageSize
	hi := lo + s.cfg.PageSize
	if lo > len(all) {
		lo = len(all)
	}
	if hi > len(all) {
		hi = len(all)
	}
	items := all[lo:hi]

	return &Result{
		SearchKey: snap.SearchKey,
		Query:     snap.Query,
		Filters:   snap.Filters,
		Page: domain.ResultPage{
			Items:      items,
			Counts:     domain.CountResults(items),
			Page:       page,
			PageSize:   s.cfg.PageSize,
			TotalPages: totalPages,
		},
		HasAppliedFilters: snap.HasAppliedFilters(),
		PatientMode:       true,
		PatientQueries:    queries,
		Degraded:          degraded,
	}, nil
}

// fetchOutcome is one fan-out round: the merged page plus the upstream
// bookkeeping needed to commit it.
type fetchOutcome struct {
	slot     session.PageSlot
	applied  domain.AppliedQueries
	pmTotal  int
	ctgTotal int

	nextCTGToken string
	ctgSkipped   bool
	degraded     []string
}

// fetch fans out to the selected sources, merges, and reports per-leg
// failures. It returns an error only when every attempted leg failed.
func (s *Service) fetch(ctx context.Context, query string, f domain.SearchFilters, page int, ctgToken string, skipCTG bool) (*fetchOutcome, error) {
	out := &fetchOutcome{}

	runPM := s.articles != nil && s.articles.IsEnabled() && wantsSource(f, domain.SourceTypePubMed)
	wantCTG := s.trials != nil && s.trials.IsEnabled() && wantsSource(f, domain.SourceTypeCTG)
	runCTG := wantCTG && !skipCTG
	if wantCTG && skipCTG {
		out.ctgSkipped = true
		out.degraded = append(out.degraded, string(domain.SourceTypeCTG))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		articles []*domain.Article
		trials   []*domain.Trial
		errs     []error
	)

	if runPM {
		pmQuery := buildPubMedQuery(query, f)
		out.applied.PubMed = pmQuery
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.articles.Search(ctx, sources.ArticleSearchParams{
				Query:      pmQuery,
				MaxResults: s.cfg.PageSize,
				Offset:     (page - 1) * s.cfg.PageSize,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error().Err(err).Str("source", s.articles.Name()).Msg("source search failed")
				errs = append(errs, err)
				out.degraded = append(out.degraded, string(domain.SourceTypePubMed))
				return
			}
			articles = res.Articles
			out.pmTotal = res.TotalResults
		}()
	}

	if runCTG {
		params := buildTrialParams(query, f, s.cfg.PageSize, ctgToken)
		out.applied.CTG = strings.TrimSpace(strings.Join([]string{params.Condition, params.Intervention, params.Terms}, " "))
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.trials.Search(ctx, params)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error().Err(err).Str("source", s.trials.Name()).Msg("source search failed")
				errs = append(errs, err)
				out.degraded = append(out.degraded, string(domain.SourceTypeCTG))
				return
			}
			trials = res.Trials
			out.ctgTotal = res.TotalResults
			out.nextCTGToken = res.NextPageToken
		}()
	}

	wg.Wait()

	attempted := 0
	if runPM {
		attempted++
	}
	if runCTG {
		attempted++
	}
	if attempted > 0 && len(errs) == attempted {
		return nil, fmt.Errorf("%w: all sources failed: %w", domain.ErrServiceUnavailable, errs[0])
	}

	items := merge.Merge(articles, trials)
	counts := domain.CountResults(items)
	if counts.Merged > 0 {
		s.metrics.RecordsMerged.Add(float64(counts.Merged))
	}
	out.slot = session.PageSlot{
		Items:  items,
		Counts: counts,
	}
	return out, nil
}

// commitPage installs a fetched page into the snapshot: page position, cache
// slot, totals, and the continuation-token frontier.
func (s *Service) commitPage(snap *session.Snapshot, page int, out *fetchOutcome) {
	snap.Page = page
	if !out.ctgSkipped {
		snap.TotalResults = out.pmTotal + out.ctgTotal
		snap.TotalPages = pageCount(max(out.pmTotal, out.ctgTotal), s.cfg.PageSize)
	}
	out.slot.CTGTokens = append([]string(nil), snap.CTGTokenHistory...)
	snap.CachePage(page, out.slot)
	if out.nextCTGToken != "" && len(snap.CTGTokenHistory) == page-1 {
		snap.PushCTGToken(out.nextCTGToken)
	}
}

func (s *Service) result(snap *session.Snapshot, slot session.PageSlot, degraded []string) *Result {
	return &Result{
		SearchKey: snap.SearchKey,
		Query:     snap.Query,
		Filters:   snap.Filters,
		Page: domain.ResultPage{
			Items:        slot.Items,
			Counts:       slot.Counts,
			Page:         snap.Page,
			PageSize:     s.cfg.PageSize,
			TotalPages:   snap.TotalPages,
			RefinedQuery: slot.RefinedQuery,
		},
		AppliedQueries:    snap.AppliedQueries,
		HasAppliedFilters: snap.HasAppliedFilters(),
		Degraded:          degraded,
	}
}

func (s *Service) recordHistory(ctx context.Context, query string, filters domain.SearchFilters) {
	if s.history == nil {
		return
	}
	userID := observability.UserIDFromContext(ctx)
	if userID == "" {
		return
	}
	if err := s.history.Add(ctx, userID, query, filters); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to record search history")
	}
}

func pageCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// sequencer hands out monotonic per-session sequence numbers. A response is
// committed only if its number is still the newest issued for the session.
// Entries idle longer than the session TTL are swept on the next issue so the
// table does not outgrow the live session set.
type sequencer struct {
	mu      sync.Mutex
	entries map[string]*seqEntry
	maxIdle time.Duration

	now func() time.Time
}

type seqEntry struct {
	n       uint64
	touched time.Time
}

func newSequencer() *sequencer {
	return &sequencer{
		entries: make(map[string]*seqEntry),
		maxIdle: session.DefaultTTL,
		now:     time.Now,
	}
}

func (q *sequencer) next(key string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for k, e := range q.entries {
		if now.Sub(e.touched) > q.maxIdle {
			delete(q.entries, k)
		}
	}
	e, ok := q.entries[key]
	if !ok {
		e = &seqEntry{}
		q.entries[key] = e
	}
	e.n++
	e.touched = now
	return e.n
}

func (q *sequencer) isCurrent(key string, tag uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[key]
	return ok && e.n == tag
}

// drop discards the counter for a session that no longer exists.
func (q *sequencer) drop(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, key)
}
