package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the study search service.
// Metrics are organized by subsystem: searches, sources, sessions, details,
// eligibility, and LLM operations. All counters and histograms are registered
// via promauto for automatic registration with the default Prometheus registry.
type Metrics struct {
	// SearchesStarted counts searches initiated, labeled by mode
	// (new, filter, page, patient).
	SearchesStarted *prometheus.CounterVec

	// SearchesFailed counts failed searches, labeled by mode.
	SearchesFailed *prometheus.CounterVec

	// SearchDuration observes end-to-end search duration in seconds by mode.
	SearchDuration *prometheus.HistogramVec

	// ResultsPerSearch observes merged result counts per search by mode.
	ResultsPerSearch *prometheus.HistogramVec

	// RecordsMerged counts merged (cross-linked) records produced.
	RecordsMerged prometheus.Counter

	// StaleResponsesDiscarded counts source responses dropped by the
	// sequence guard because a newer request superseded them.
	StaleResponsesDiscarded prometheus.Counter

	// PageCacheHits counts page navigations served from the session cache.
	PageCacheHits prometheus.Counter

	// PageCacheMisses counts page navigations that hit the upstream sources.
	PageCacheMisses prometheus.Counter

	// SourceRequestsTotal counts HTTP requests to upstream APIs, labeled by
	// source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed upstream requests, labeled by source,
	// endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes upstream request duration in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SessionsWritten counts session snapshot writes.
	SessionsWritten prometheus.Counter

	// SessionsExpired counts session reads that missed or found expired entries.
	SessionsExpired prometheus.Counter

	// SessionsMalformed counts session entries discarded as malformed.
	SessionsMalformed prometheus.Counter

	// EligibilityChecks counts eligibility check requests, labeled by source.
	EligibilityChecks *prometheus.CounterVec

	// EligibilityCheckDuration observes eligibility check duration in seconds.
	EligibilityCheckDuration prometheus.Histogram

	// LLMRequestsTotal counts LLM API requests, labeled by operation and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM API requests, labeled by operation,
	// model, and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes LLM API request duration in seconds.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed counts tokens consumed by LLM operations, labeled by
	// operation, model, and token type.
	LLMTokensUsed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SearchesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of searches started by mode",
		}, []string{"mode"}),
		SearchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of searches that failed by mode",
		}, []string{"mode"}),
		SearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of searches in seconds by mode",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"mode"}),
		ResultsPerSearch: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "results_per_search",
			Help:      "Number of merged results returned per search by mode",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200},
		}, []string{"mode"}),
		RecordsMerged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_merged_total",
			Help:      "Total number of cross-linked PM/CTG records produced",
		}),
		StaleResponsesDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_discarded_total",
			Help:      "Total number of superseded source responses discarded",
		}),
		PageCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_cache_hits_total",
			Help:      "Total number of page navigations served from session cache",
		}),
		PageCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_cache_misses_total",
			Help:      "Total number of page navigations that queried upstream sources",
		}),
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of HTTP requests to upstream source APIs",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed HTTP requests to upstream source APIs",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of HTTP requests to upstream source APIs in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source", "endpoint"}),
		SessionsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_written_total",
			Help:      "Total number of session snapshot writes",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Total number of session reads that missed or expired",
		}),
		SessionsMalformed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_malformed_total",
			Help:      "Total number of session entries discarded as malformed",
		}),
		EligibilityChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eligibility_checks_total",
			Help:      "Total number of eligibility checks by record source",
		}, []string{"source"}),
		EligibilityCheckDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "eligibility_check_duration_seconds",
			Help:      "Duration of eligibility checks in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM API requests by operation and model",
		}, []string{"operation", "model"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed LLM API requests",
		}, []string{"operation", "model", "error_type"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM API requests in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"operation", "model"}),
		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of LLM tokens consumed",
		}, []string{"operation", "model", "token_type"}),
	}
}
