// Package httpserver provides the HTTP REST API for the study search service.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/medscope/study-search-service/internal/database"
	"github.com/medscope/study-search-service/internal/history"
	"github.com/medscope/study-search-service/internal/llm"
	"github.com/medscope/study-search-service/internal/search"
)

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	search     *search.Service
	detail     *search.DetailService
	insights   llm.InsightsGenerator
	history    history.Repository
	db         *database.DB
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MetricsPath, when non-empty, exposes the Prometheus registry there.
	MetricsPath string
}

// NewServer creates a new HTTP server with all dependencies. The insights
// generator, history repository, and database may be nil; the corresponding
// endpoints report the feature as unavailable.
func NewServer(
	cfg Config,
	searchSvc *search.Service,
	detailSvc *search.DetailService,
	insights llm.InsightsGenerator,
	historyRepo history.Repository,
	db *database.DB,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		search:   searchSvc,
		detail:   detailSvc,
		insights: insights,
		history:  historyRepo,
		db:       db,
		logger:   logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter(cfg.MetricsPath)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter(metricsPath string) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(jsonContentTypeMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	if metricsPath != "" {
		r.Handle(metricsPath, promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(userContextMiddleware)

		r.Route("/search", func(r chi.Router) {
			r.Post("/", s.handleSearch)
			r.Post("/filter", s.handleFilter)
			r.Post("/paging", s.handlePaging)
			r.Post("/patient", s.handlePatientSearch)
			r.Post("/patient/paging", s.handlePaging)
		})

		r.Route("/paper", func(r chi.Router) {
			r.Get("/structured_info", s.handleStructuredInfo)
			r.Get("/ctg_detail", s.handleCTGDetail)
			r.Get("/pmc_full_text_html", s.handlePMCFullText)
			r.Post("/check_systematic_review", s.handleCheckEligibility)
		})

		r.Route("/insights", func(r chi.Router) {
			r.Post("/generate-insights", s.handleGenerateInsights)
			r.Post("/chat", s.handleChat)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleListHistory)
			r.Delete("/", s.handleClearHistory)
		})
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the configured router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler returns readiness status. The database is optional; when it
// is not configured only the process itself gates readiness.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		health := s.db.Health(r.Context())
		if health.Status != "healthy" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "not_ready",
				"database": health.Status,
				"error":    health.Error,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
