// Package main provides the entry point for the study search service server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/medscope/study-search-service/internal/config"
	"github.com/medscope/study-search-service/internal/database"
	"github.com/medscope/study-search-service/internal/history"
	"github.com/medscope/study-search-service/internal/llm"
	"github.com/medscope/study-search-service/internal/observability"
	"github.com/medscope/study-search-service/internal/search"
	httpserver "github.com/medscope/study-search-service/internal/server/http"
	"github.com/medscope/study-search-service/internal/session"
	"github.com/medscope/study-search-service/internal/sources/ctgov"
	"github.com/medscope/study-search-service/internal/sources/pubmed"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("study-search-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	// Upstream source clients.
	pubmedClient := pubmed.New(pubmed.Config{
		BaseURL:    cfg.Sources.PubMed.BaseURL,
		APIKey:     cfg.Sources.PubMed.APIKey,
		Timeout:    cfg.Sources.PubMed.Timeout,
		RateLimit:  cfg.Sources.PubMed.RateLimit,
		MaxResults: cfg.Sources.PubMed.MaxResults,
		Enabled:    cfg.Sources.PubMed.Enabled,
		Metrics:    metrics,
	})
	ctgovClient := ctgov.New(ctgov.Config{
		BaseURL:    cfg.Sources.CTG.BaseURL,
		Timeout:    cfg.Sources.CTG.Timeout,
		RateLimit:  cfg.Sources.CTG.RateLimit,
		MaxResults: cfg.Sources.CTG.MaxResults,
		Enabled:    cfg.Sources.CTG.Enabled,
		Metrics:    metrics,
	})

	// LLM-backed features. All stay nil when the LLM is disabled; the
	// dependent services degrade to their non-model behavior.
	var (
		refiner    llm.QueryRefiner
		classifier llm.CriteriaClassifier
		insights   llm.InsightsGenerator
	)
	if cfg.LLM.Enabled {
		llmClient := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			BaseURL:     cfg.LLM.BaseURL,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
			MaxRetries:  cfg.LLM.MaxRetries,
			Metrics:     metrics,
		})
		refiner = llm.NewRefiner(llmClient)
		classifier = llm.NewClassifier(llmClient)
		insights = llm.NewInsights(llmClient)
		logger.Info().Str("model", cfg.LLM.Model).Msg("LLM client initialized")
	}

	// Session snapshot store.
	var store session.Store
	var redisClient *redis.Client
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		store = session.NewRedisStore(redisClient, cfg.Session.TTL, metrics)
		logger.Info().Str("addr", cfg.Session.RedisAddr).Msg("redis session store connected")
	default:
		store = session.NewMemoryStore(cfg.Session.TTL, metrics)
	}

	// Optional search-history persistence.
	var db *database.DB
	var historyRepo history.Repository
	if cfg.Database.Enabled {
		db, err = database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info().Msg("database connection established")

		if cfg.Database.MigrationAutoRun {
			migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
			if err != nil {
				return fmt.Errorf("create migrator: %w", err)
			}
			defer func() {
				if closeErr := migrator.Close(); closeErr != nil {
					logger.Error().Err(closeErr).Msg("failed to close migrator")
				}
			}()

			if err := migrator.Up(); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}

		historyRepo = history.NewPgRepository(db, cfg.History.MaxEntries)
	}

	// Search controller and detail service.
	searchSvc := search.NewService(
		search.Config{
			PageSize:           cfg.Search.PageSize,
			MaxPatientVariants: cfg.Search.MaxPatientVariants,
			RefineQueries:      cfg.Search.RefineQueries,
		},
		pubmedClient,
		ctgovClient,
		refiner,
		store,
		historyRepo,
		logger,
		metrics,
	)
	detailSvc := search.NewDetailService(pubmedClient, ctgovClient, pubmedClient, classifier, logger, metrics)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	httpSrv := httpserver.NewServer(
		httpserver.Config{
			Address:         cfg.Server.Address(),
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			IdleTimeout:     cfg.Server.IdleTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			MetricsPath:     metricsPath,
		},
		searchSvc,
		detailSvc,
		insights,
		historyRepo,
		db,
		logger,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("address", cfg.Server.Address()).
		Bool("pubmed_enabled", cfg.Sources.PubMed.Enabled).
		Bool("ctg_enabled", cfg.Sources.CTG.Enabled).
		Bool("llm_enabled", cfg.LLM.Enabled).
		Msg("study-search-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("study-search-service shutdown complete")
	return nil
}
