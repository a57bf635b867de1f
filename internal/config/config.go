// Package config provides configuration management for the study search service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Session backend constants.
const (
	// SessionBackendMemory keeps session snapshots in process memory.
	SessionBackendMemory = "memory"
	// SessionBackendRedis keeps session snapshots in Redis.
	SessionBackendRedis = "redis"
)

// Config holds all configuration for the study search service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Sources contains upstream source API configurations.
	Sources SourcesConfig `mapstructure:"sources"`
	// LLM contains LLM client settings for query refinement, eligibility
	// checks, and insights.
	LLM LLMConfig `mapstructure:"llm"`
	// Session contains search-session snapshot store settings.
	Session SessionConfig `mapstructure:"session"`
	// Database contains PostgreSQL settings for the search history store.
	Database DatabaseConfig `mapstructure:"database"`
	// History contains search-history behavior settings.
	History HistoryConfig `mapstructure:"history"`
	// Search contains controller behavior settings.
	Search SearchConfig `mapstructure:"search"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// Port is the HTTP server port (default: 8080).
	Port int `mapstructure:"port"`
	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is the keep-alive idle timeout.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the HTTP server bind address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace is the metric name prefix.
	Namespace string `mapstructure:"namespace"`
}

// SourcesConfig holds configuration for all upstream source APIs.
type SourcesConfig struct {
	// PubMed contains NCBI E-utilities settings.
	PubMed SourceConfig `mapstructure:"pubmed"`
	// CTG contains ClinicalTrials.gov API settings.
	CTG SourceConfig `mapstructure:"ctg"`
}

// SourceConfig holds configuration for a single upstream source API.
type SourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment, e.g.
	// SEARCHSVC_SOURCES_PUBMED_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
}

// LLMConfig holds LLM client configuration.
type LLMConfig struct {
	// Enabled controls whether LLM-backed features (query refinement,
	// patient mode, eligibility, insights) are available.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the provider API key (loaded from
	// SEARCHSVC_LLM_API_KEY).
	APIKey string `mapstructure:"-"`
	// Model is the model identifier.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL (OpenAI-compatible Chat Completions).
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int `mapstructure:"max_retries"`
	// Temperature is the sampling temperature.
	Temperature float64 `mapstructure:"temperature"`
}

// SessionConfig holds search-session store configuration.
type SessionConfig struct {
	// Backend selects the store implementation (memory, redis).
	Backend string `mapstructure:"backend"`
	// TTL is how long an idle session snapshot is retained.
	TTL time.Duration `mapstructure:"ttl"`
	// RedisAddr is the Redis server address (host:port).
	RedisAddr string `mapstructure:"redis_addr"`
	// RedisDB is the Redis logical database number.
	RedisDB int `mapstructure:"redis_db"`
	// RedisPassword is the Redis password (loaded from
	// SEARCHSVC_SESSION_REDIS_PASSWORD).
	RedisPassword string `mapstructure:"-"`
}

// DatabaseConfig holds PostgreSQL connection configuration for search history.
type DatabaseConfig struct {
	// Enabled controls whether the history store connects at startup.
	// When disabled, search history is silently skipped.
	Enabled bool `mapstructure:"enabled"`
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from
	// SEARCHSVC_DATABASE_PASSWORD).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of pooled connections.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of pooled connections.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum idle time of a connection.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// HealthCheckPeriod is the period between pool health checks.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// MigrationPath is the path to migration files.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HistoryConfig holds search-history behavior settings.
type HistoryConfig struct {
	// MaxEntries bounds the history kept per user; older entries are pruned.
	MaxEntries int `mapstructure:"max_entries"`
}

// SearchConfig holds controller behavior settings.
type SearchConfig struct {
	// PageSize is the number of merged results per page.
	PageSize int `mapstructure:"page_size"`
	// MaxPatientVariants bounds the number of patient-mode sub-queries.
	MaxPatientVariants int `mapstructure:"max_patient_variants"`
	// RefineQueries enables LLM query expansion on new searches.
	RefineQueries bool `mapstructure:"refine_queries"`
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("SEARCHSVC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/study-search-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Sources.PubMed.APIKey = os.Getenv("SEARCHSVC_SOURCES_PUBMED_API_KEY")
	cfg.Sources.CTG.APIKey = os.Getenv("SEARCHSVC_SOURCES_CTG_API_KEY")
	cfg.LLM.APIKey = os.Getenv("SEARCHSVC_LLM_API_KEY")
	cfg.Session.RedisPassword = os.Getenv("SEARCHSVC_SESSION_REDIS_PASSWORD")
	cfg.Database.Password = os.Getenv("SEARCHSVC_DATABASE_PASSWORD")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "searchsvc")

	// Source defaults - PubMed (NCBI E-utilities)
	v.SetDefault("sources.pubmed.enabled", true)
	v.SetDefault("sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("sources.pubmed.timeout", "30s")
	v.SetDefault("sources.pubmed.rate_limit", 3.0) // NCBI recommends max 3 req/sec without API key
	v.SetDefault("sources.pubmed.max_results", 100)

	// Source defaults - ClinicalTrials.gov v2 API
	v.SetDefault("sources.ctg.enabled", true)
	v.SetDefault("sources.ctg.base_url", "https://clinicaltrials.gov/api/v2")
	v.SetDefault("sources.ctg.timeout", "30s")
	v.SetDefault("sources.ctg.rate_limit", 5.0)
	v.SetDefault("sources.ctg.max_results", 100)

	// LLM defaults
	v.SetDefault("llm.enabled", true)
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.temperature", 0.2)

	// Session defaults
	v.SetDefault("session.backend", SessionBackendMemory)
	v.SetDefault("session.ttl", "1h")
	v.SetDefault("session.redis_addr", "localhost:6379")
	v.SetDefault("session.redis_db", 0)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "searchsvc")
	v.SetDefault("database.name", "study_search_service")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.health_check_period", "1m")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// History defaults
	v.SetDefault("history.max_entries", 100)

	// Search defaults
	v.SetDefault("search.page_size", 20)
	v.SetDefault("search.max_patient_variants", 5)
	v.SetDefault("search.refine_queries", true)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if !c.Sources.PubMed.Enabled && !c.Sources.CTG.Enabled {
		return fmt.Errorf("at least one upstream source must be enabled")
	}

	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session backend %q requires session.redis_addr", c.Session.Backend)
		}
	default:
		return fmt.Errorf("invalid session backend: %s", c.Session.Backend)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.enabled requires SEARCHSVC_LLM_API_KEY to be set")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	}

	if c.Search.PageSize <= 0 {
		return fmt.Errorf("search page size must be positive")
	}
	if c.Search.MaxPatientVariants <= 0 {
		return fmt.Errorf("max patient variants must be positive")
	}

	return nil
}
