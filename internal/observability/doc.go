// Package observability provides logging, metrics, and context propagation
// for the Study Search Service.
//
// # Logging
//
// Structured logging is built on zerolog. Create a logger once at startup
// with NewLogger and derive component loggers:
//
//	logger := observability.NewLogger(cfg)
//	searchLogger := logger.With().Str("component", "search").Logger()
//
// The With*Context helpers attach common field groups (session, source,
// record) so log lines are correlated across a request.
//
// # Metrics
//
// Prometheus metrics are created with NewMetrics and registered with the
// default registry via promauto. Call NewMetrics exactly once per process;
// repeated registration of the same namespace panics.
//
// # Context propagation
//
// Request-scoped identifiers (request ID, user ID, search key) travel on the
// context.Context and are attached to log lines by the HTTP middleware.
package observability
