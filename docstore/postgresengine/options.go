package postgresengine

import (
	"errors"
	"time"

	"github.com/libraryops/lending-engine-go/docstore"
)

// ErrInvalidPollInterval is returned when a non-positive watch poll interval is supplied.
var ErrInvalidPollInterval = errors.New("watch poll interval must be positive")

// Option defines a functional option for configuring DocumentStore.
type Option func(*DocumentStore) error

// WithTableName sets the document table name for the DocumentStore.
func WithTableName(tableName string) Option {
	return func(ds *DocumentStore) error {
		if tableName == "" {
			return docstore.ErrEmptyTableNameSupplied
		}

		ds.documentTableName = tableName

		return nil
	}
}

// WithLogger sets the logger for the DocumentStore.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: Transaction durations and conflicts (production-safe)
// Warn level: Non-critical issues like rollback or cleanup failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger docstore.Logger) Option {
	return func(ds *DocumentStore) error {
		ds.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the DocumentStore.
// The contextual logger will receive log messages with context information including
// automatic trace/span correlation when tracing is enabled, enabling unified observability.
func WithContextualLogger(logger docstore.ContextualLogger) Option {
	return func(ds *DocumentStore) error {
		ds.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the DocumentStore.
// The metrics collector will receive performance and operational metrics including
// transaction durations and conflict counts.
func WithMetrics(collector docstore.MetricsCollector) Option {
	return func(ds *DocumentStore) error {
		ds.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the DocumentStore.
// The tracing collector will receive distributed tracing information including
// span creation for transactions, context propagation, and error tracking.
func WithTracing(collector docstore.TracingCollector) Option {
	return func(ds *DocumentStore) error {
		ds.tracingCollector = collector
		return nil
	}
}

// WithWatchPollInterval sets the polling interval used by Watch subscriptions.
// The Postgres engine detects committed document changes by polling the
// revision column; shorter intervals reduce delivery latency at the cost of
// more queries.
func WithWatchPollInterval(interval time.Duration) Option {
	return func(ds *DocumentStore) error {
		if interval <= 0 {
			return ErrInvalidPollInterval
		}

		ds.watchPollInterval = interval

		return nil
	}
}
