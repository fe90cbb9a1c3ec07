package postgresengine

import (
	"context"
	"math"
	"time"

	"github.com/libraryops/lending-engine-go/docstore"
)

const (
	metricTransactionDuration = "docstore_transaction_duration"
	metricTxConflicts         = "docstore_tx_conflicts"

	spanNameTransaction = "docstore.transaction"
	spanAttrTable       = "db.table"

	statusSuccess  = "success"
	statusError    = "error"
	statusConflict = "conflict"

	labelStatus = "status"
)

// logQueryWithDuration logs SQL queries with execution time at debug level if a logger is configured.
func (ds DocumentStore) logQueryWithDuration(ctx context.Context, sqlQuery string, action string, duration time.Duration) {
	args := []any{logAttrDurationMS, ds.toMilliseconds(duration), logAttrQuery, sqlQuery}

	if ds.contextualLogger != nil {
		ds.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, args...)
		return
	}

	if ds.logger != nil {
		ds.logger.Debug(logMsgSQLExecuted+action, args...)
	}
}

// logOperation logs operational information at info level if a logger is configured.
func (ds DocumentStore) logOperation(ctx context.Context, action string, args ...any) {
	if ds.contextualLogger != nil {
		ds.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
		return
	}

	if ds.logger != nil {
		ds.logger.Info(logMsgOperation+action, args...)
	}
}

// logInfo logs at info level if a logger is configured.
func (ds DocumentStore) logInfo(ctx context.Context, msg string, args ...any) {
	if ds.contextualLogger != nil {
		ds.contextualLogger.InfoContext(ctx, msg, args...)
		return
	}

	if ds.logger != nil {
		ds.logger.Info(msg, args...)
	}
}

// logWarn logs at warn level if a logger is configured.
func (ds DocumentStore) logWarn(ctx context.Context, msg string, args ...any) {
	if ds.contextualLogger != nil {
		ds.contextualLogger.WarnContext(ctx, msg, args...)
		return
	}

	if ds.logger != nil {
		ds.logger.Warn(msg, args...)
	}
}

// logError logs error information at the error level if a logger is configured.
func (ds DocumentStore) logError(ctx context.Context, message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if ds.contextualLogger != nil {
		ds.contextualLogger.ErrorContext(ctx, message, allArgs...)
		return
	}

	if ds.logger != nil {
		ds.logger.Error(message, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func (ds DocumentStore) toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// recordDurationMetrics records transaction duration metrics if the collector is configured.
func (ds DocumentStore) recordDurationMetrics(ctx context.Context, metricName string, duration time.Duration, status string) {
	if ds.metricsCollector == nil {
		return
	}

	labels := map[string]string{labelStatus: status}

	if contextualCollector, ok := ds.metricsCollector.(docstore.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metricName, duration, labels)
	} else {
		ds.metricsCollector.RecordDuration(metricName, duration, labels)
	}
}

// recordConflictMetrics records transaction conflict counts if the collector is configured.
func (ds DocumentStore) recordConflictMetrics(ctx context.Context) {
	if ds.metricsCollector == nil {
		return
	}

	labels := map[string]string{labelStatus: statusConflict}

	if contextualCollector, ok := ds.metricsCollector.(docstore.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metricTxConflicts, labels)
	} else {
		ds.metricsCollector.IncrementCounter(metricTxConflicts, labels)
	}
}

// startTraceSpan starts a tracing span if the tracing collector is configured.
func (ds DocumentStore) startTraceSpan(ctx context.Context, name string) (context.Context, docstore.SpanContext) {
	if ds.tracingCollector == nil {
		return ctx, nil
	}

	return ds.tracingCollector.StartSpan(ctx, name, map[string]string{spanAttrTable: ds.documentTableName})
}

// finishTraceSpan finishes a tracing span if one was started.
func (ds DocumentStore) finishTraceSpan(span docstore.SpanContext, status string) {
	if ds.tracingCollector == nil || span == nil {
		return
	}

	ds.tracingCollector.FinishSpan(span, status, nil)
}
