package engine

import (
	"context"
	"errors"
	"time"

	"github.com/libraryops/lending-engine-go/docstore"
	"github.com/libraryops/lending-engine-go/lending"
)

const (
	metricOperationDuration = "lending_operation_duration"

	spanNamePrefix    = "lending."
	spanAttrOperation = "lending.operation"

	statusSuccess = "success"
	statusError   = "error"

	labelOperation = "operation"
	labelStatus    = "status"

	logMsgOperationFailed     = "lending operation failed"
	logMsgRetriesExhausted    = "lending operation exhausted conflict retries"
	logAttrError              = "error"
	logAttrOperation          = "operation"
	logAttrBookID             = "bookId"
	logAttrUserID             = "userId"
	logAttrLoanID             = "loanId"
	logAttrReservationID      = "reservationId"
	logMsgMalformedDocSkipped = "skipping malformed document"
)

// Clock supplies the current time. Injectable for deterministic tests of
// due dates and reservation expiry.
type Clock func() time.Time

// Engine exposes the transactional lifecycle operations over books, loans,
// and reservations. All mutations run as store transactions with bounded
// conflict retry; business decisions are re-validated on every retry against
// a fresh snapshot.
type Engine struct {
	store            docstore.Store
	policy           lending.Policy
	clock            Clock
	retryOptions     []docstore.RetryOption
	logger           docstore.Logger
	contextualLogger docstore.ContextualLogger
	metricsCollector docstore.MetricsCollector
	tracingCollector docstore.TracingCollector
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithPolicy sets the borrow policy. The policy must validate.
func WithPolicy(policy lending.Policy) Option {
	return func(e *Engine) error {
		if err := policy.Validate(); err != nil {
			return err
		}

		e.policy = policy

		return nil
	}
}

// WithClock sets the time source, mainly for tests.
func WithClock(clock Clock) Option {
	return func(e *Engine) error {
		if clock == nil {
			return errors.New("clock must not be nil")
		}

		e.clock = clock

		return nil
	}
}

// WithRetryOptions sets the conflict retry configuration applied to every
// transactional operation.
func WithRetryOptions(options ...docstore.RetryOption) Option {
	return func(e *Engine) error {
		e.retryOptions = options
		return nil
	}
}

// WithLogger sets the logger for the Engine.
func WithLogger(logger docstore.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Engine.
func WithContextualLogger(logger docstore.ContextualLogger) Option {
	return func(e *Engine) error {
		e.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Engine.
func WithMetrics(collector docstore.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Engine.
func WithTracing(collector docstore.TracingCollector) Option {
	return func(e *Engine) error {
		e.tracingCollector = collector
		return nil
	}
}

// New creates an Engine on the given store with the default policy.
func New(store docstore.Store, options ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}

	e := &Engine{
		store:  store,
		policy: lending.DefaultPolicy(),
		clock:  time.Now,
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Policy returns the borrow policy the engine enforces.
func (e *Engine) Policy() lending.Policy {
	return e.policy
}

// runWrite executes fn with conflict retry and maps exhausted retries to
// lending.ErrTransientFailure. It records a duration metric and a span per
// operation.
func (e *Engine) runWrite(ctx context.Context, operation string, fn docstore.TransactionFunc) error {
	spanCtx, span := e.startTraceSpan(ctx, operation)
	start := time.Now()

	err := docstore.RunTransactionWithRetry(spanCtx, e.store, fn, e.retryOptions...)

	status := statusSuccess
	if err != nil {
		status = statusError
	}

	e.recordOperationDuration(spanCtx, operation, time.Since(start), status)
	e.finishTraceSpan(span, status)

	if err == nil {
		return nil
	}

	if errors.Is(err, docstore.ErrTxConflict) {
		e.logWarn(spanCtx, logMsgRetriesExhausted, logAttrOperation, operation, logAttrError, err.Error())
		return errors.Join(lending.ErrTransientFailure, err)
	}

	return err
}

func (e *Engine) logWarn(ctx context.Context, msg string, args ...any) {
	if e.contextualLogger != nil {
		e.contextualLogger.WarnContext(ctx, msg, args...)
		return
	}

	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}

func (e *Engine) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if e.contextualLogger != nil {
		e.contextualLogger.ErrorContext(ctx, msg, allArgs...)
		return
	}

	if e.logger != nil {
		e.logger.Error(msg, allArgs...)
	}
}

func (e *Engine) recordOperationDuration(ctx context.Context, operation string, duration time.Duration, status string) {
	if e.metricsCollector == nil {
		return
	}

	labels := map[string]string{labelOperation: operation, labelStatus: status}

	if contextualCollector, ok := e.metricsCollector.(docstore.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metricOperationDuration, duration, labels)
	} else {
		e.metricsCollector.RecordDuration(metricOperationDuration, duration, labels)
	}
}

func (e *Engine) startTraceSpan(ctx context.Context, operation string) (context.Context, docstore.SpanContext) {
	if e.tracingCollector == nil {
		return ctx, nil
	}

	return e.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, map[string]string{spanAttrOperation: operation})
}

func (e *Engine) finishTraceSpan(span docstore.SpanContext, status string) {
	if e.tracingCollector == nil || span == nil {
		return
	}

	e.tracingCollector.FinishSpan(span, status, nil)
}
