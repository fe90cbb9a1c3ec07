// Package memoryengine provides an in-memory implementation of the docstore
// contract with snapshot isolation and first-committer-wins conflict detection.
//
// It is the reference engine: tests and local development run against it, and
// its conflict semantics define what the SQL engines must provide. It is safe
// for concurrent use by any number of goroutines.
package memoryengine

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/libraryops/lending-engine-go/docstore"
)

const (
	logMsgTransactionConflict = "transaction conflict detected"
	logMsgTransactionApplied  = "transaction committed"
	logAttrError              = "error"
	logAttrDocCount           = "doc_count"

	metricTxConflicts = "docstore_tx_conflicts"
	metricTxCommits   = "docstore_tx_commits"
)

// DocumentStore is the in-memory engine. The zero value is not usable, construct it with New.
type DocumentStore struct {
	mu       sync.Mutex
	docs     map[docstore.Ref]storedDoc
	watchers map[docstore.Ref][]*subscription

	logger           docstore.Logger
	metricsCollector docstore.MetricsCollector
}

type storedDoc struct {
	payloadJSON []byte
	revision    docstore.RevisionUint
}

// Option defines a functional option for configuring the DocumentStore.
type Option func(*DocumentStore) error

// WithLogger sets the logger for the DocumentStore.
func WithLogger(logger docstore.Logger) Option {
	return func(s *DocumentStore) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the DocumentStore.
func WithMetrics(collector docstore.MetricsCollector) Option {
	return func(s *DocumentStore) error {
		s.metricsCollector = collector
		return nil
	}
}

// New creates an empty in-memory DocumentStore with optional configuration.
func New(options ...Option) (*DocumentStore, error) {
	s := &DocumentStore{
		docs:     make(map[docstore.Ref]storedDoc),
		watchers: make(map[docstore.Ref][]*subscription),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// RunTransaction executes fn against a snapshot of the store and commits its
// buffered writes atomically. If any document fn touched (read, wrote, or
// matched through a query) was changed by a concurrent commit in the meantime,
// nothing is applied and docstore.ErrTxConflict is returned.
func (s *DocumentStore) RunTransaction(_ context.Context, fn docstore.TransactionFunc) error {
	tx := s.begin()

	if err := fn(tx); err != nil {
		return err
	}

	return s.commit(tx)
}

// Get reads a single committed document outside any transaction.
func (s *DocumentStore) Get(_ context.Context, ref docstore.Ref) (docstore.Document, bool, error) {
	if err := ref.Validate(); err != nil {
		return docstore.Document{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, found := s.docs[ref]
	if !found {
		return docstore.Document{}, false, nil
	}

	return asDocument(ref, stored), true, nil
}

// Query reads matching committed documents outside any transaction.
func (s *DocumentStore) Query(_ context.Context, query docstore.Query) (docstore.Documents, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(docstore.Documents, 0)

	for ref, stored := range s.docs {
		if ref.Collection != query.Collection() {
			continue
		}

		matches, err := payloadMatches(stored.payloadJSON, query.Predicates())
		if err != nil {
			return nil, err
		}

		if matches {
			result = append(result, asDocument(ref, stored))
		}
	}

	return result, nil
}

func (s *DocumentStore) begin() *transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[docstore.Ref]storedDoc, len(s.docs))
	for ref, stored := range s.docs {
		snapshot[ref] = stored
	}

	return &transaction{
		store:    s,
		snapshot: snapshot,
		observed: make(map[docstore.Ref]docstore.RevisionUint),
		writes:   make(map[docstore.Ref]writeOp),
	}
}

func (s *DocumentStore) commit(tx *transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every touched document against the committed state.
	for ref, observedRevision := range tx.observed {
		if s.docs[ref].revision != observedRevision {
			s.recordConflict()
			s.logConflict(ref)

			return docstore.ErrTxConflict
		}
	}

	// Validate that every query would still match the same document revisions.
	for _, read := range tx.queryReads {
		current, err := s.matchedRevisionsLocked(read.query)
		if err != nil {
			return err
		}

		if !sameRevisions(current, read.matched) {
			s.recordConflict()
			s.logInfo(logMsgTransactionConflict, logAttrDocCount, len(tx.writes))

			return docstore.ErrTxConflict
		}
	}

	var notifications []docstore.Document

	for ref, write := range tx.writes {
		switch write.kind {
		case writeKindDelete:
			delete(s.docs, ref)

		default:
			stored := storedDoc{
				payloadJSON: write.payloadJSON,
				revision:    s.docs[ref].revision + 1,
			}
			s.docs[ref] = stored
			notifications = append(notifications, asDocument(ref, stored))
		}
	}

	for _, doc := range notifications {
		s.notifyLocked(doc)
	}

	if s.metricsCollector != nil {
		s.metricsCollector.IncrementCounter(metricTxCommits, nil)
	}

	if len(tx.writes) > 0 {
		s.logDebug(logMsgTransactionApplied, logAttrDocCount, len(tx.writes))
	}

	return nil
}

// matchedRevisionsLocked evaluates a query against the committed state; callers must hold s.mu.
func (s *DocumentStore) matchedRevisionsLocked(query docstore.Query) (map[docstore.Ref]docstore.RevisionUint, error) {
	matched := make(map[docstore.Ref]docstore.RevisionUint)

	for ref, stored := range s.docs {
		if ref.Collection != query.Collection() {
			continue
		}

		matches, err := payloadMatches(stored.payloadJSON, query.Predicates())
		if err != nil {
			return nil, err
		}

		if matches {
			matched[ref] = stored.revision
		}
	}

	return matched, nil
}

func (s *DocumentStore) recordConflict() {
	if s.metricsCollector != nil {
		s.metricsCollector.IncrementCounter(metricTxConflicts, nil)
	}
}

func (s *DocumentStore) logConflict(ref docstore.Ref) {
	s.logInfo(logMsgTransactionConflict, "collection", ref.Collection, "doc_id", ref.ID)
}

func (s *DocumentStore) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *DocumentStore) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func sameRevisions(a, b map[docstore.Ref]docstore.RevisionUint) bool {
	if len(a) != len(b) {
		return false
	}

	for ref, revision := range a {
		if b[ref] != revision {
			return false
		}
	}

	return true
}

func asDocument(ref docstore.Ref, stored storedDoc) docstore.Document {
	return docstore.Document{
		Ref:         ref,
		PayloadJSON: stored.payloadJSON,
		Revision:    stored.revision,
	}
}

// payloadMatches reports whether every predicate matches a top-level string
// field of the payload. Predicates only match string values; documents with a
// missing or non-string field do not match.
func payloadMatches(payloadJSON []byte, predicates []docstore.Predicate) (bool, error) {
	if len(predicates) == 0 {
		return true, nil
	}

	fields := make(map[string]any)
	if err := jsoniter.ConfigFastest.Unmarshal(payloadJSON, &fields); err != nil {
		return false, err
	}

	for _, predicate := range predicates {
		value, ok := fields[predicate.Field()].(string)
		if !ok || value != predicate.Value() {
			return false, nil
		}
	}

	return true, nil
}

// mergePayload merges top-level fields into an existing JSON payload.
// A nil base starts from an empty document.
func mergePayload(baseJSON []byte, fields map[string]any) ([]byte, error) {
	merged := make(map[string]any)

	if len(baseJSON) > 0 {
		if err := jsoniter.ConfigFastest.Unmarshal(baseJSON, &merged); err != nil {
			return nil, err
		}
	}

	for field, value := range fields {
		merged[field] = value
	}

	return jsoniter.ConfigFastest.Marshal(merged)
}
