// Package sqliteengine provides a SQLite implementation of the docstore contract
// using the pure Go driver modernc.org/sqlite.
//
// Documents live in a single table keyed by (collection, doc_id) with a JSON
// payload and a revision counter. SQLite serializes writers, so transactions
// are naturally isolated; an in-process mutex keeps concurrent callers off the
// single write connection and SQLITE_BUSY from a competing process is mapped
// to docstore.ErrTxConflict for the retry layer.
//
// The engine is suitable for single-node deployments and local development;
// use the Postgres engine when multiple processes share the store.
package sqliteengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/libraryops/lending-engine-go/docstore"
)

const (
	defaultDocumentTableName = "documents"
	defaultWatchPollInterval = 250 * time.Millisecond

	logMsgDBQueryFailed      = "database query execution failed"
	logMsgDBExecFailed       = "database execution failed during document write"
	logMsgTxConflictDetected = "transaction conflict detected"
	logMsgWatchPollFailed    = "watch poll failed"
	logAttrError             = "error"

	sqliteBusyMarker = "SQLITE_BUSY"
)

// DocumentStore is the SQLite-backed engine. Construct it with Open.
type DocumentStore struct {
	db                *sql.DB
	documentTableName string
	watchPollInterval time.Duration
	logger            docstore.Logger
	metricsCollector  docstore.MetricsCollector

	// writeMu serializes transactions within this process; SQLite allows only
	// one writer at a time anyway and queueing here avoids SQLITE_BUSY churn.
	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

// Option defines a functional option for configuring the DocumentStore.
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
func WithLogger(logger docstore.Logger) Option {
	return func(ds *DocumentStore) error {
		ds.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the DocumentStore.
func WithMetrics(collector docstore.MetricsCollector) Option {
	return func(ds *DocumentStore) error {
		ds.metricsCollector = collector
		return nil
	}
}

// WithWatchPollInterval sets the polling interval used by Watch subscriptions.
func WithWatchPollInterval(interval time.Duration) Option {
	return func(ds *DocumentStore) error {
		if interval <= 0 {
			return errors.New("watch poll interval must be positive")
		}

		ds.watchPollInterval = interval

		return nil
	}
}

// Open opens (or creates) the SQLite database at path and ensures the document
// table exists. Use ":memory:" for an ephemeral store.
func Open(path string, options ...Option) (*DocumentStore, error) {
	if path == "" {
		return nil, errors.New("sqlite database path must not be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection keeps transactions strictly serialized in-process.
	db.SetMaxOpenConns(1)

	ds := &DocumentStore{
		db:                db,
		documentTableName: defaultDocumentTableName,
		watchPollInterval: defaultWatchPollInterval,
	}

	for _, option := range options {
		if err := option(ds); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := ds.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return ds, nil
}

func (ds *DocumentStore) ensureSchema() error {
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		collection TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		revision INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, doc_id)
	)`, ds.documentTableName)

	if _, err := ds.db.Exec(createTable); err != nil {
		return fmt.Errorf("create document table: %w", err)
	}

	return nil
}

// Close closes the underlying database. Operations after Close fail with docstore.ErrStoreClosed.
func (ds *DocumentStore) Close() error {
	ds.closeMu.Lock()
	defer ds.closeMu.Unlock()

	if ds.closed {
		return nil
	}

	ds.closed = true

	return ds.db.Close()
}

func (ds *DocumentStore) isClosed() bool {
	ds.closeMu.Lock()
	defer ds.closeMu.Unlock()

	return ds.closed
}

// RunTransaction executes fn inside one SQLite transaction. The whole
// transaction runs under the process-wide write lock, so in-process
// transactions never conflict with each other; SQLITE_BUSY raised by another
// process is mapped to docstore.ErrTxConflict.
func (ds *DocumentStore) RunTransaction(ctx context.Context, fn docstore.TransactionFunc) error {
	if ds.isClosed() {
		return docstore.ErrStoreClosed
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	dbTx, beginErr := ds.db.BeginTx(ctx, nil)
	if beginErr != nil {
		if isBusy(beginErr) {
			return errors.Join(docstore.ErrTxConflict, beginErr)
		}

		return errors.Join(docstore.ErrBeginningTransactionFailed, beginErr)
	}

	tx := &sqliteTx{store: ds, dbTx: dbTx, ctx: ctx}

	if fnErr := fn(tx); fnErr != nil {
		_ = dbTx.Rollback()

		if isBusy(fnErr) {
			ds.logInfo(logMsgTxConflictDetected, logAttrError, fnErr.Error())
			return errors.Join(docstore.ErrTxConflict, fnErr)
		}

		return fnErr
	}

	if commitErr := dbTx.Commit(); commitErr != nil {
		_ = dbTx.Rollback()

		if isBusy(commitErr) {
			ds.logInfo(logMsgTxConflictDetected, logAttrError, commitErr.Error())
			return errors.Join(docstore.ErrTxConflict, commitErr)
		}

		return errors.Join(docstore.ErrCommittingTransactionFailed, commitErr)
	}

	return nil
}

// Get reads a single document outside any transaction.
func (ds *DocumentStore) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, bool, error) {
	if err := ref.Validate(); err != nil {
		return docstore.Document{}, false, err
	}

	if ds.isClosed() {
		return docstore.Document{}, false, docstore.ErrStoreClosed
	}

	query := fmt.Sprintf(`SELECT payload, revision FROM %s WHERE collection = ? AND doc_id = ?`, ds.documentTableName)

	return ds.scanSingleDoc(ref, ds.db.QueryRowContext(ctx, query, ref.Collection, ref.ID))
}

// Query reads matching documents outside any transaction.
func (ds *DocumentStore) Query(ctx context.Context, query docstore.Query) (docstore.Documents, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	if ds.isClosed() {
		return nil, docstore.ErrStoreClosed
	}

	sqlQuery, args := ds.buildSelectManyQuery(query)

	rows, queryErr := ds.db.QueryContext(ctx, sqlQuery, args...)
	if queryErr != nil {
		ds.logError(logMsgDBQueryFailed, queryErr)
		return nil, errors.Join(docstore.ErrQueryingDocumentsFailed, queryErr)
	}
	defer func() { _ = rows.Close() }()

	return ds.scanManyDocs(query.Collection(), rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (ds *DocumentStore) scanSingleDoc(ref docstore.Ref, row rowScanner) (docstore.Document, bool, error) {
	var payloadJSON []byte
	var revision int64

	scanErr := row.Scan(&payloadJSON, &revision)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return docstore.Document{}, false, nil
	}
	if scanErr != nil {
		return docstore.Document{}, false, errors.Join(docstore.ErrScanningDBRowFailed, scanErr)
	}

	doc := docstore.Document{
		Ref:         ref,
		PayloadJSON: payloadJSON,
		Revision:    docstore.RevisionUint(revision),
	}

	return doc, true, nil
}

func (ds *DocumentStore) scanManyDocs(collection string, rows *sql.Rows) (docstore.Documents, error) {
	result := make(docstore.Documents, 0)

	for rows.Next() {
		var docID string
		var payloadJSON []byte
		var revision int64

		if scanErr := rows.Scan(&docID, &payloadJSON, &revision); scanErr != nil {
			return nil, errors.Join(docstore.ErrScanningDBRowFailed, scanErr)
		}

		result = append(result, docstore.Document{
			Ref:         docstore.NewRef(collection, docID),
			PayloadJSON: payloadJSON,
			Revision:    docstore.RevisionUint(revision),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Join(docstore.ErrQueryingDocumentsFailed, err)
	}

	return result, nil
}

// buildSelectManyQuery builds a select over one collection with json_extract
// equality predicates on top-level payload fields.
func (ds *DocumentStore) buildSelectManyQuery(query docstore.Query) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(query.Predicates())+1)

	fmt.Fprintf(&sb, `SELECT doc_id, payload, revision FROM %s WHERE collection = ?`, ds.documentTableName)
	args = append(args, query.Collection())

	for _, predicate := range query.Predicates() {
		fmt.Fprintf(&sb, ` AND json_extract(payload, '$.%s') = ?`, predicate.Field())
		args = append(args, predicate.Value())
	}

	sb.WriteString(` ORDER BY doc_id`)

	return sb.String(), args
}

func (ds *DocumentStore) logInfo(msg string, args ...any) {
	if ds.logger != nil {
		ds.logger.Info(msg, args...)
	}
}

func (ds *DocumentStore) logError(msg string, err error, args ...any) {
	if ds.logger != nil {
		allArgs := []any{logAttrError, err.Error()}
		allArgs = append(allArgs, args...)
		ds.logger.Error(msg, allArgs...)
	}
}

// isBusy reports whether an error is a SQLITE_BUSY lock contention error.
func isBusy(err error) bool {
	return err != nil && strings.Contains(err.Error(), sqliteBusyMarker)
}

// sqliteTx implements docstore.Tx on top of one open SQLite transaction.
// Partial updates merge JSON in Go, there is no jsonb operator here.
type sqliteTx struct {
	store *DocumentStore
	dbTx  *sql.Tx
	ctx   context.Context
}

// Get reads a single document inside the transaction.
func (tx *sqliteTx) Get(ref docstore.Ref) (docstore.Document, bool, error) {
	if err := ref.Validate(); err != nil {
		return docstore.Document{}, false, err
	}

	query := fmt.Sprintf(`SELECT payload, revision FROM %s WHERE collection = ? AND doc_id = ?`, tx.store.documentTableName)

	return tx.store.scanSingleDoc(ref, tx.dbTx.QueryRowContext(tx.ctx, query, ref.Collection, ref.ID))
}

// Set creates the document or replaces its whole payload.
func (tx *sqliteTx) Set(ref docstore.Ref, payloadJSON []byte) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	if !json.Valid(payloadJSON) {
		return docstore.ErrInvalidPayloadJSON
	}

	upsert := fmt.Sprintf(`INSERT INTO %s (collection, doc_id, payload, revision, updated_at)
		VALUES (?, ?, ?, 1, datetime('now'))
		ON CONFLICT (collection, doc_id) DO UPDATE SET
			payload = excluded.payload,
			revision = revision + 1,
			updated_at = excluded.updated_at`,
		tx.store.documentTableName)

	if _, err := tx.dbTx.ExecContext(tx.ctx, upsert, ref.Collection, ref.ID, string(payloadJSON)); err != nil {
		if isBusy(err) {
			return err // mapped to ErrTxConflict by RunTransaction
		}

		tx.store.logError(logMsgDBExecFailed, err)

		return errors.Join(docstore.ErrWritingDocumentFailed, err)
	}

	return nil
}

// Update merges the given top-level fields into the document's payload.
func (tx *sqliteTx) Update(ref docstore.Ref, fields map[string]any) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	doc, found, getErr := tx.Get(ref)
	if getErr != nil {
		return getErr
	}

	var baseJSON []byte
	if found {
		baseJSON = doc.PayloadJSON
	}

	merged := make(map[string]any)
	if len(baseJSON) > 0 {
		if err := jsoniter.ConfigFastest.Unmarshal(baseJSON, &merged); err != nil {
			return errors.Join(docstore.ErrInvalidPayloadJSON, err)
		}
	}

	for field, value := range fields {
		merged[field] = value
	}

	mergedJSON, marshalErr := jsoniter.ConfigFastest.Marshal(merged)
	if marshalErr != nil {
		return errors.Join(docstore.ErrInvalidPayloadJSON, marshalErr)
	}

	return tx.Set(ref, mergedJSON)
}

// Delete removes the document. Deleting an absent document is a no-op.
func (tx *sqliteTx) Delete(ref docstore.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	deleteStmt := fmt.Sprintf(`DELETE FROM %s WHERE collection = ? AND doc_id = ?`, tx.store.documentTableName)

	if _, err := tx.dbTx.ExecContext(tx.ctx, deleteStmt, ref.Collection, ref.ID); err != nil {
		if isBusy(err) {
			return err
		}

		return errors.Join(docstore.ErrWritingDocumentFailed, err)
	}

	return nil
}

// Query returns all documents of a collection matching the query predicates.
func (tx *sqliteTx) Query(query docstore.Query) (docstore.Documents, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	sqlQuery, args := tx.store.buildSelectManyQuery(query)

	rows, queryErr := tx.dbTx.QueryContext(tx.ctx, sqlQuery, args...)
	if queryErr != nil {
		return nil, errors.Join(docstore.ErrQueryingDocumentsFailed, queryErr)
	}
	defer func() { _ = rows.Close() }()

	return tx.store.scanManyDocs(query.Collection(), rows)
}
