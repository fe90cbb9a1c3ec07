package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"

	"github.com/libraryops/lending-engine-go/docstore"
	"github.com/libraryops/lending-engine-go/docstore/postgresengine/internal/adapters"
)

const (
	defaultDocumentTableName = "documents"
	defaultWatchPollInterval = 250 * time.Millisecond

	logMsgBuildQueryFailed    = "failed to build sql query"
	logMsgDBQueryFailed       = "database query execution failed"
	logMsgDBExecFailed        = "database execution failed during document write"
	logMsgCloseRowsFailed     = "failed to close database rows"
	logMsgScanRowFailed       = "failed to scan database row"
	logMsgBeginTxFailed       = "failed to begin transaction"
	logMsgCommitTxFailed      = "failed to commit transaction"
	logMsgRollbackTxFailed    = "failed to roll back transaction"
	logMsgTxConflictDetected  = "transaction conflict detected"
	logMsgTransactionComplete = "transaction completed"
	logMsgSQLExecuted         = "executed sql for: "
	logMsgOperation           = "docstore operation: "
	logAttrError              = "error"
	logAttrQuery              = "query"
	logAttrCollection         = "collection"
	logAttrDocID              = "doc_id"
	logAttrDurationMS         = "duration_ms"
	logActionGet              = "get"
	logActionQuery            = "query"
	logActionSet              = "set"
	logActionUpdate           = "update"
	logActionDelete           = "delete"

	colCollection = "collection"
	colDocID      = "doc_id"
	colPayload    = "payload"
	colRevision   = "revision"
	colUpdatedAt  = "updated_at"

	dialectPostgres      = "postgres"
	castText             = "?::text"
	castJsonb            = "?::jsonb"
	conflictTargetPK     = "collection, doc_id"
	fnNow                = "now()"
	containmentPredicate = `%s @> '{"%s": "%s"}'`
)

type sqlQueryString = string

// DocumentStore is the Postgres-backed engine for the docstore contract.
//
// Documents live in a single table keyed by (collection, doc_id) with a jsonb
// payload and a revision counter bumped on every write. Transactions run at
// serializable isolation, so racing transactions with overlapping read/write
// sets fail with docstore.ErrTxConflict on commit and must be retried.
type DocumentStore struct {
	db                adapters.DBAdapter
	documentTableName string
	watchPollInterval time.Duration
	logger            docstore.Logger
	contextualLogger  docstore.ContextualLogger
	metricsCollector  docstore.MetricsCollector
	tracingCollector  docstore.TracingCollector
}

// NewDocumentStoreFromPGXPool creates a new DocumentStore using a pgx Pool with optional configuration.
func NewDocumentStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (DocumentStore, error) {
	if db == nil {
		return DocumentStore{}, docstore.ErrNilDatabaseConnection
	}

	return newDocumentStore(adapters.NewPGXAdapter(db), options...)
}

// NewDocumentStoreFromSQLDB creates a new DocumentStore using a sql.DB with optional configuration.
func NewDocumentStoreFromSQLDB(db *sql.DB, options ...Option) (DocumentStore, error) {
	if db == nil {
		return DocumentStore{}, docstore.ErrNilDatabaseConnection
	}

	return newDocumentStore(adapters.NewSQLAdapter(db), options...)
}

// NewDocumentStoreFromSQLX creates a new DocumentStore using a sqlx.DB with optional configuration.
func NewDocumentStoreFromSQLX(db *sqlx.DB, options ...Option) (DocumentStore, error) {
	if db == nil {
		return DocumentStore{}, docstore.ErrNilDatabaseConnection
	}

	return newDocumentStore(adapters.NewSQLXAdapter(db), options...)
}

func newDocumentStore(db adapters.DBAdapter, options ...Option) (DocumentStore, error) {
	store := DocumentStore{
		db:                db,
		documentTableName: defaultDocumentTableName,
		watchPollInterval: defaultWatchPollInterval,
	}

	for _, option := range options {
		if err := option(&store); err != nil {
			return DocumentStore{}, err
		}
	}

	return store, nil
}

// EnsureSchema creates the document table and its supporting index if they do not exist yet.
func (ds DocumentStore) EnsureSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			%s text NOT NULL,
			%s text NOT NULL,
			%s jsonb NOT NULL,
			%s bigint NOT NULL,
			%s timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (%s, %s)
		)`,
		ds.documentTableName,
		colCollection, colDocID, colPayload, colRevision, colUpdatedAt,
		colCollection, colDocID,
	)

	if _, err := ds.db.Exec(ctx, createTable); err != nil {
		return errors.Join(docstore.ErrWritingDocumentFailed, err)
	}

	createIndex := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_payload_idx ON %s USING gin (%s)`,
		ds.documentTableName, ds.documentTableName, colPayload,
	)

	if _, err := ds.db.Exec(ctx, createIndex); err != nil {
		return errors.Join(docstore.ErrWritingDocumentFailed, err)
	}

	return nil
}

// RunTransaction executes fn inside one serializable Postgres transaction.
// Serialization failures from any statement or from the commit are mapped to
// docstore.ErrTxConflict, ready for docstore.RunTransactionWithRetry.
func (ds DocumentStore) RunTransaction(ctx context.Context, fn docstore.TransactionFunc) error {
	start := time.Now()
	ctx, span := ds.startTraceSpan(ctx, spanNameTransaction)

	dbTx, beginErr := ds.db.BeginSerializableTx(ctx)
	if beginErr != nil {
		ds.logError(ctx, logMsgBeginTxFailed, beginErr)
		ds.finishTraceSpan(span, statusError)

		return errors.Join(docstore.ErrBeginningTransactionFailed, beginErr)
	}

	tx := &pgTx{store: ds, dbTx: dbTx, ctx: ctx}

	if fnErr := fn(tx); fnErr != nil {
		ds.rollback(ctx, dbTx)
		ds.finishTraceSpan(span, statusError)

		return ds.mapConflict(ctx, fnErr)
	}

	if commitErr := dbTx.Commit(ctx); commitErr != nil {
		ds.rollback(ctx, dbTx)

		if adapters.IsSerializationFailure(commitErr) {
			ds.recordConflictMetrics(ctx)
			ds.logInfo(ctx, logMsgTxConflictDetected, logAttrError, commitErr.Error())
			ds.finishTraceSpan(span, statusConflict)

			return errors.Join(docstore.ErrTxConflict, commitErr)
		}

		ds.logError(ctx, logMsgCommitTxFailed, commitErr)
		ds.finishTraceSpan(span, statusError)

		return errors.Join(docstore.ErrCommittingTransactionFailed, commitErr)
	}

	ds.recordDurationMetrics(ctx, metricTransactionDuration, time.Since(start), statusSuccess)
	ds.logOperation(ctx, logMsgTransactionComplete, logAttrDurationMS, ds.toMilliseconds(time.Since(start)))
	ds.finishTraceSpan(span, statusSuccess)

	return nil
}

// Get reads a single document outside any transaction.
func (ds DocumentStore) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, bool, error) {
	if err := ref.Validate(); err != nil {
		return docstore.Document{}, false, err
	}

	sqlQuery, buildErr := ds.buildSelectDocQuery(ref)
	if buildErr != nil {
		return docstore.Document{}, false, buildErr
	}

	return ds.fetchSingleDoc(ctx, ds.db.Query, ref, sqlQuery)
}

// Query reads matching documents outside any transaction.
func (ds DocumentStore) Query(ctx context.Context, query docstore.Query) (docstore.Documents, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	sqlQuery, buildErr := ds.buildSelectManyQuery(query)
	if buildErr != nil {
		return nil, buildErr
	}

	return ds.fetchManyDocs(ctx, ds.db.Query, query.Collection(), sqlQuery)
}

type queryFunc = func(ctx context.Context, query string) (adapters.DBRows, error)

// fetchSingleDoc executes a single-document select through the given query function.
func (ds DocumentStore) fetchSingleDoc(
	ctx context.Context,
	runQuery queryFunc,
	ref docstore.Ref,
	sqlQuery sqlQueryString,
) (docstore.Document, bool, error) {

	start := time.Now()
	rows, queryErr := runQuery(ctx, sqlQuery)
	ds.logQueryWithDuration(ctx, sqlQuery, logActionGet, time.Since(start))

	if queryErr != nil {
		ds.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		return docstore.Document{}, false, errors.Join(docstore.ErrQueryingDocumentsFailed, queryErr)
	}
	defer ds.closeRows(ctx, rows)

	if !rows.Next() {
		return docstore.Document{}, false, nil
	}

	var payloadJSON []byte
	var revision int64

	if scanErr := rows.Scan(&payloadJSON, &revision); scanErr != nil {
		ds.logError(ctx, logMsgScanRowFailed, scanErr)
		return docstore.Document{}, false, errors.Join(docstore.ErrScanningDBRowFailed, scanErr)
	}

	doc := docstore.Document{
		Ref:         ref,
		PayloadJSON: payloadJSON,
		Revision:    docstore.RevisionUint(revision),
	}

	return doc, true, nil
}

// fetchManyDocs executes a multi-document select through the given query function.
func (ds DocumentStore) fetchManyDocs(
	ctx context.Context,
	runQuery queryFunc,
	collection string,
	sqlQuery sqlQueryString,
) (docstore.Documents, error) {

	start := time.Now()
	rows, queryErr := runQuery(ctx, sqlQuery)
	ds.logQueryWithDuration(ctx, sqlQuery, logActionQuery, time.Since(start))

	if queryErr != nil {
		ds.logError(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		return nil, errors.Join(docstore.ErrQueryingDocumentsFailed, queryErr)
	}
	defer ds.closeRows(ctx, rows)

	result := make(docstore.Documents, 0)

	for rows.Next() {
		var docID string
		var payloadJSON []byte
		var revision int64

		if scanErr := rows.Scan(&docID, &payloadJSON, &revision); scanErr != nil {
			ds.logError(ctx, logMsgScanRowFailed, scanErr)
			return nil, errors.Join(docstore.ErrScanningDBRowFailed, scanErr)
		}

		result = append(result, docstore.Document{
			Ref:         docstore.NewRef(collection, docID),
			PayloadJSON: payloadJSON,
			Revision:    docstore.RevisionUint(revision),
		})
	}

	return result, nil
}

// rollback rolls a transaction back and logs failures; rollback errors never mask the original error.
func (ds DocumentStore) rollback(ctx context.Context, dbTx adapters.DBTx) {
	if rollbackErr := dbTx.Rollback(ctx); rollbackErr != nil {
		ds.logWarn(ctx, logMsgRollbackTxFailed, logAttrError, rollbackErr.Error())
	}
}

// mapConflict converts serialization failures bubbling out of fn into ErrTxConflict.
func (ds DocumentStore) mapConflict(ctx context.Context, err error) error {
	if adapters.IsSerializationFailure(err) {
		ds.recordConflictMetrics(ctx)
		ds.logInfo(ctx, logMsgTxConflictDetected, logAttrError, err.Error())

		return errors.Join(docstore.ErrTxConflict, err)
	}

	return err
}

func (ds DocumentStore) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		ds.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

func (ds DocumentStore) buildSelectDocQuery(ref docstore.Ref) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(ds.documentTableName).
		Select(colPayload, colRevision).
		Where(goqu.Ex{colCollection: ref.Collection, colDocID: ref.ID})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		ds.logError(context.Background(), logMsgBuildQueryFailed, toSQLErr)
		return "", errors.Join(docstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (ds DocumentStore) buildSelectManyQuery(query docstore.Query) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(ds.documentTableName).
		Select(colDocID, colPayload, colRevision).
		Where(goqu.Ex{colCollection: query.Collection()}).
		Order(goqu.I(colDocID).Asc())

	for _, predicate := range query.Predicates() {
		selectStmt = selectStmt.Where(
			goqu.L(fmt.Sprintf(containmentPredicate, colPayload, predicate.Field(), predicate.Value())),
		)
	}

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		ds.logError(context.Background(), logMsgBuildQueryFailed, toSQLErr)
		return "", errors.Join(docstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (ds DocumentStore) buildUpsertQuery(ref docstore.Ref, payloadJSON []byte, merge bool) (sqlQueryString, error) {
	builder := goqu.Dialect(dialectPostgres)

	payloadUpdate := goqu.L("EXCLUDED." + colPayload)
	if merge {
		payloadUpdate = goqu.L(fmt.Sprintf("%s.%s || EXCLUDED.%s", ds.documentTableName, colPayload, colPayload))
	}

	insertStmt := builder.
		Insert(ds.documentTableName).
		Cols(colCollection, colDocID, colPayload, colRevision).
		Vals(goqu.Vals{
			goqu.L(castText, ref.Collection),
			goqu.L(castText, ref.ID),
			goqu.L(castJsonb, string(payloadJSON)),
			1,
		}).
		OnConflict(goqu.DoUpdate(conflictTargetPK, goqu.Record{
			colPayload:   payloadUpdate,
			colRevision:  goqu.L(fmt.Sprintf("%s.%s + 1", ds.documentTableName, colRevision)),
			colUpdatedAt: goqu.L(fnNow),
		}))

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		ds.logError(context.Background(), logMsgBuildQueryFailed, toSQLErr)
		return "", errors.Join(docstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (ds DocumentStore) buildDeleteQuery(ref docstore.Ref) (sqlQueryString, error) {
	deleteStmt := goqu.Dialect(dialectPostgres).
		Delete(ds.documentTableName).
		Where(goqu.Ex{colCollection: ref.Collection, colDocID: ref.ID})

	sqlQuery, _, toSQLErr := deleteStmt.ToSQL()
	if toSQLErr != nil {
		ds.logError(context.Background(), logMsgBuildQueryFailed, toSQLErr)
		return "", errors.Join(docstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

// marshalFields turns an Update's field map into a JSON payload for the jsonb merge.
func marshalFields(fields map[string]any) ([]byte, error) {
	payloadJSON, err := jsoniter.ConfigFastest.Marshal(fields)
	if err != nil {
		return nil, errors.Join(docstore.ErrInvalidPayloadJSON, err)
	}

	return payloadJSON, nil
}
