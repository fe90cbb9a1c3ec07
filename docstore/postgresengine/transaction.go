package postgresengine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/libraryops/lending-engine-go/docstore"
	"github.com/libraryops/lending-engine-go/docstore/postgresengine/internal/adapters"
)

// pgTx implements docstore.Tx on top of one open serializable transaction.
//
// Conflict detection is delegated to Postgres: under serializable isolation the
// database tracks the read and write sets (including predicate reads from
// queries), so no bookkeeping is needed here.
type pgTx struct {
	store DocumentStore
	dbTx  adapters.DBTx
	ctx   context.Context
}

// Get reads a single document from the transaction's snapshot.
func (tx *pgTx) Get(ref docstore.Ref) (docstore.Document, bool, error) {
	if err := ref.Validate(); err != nil {
		return docstore.Document{}, false, err
	}

	sqlQuery, buildErr := tx.store.buildSelectDocQuery(ref)
	if buildErr != nil {
		return docstore.Document{}, false, buildErr
	}

	return tx.store.fetchSingleDoc(tx.ctx, tx.dbTx.Query, ref, sqlQuery)
}

// Set creates the document or replaces its whole payload.
func (tx *pgTx) Set(ref docstore.Ref, payloadJSON []byte) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	if !json.Valid(payloadJSON) {
		return docstore.ErrInvalidPayloadJSON
	}

	sqlQuery, buildErr := tx.store.buildUpsertQuery(ref, payloadJSON, false)
	if buildErr != nil {
		return buildErr
	}

	return tx.exec(sqlQuery, logActionSet)
}

// Update merges the given top-level fields into the document's payload via jsonb concatenation.
func (tx *pgTx) Update(ref docstore.Ref, fields map[string]any) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	payloadJSON, marshalErr := marshalFields(fields)
	if marshalErr != nil {
		return marshalErr
	}

	sqlQuery, buildErr := tx.store.buildUpsertQuery(ref, payloadJSON, true)
	if buildErr != nil {
		return buildErr
	}

	return tx.exec(sqlQuery, logActionUpdate)
}

// Delete removes the document.
func (tx *pgTx) Delete(ref docstore.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	sqlQuery, buildErr := tx.store.buildDeleteQuery(ref)
	if buildErr != nil {
		return buildErr
	}

	return tx.exec(sqlQuery, logActionDelete)
}

// Query returns all documents of a collection matching the query predicates,
// read from the transaction's snapshot.
func (tx *pgTx) Query(query docstore.Query) (docstore.Documents, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	sqlQuery, buildErr := tx.store.buildSelectManyQuery(query)
	if buildErr != nil {
		return nil, buildErr
	}

	return tx.store.fetchManyDocs(tx.ctx, tx.dbTx.Query, query.Collection(), sqlQuery)
}

func (tx *pgTx) exec(sqlQuery sqlQueryString, action string) error {
	start := time.Now()
	_, execErr := tx.dbTx.Exec(tx.ctx, sqlQuery)
	tx.store.logQueryWithDuration(tx.ctx, sqlQuery, action, time.Since(start))

	if execErr != nil {
		if adapters.IsSerializationFailure(execErr) {
			return execErr // mapped to ErrTxConflict by RunTransaction
		}

		tx.store.logError(tx.ctx, logMsgDBExecFailed, execErr, logAttrQuery, sqlQuery)

		return errors.Join(docstore.ErrWritingDocumentFailed, execErr)
	}

	return nil
}
