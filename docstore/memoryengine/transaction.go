package memoryengine

import (
	"encoding/json"

	"github.com/libraryops/lending-engine-go/docstore"
)

type writeKind int

const (
	writeKindSet writeKind = iota
	writeKindDelete
)

type writeOp struct {
	kind        writeKind
	payloadJSON []byte
}

type queryRead struct {
	query   docstore.Query
	matched map[docstore.Ref]docstore.RevisionUint
}

// transaction implements docstore.Tx over a point-in-time snapshot of the store.
//
// It records the revision of every document it touches (including revision 0
// for absent documents) and the matched set of every query, so that commit can
// detect any conflicting concurrent write.
type transaction struct {
	store      *DocumentStore
	snapshot   map[docstore.Ref]storedDoc
	observed   map[docstore.Ref]docstore.RevisionUint
	writes     map[docstore.Ref]writeOp
	queryReads []queryRead
}

// Get reads from pending writes first (read-your-writes), then from the snapshot.
func (tx *transaction) Get(ref docstore.Ref) (docstore.Document, bool, error) {
	if err := ref.Validate(); err != nil {
		return docstore.Document{}, false, err
	}

	tx.observe(ref)

	if write, pending := tx.writes[ref]; pending {
		if write.kind == writeKindDelete {
			return docstore.Document{}, false, nil
		}

		return docstore.Document{Ref: ref, PayloadJSON: write.payloadJSON}, true, nil
	}

	stored, found := tx.snapshot[ref]
	if !found {
		return docstore.Document{}, false, nil
	}

	return asDocument(ref, stored), true, nil
}

// Set buffers a create-or-replace of the whole document payload.
func (tx *transaction) Set(ref docstore.Ref, payloadJSON []byte) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	if !json.Valid(payloadJSON) {
		return docstore.ErrInvalidPayloadJSON
	}

	tx.observe(ref)
	tx.writes[ref] = writeOp{kind: writeKindSet, payloadJSON: payloadJSON}

	return nil
}

// Update merges top-level fields into the pending or snapshot payload of the document.
func (tx *transaction) Update(ref docstore.Ref, fields map[string]any) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	tx.observe(ref)

	baseJSON := tx.currentPayload(ref)

	mergedJSON, err := mergePayload(baseJSON, fields)
	if err != nil {
		return err
	}

	tx.writes[ref] = writeOp{kind: writeKindSet, payloadJSON: mergedJSON}

	return nil
}

// Delete buffers the removal of the document.
func (tx *transaction) Delete(ref docstore.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	tx.observe(ref)
	tx.writes[ref] = writeOp{kind: writeKindDelete}

	return nil
}

// Query evaluates the query against the snapshot overlaid with pending writes
// and records the matched snapshot revisions for conflict detection.
func (tx *transaction) Query(query docstore.Query) (docstore.Documents, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	matched := make(map[docstore.Ref]docstore.RevisionUint)
	result := make(docstore.Documents, 0)

	for ref, stored := range tx.snapshot {
		if ref.Collection != query.Collection() {
			continue
		}

		matches, err := payloadMatches(stored.payloadJSON, query.Predicates())
		if err != nil {
			return nil, err
		}

		if matches {
			matched[ref] = stored.revision

			if _, overwritten := tx.writes[ref]; !overwritten {
				result = append(result, asDocument(ref, stored))
			}
		}
	}

	tx.queryReads = append(tx.queryReads, queryRead{query: query, matched: matched})

	// Overlay pending writes of this transaction.
	for ref, write := range tx.writes {
		if ref.Collection != query.Collection() || write.kind == writeKindDelete {
			continue
		}

		matches, err := payloadMatches(write.payloadJSON, query.Predicates())
		if err != nil {
			return nil, err
		}

		if matches {
			result = append(result, docstore.Document{Ref: ref, PayloadJSON: write.payloadJSON})
		}
	}

	return result, nil
}

// observe records the snapshot revision of the document the first time it is touched.
func (tx *transaction) observe(ref docstore.Ref) {
	if _, seen := tx.observed[ref]; seen {
		return
	}

	tx.observed[ref] = tx.snapshot[ref].revision
}

// currentPayload returns the payload this transaction would read for the
// document: a pending write wins over the snapshot; absent documents yield nil.
func (tx *transaction) currentPayload(ref docstore.Ref) []byte {
	if write, pending := tx.writes[ref]; pending {
		if write.kind == writeKindDelete {
			return nil
		}

		return write.payloadJSON
	}

	return tx.snapshot[ref].payloadJSON
}
