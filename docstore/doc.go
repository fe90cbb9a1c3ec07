// Package docstore provides core abstractions and types for a transactional
// key-document store.
//
// This package defines the fundamental interfaces and types used across the
// different store engines, including document references, queries, and common
// error definitions.
//
// A store exposes atomic read-modify-write transactions over named documents:
// all reads inside a transaction observe a single consistent snapshot, all
// writes commit atomically or none do, and a transaction that detects a
// conflicting concurrent write fails with ErrTxConflict so that the caller can
// retry with fresh reads.
//
// Key types:
//   - Ref: Addresses a single document as collection/id
//   - Document: A versioned JSON payload read from or written to the store
//   - Query: Equality criteria for snapshot-consistent document queries
//   - Store / Tx: The store contract and its transaction handle
//
// Common usage pattern:
//
//	ref := docstore.NewRef("books", bookID)
//
//	err := docstore.RunTransactionWithRetry(ctx, store, func(tx docstore.Tx) error {
//		doc, found, err := tx.Get(ref)
//		if err != nil {
//			return err
//		}
//		// ... decide based on doc, then:
//		return tx.Update(ref, map[string]any{"available": false})
//	})
package docstore
