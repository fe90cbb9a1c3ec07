package docstore

import (
	"context"
)

// TransactionFunc is the body of a transaction. It receives the transaction
// handle and must confine all its side effects to documents read and written
// through that handle — no external I/O inside the function, it may run more
// than once when the commit detects a conflict.
type TransactionFunc = func(tx Tx) error

// Tx is the handle passed to a TransactionFunc.
//
// All reads observe the single consistent snapshot taken when the transaction
// started. Writes are buffered and become visible to other callers only when
// RunTransaction commits them atomically.
type Tx interface {
	// Get reads a single document. The second return value reports whether the
	// document exists; reading an absent document is not an error.
	Get(ref Ref) (Document, bool, error)

	// Set creates the document or replaces its whole payload.
	Set(ref Ref, payloadJSON []byte) error

	// Update merges the given top-level fields into the document's payload.
	// A nil field value writes JSON null. Updating an absent document creates it.
	Update(ref Ref, fields map[string]any) error

	// Delete removes the document. Deleting an absent document is a no-op.
	Delete(ref Ref) error

	// Query returns all documents of a collection matching the query predicates,
	// read from the transaction's snapshot.
	Query(query Query) (Documents, error)
}

// Store is the transactional key-document store consumed by the lending engine.
//
// Implementations must guarantee first-committer-wins conflict detection among
// racing transactions: of two transactions whose read/write sets overlap, the
// one committing second fails with ErrTxConflict.
type Store interface {
	// RunTransaction executes fn inside one atomic transaction.
	// On ErrTxConflict the caller must retry with fresh reads, see RunTransactionWithRetry.
	RunTransaction(ctx context.Context, fn TransactionFunc) error

	// Get reads a single document outside any transaction.
	Get(ctx context.Context, ref Ref) (Document, bool, error)

	// Query reads matching documents outside any transaction.
	Query(ctx context.Context, query Query) (Documents, error)

	// Watch subscribes to committed changes of a single document.
	// Delivery is latest-wins: intermediate revisions may be coalesced, but the
	// most recent committed revision is always eventually delivered.
	Watch(ctx context.Context, ref Ref) (Subscription, error)
}

// Subscription is a cancellable handle on a document watch.
type Subscription interface {
	// Updates returns the channel of document snapshots. The channel is closed
	// after Cancel or when the watch context ends.
	Updates() <-chan Document

	// Cancel stops the subscription and releases its resources.
	Cancel()
}
