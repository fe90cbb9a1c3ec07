// Package engine implements the transactional lifecycle operations of the
// lending system on top of a docstore.Store.
//
// Every mutation runs as one store transaction with bounded conflict retry:
// the transaction re-reads the affected book, loan, and reservation documents,
// re-validates the business rules against that snapshot, and commits all its
// writes atomically or none. Concurrent operations on the same book race on
// the commit; exactly one wins and the loser re-validates against the winner's
// committed state.
//
// The engine also carries the two background loops of the system: the
// reservation sweeper (RunSweeper), which transitions expired holds to their
// terminal state, and the availability reconciler (RunReconciler), which
// recomputes every book's derived availability flag from ground truth and
// self-heals any drift left behind by a crashed operation.
//
// Usage:
//
//	store := memoryengine.New()
//	eng, _ := engine.New(store, engine.WithPolicy(lending.DefaultPolicy()))
//
//	loan, err := eng.Checkout(ctx, bookID, userID)
//	switch {
//	case errors.Is(err, lending.ErrBookUnavailable):
//		// somebody else got there first
//	case errors.Is(err, lending.ErrBorrowLimitExceeded):
//		// user is at the open loan cap
//	}
package engine
