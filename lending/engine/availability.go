package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/libraryops/lending-engine-go/docstore"
	"github.com/libraryops/lending-engine-go/lending"
)

const (
	opRecomputeAvailability = "recompute_availability"

	logMsgReconcilePassFailed = "reconcile pass failed for book"
)

// RecomputeAvailability recomputes Book.Available from ground truth inside one
// transaction: the book is available exactly when it has no open loan and no
// blocking reservation. It is idempotent and is the authoritative
// reconciliation path when a lifecycle operation crashed mid-way and left the
// flag stale.
func (e *Engine) RecomputeAvailability(ctx context.Context, bookID string) error {
	if bookID == "" {
		return fmt.Errorf("%w: book id must not be empty", lending.ErrValidation)
	}

	return e.runWrite(ctx, opRecomputeAvailability, func(tx docstore.Tx) error {
		if _, err := e.readBookTx(tx, bookID); err != nil {
			return err
		}

		return e.recomputeBookTx(tx, bookID, e.clock())
	})
}

// ReconcileAll runs RecomputeAvailability for every book in the catalog, one
// transaction per book. Errors on individual books are logged and do not stop
// the pass; the first error is returned after the pass completes.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	docs, err := e.store.Query(ctx, docstore.BuildQuery(lending.CollectionBooks))
	if err != nil {
		return err
	}

	var firstErr error

	for _, doc := range docs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if recomputeErr := e.RecomputeAvailability(ctx, doc.Ref.ID); recomputeErr != nil {
			e.logError(ctx, logMsgReconcilePassFailed, recomputeErr, logAttrBookID, doc.Ref.ID)

			if firstErr == nil {
				firstErr = recomputeErr
			}
		}
	}

	return firstErr
}

// RunReconciler runs ReconcileAll on the given interval until the context
// ends. It is the self-healing backstop for availability drift; correctness
// does not depend on the watch surface.
func (e *Engine) RunReconciler(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: reconcile interval must be positive", lending.ErrValidation)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.ReconcileAll(ctx); err != nil && ctx.Err() == nil {
				e.logWarn(ctx, logMsgOperationFailed, logAttrOperation, "reconcile_all", logAttrError, err.Error())
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readBookTx reads and parses a book inside the transaction.
func (e *Engine) readBookTx(tx docstore.Tx, bookID string) (lending.Book, error) {
	doc, found, err := tx.Get(lending.BookRef(bookID))
	if err != nil {
		return lending.Book{}, err
	}

	if !found {
		return lending.Book{}, fmt.Errorf("%w: book %s", lending.ErrNotFound, bookID)
	}

	return lending.BookFromPayload(doc.PayloadJSON)
}

// openLoansForBookTx returns all open loans referencing the book.
func (e *Engine) openLoansForBookTx(tx docstore.Tx, bookID string) ([]lending.Loan, error) {
	docs, err := tx.Query(docstore.BuildQuery(
		lending.CollectionLoans,
		docstore.P(lending.FieldBookID, bookID),
		docstore.P(lending.FieldStatus, string(lending.LoanStatusActive)),
	))
	if err != nil {
		return nil, err
	}

	loans := make([]lending.Loan, 0, len(docs))

	for _, doc := range docs {
		loan, parseErr := lending.LoanFromPayload(doc.PayloadJSON)
		if parseErr != nil {
			return nil, parseErr
		}

		loans = append(loans, loan)
	}

	return loans, nil
}

// blockingReservationsForBookTx returns the book's reservations that block
// availability right now: status active or ready and not yet expired, oldest
// first. Expired reservations the sweeper has not visited yet are inert and
// excluded here.
func (e *Engine) blockingReservationsForBookTx(tx docstore.Tx, bookID string, now time.Time) ([]lending.Reservation, error) {
	blocking := make([]lending.Reservation, 0)

	for _, status := range []lending.ReservationStatus{lending.ReservationStatusActive, lending.ReservationStatusReady} {
		docs, err := tx.Query(docstore.BuildQuery(
			lending.CollectionReservations,
			docstore.P(lending.FieldBookID, bookID),
			docstore.P(lending.FieldStatus, string(status)),
		))
		if err != nil {
			return nil, err
		}

		for _, doc := range docs {
			reservation, parseErr := lending.ReservationFromPayload(doc.PayloadJSON)
			if parseErr != nil {
				return nil, parseErr
			}

			if reservation.Blocks(now) {
				blocking = append(blocking, reservation)
			}
		}
	}

	sort.Slice(blocking, func(i, j int) bool {
		return blocking[i].ReservedAt.Before(blocking[j].ReservedAt)
	})

	return blocking, nil
}

// recomputeBookTx derives and writes the book's availability from the loans
// and reservations visible to the transaction. The claimant recorded in
// currentReservationId is the oldest ready reservation if one blocks, else
// the oldest blocking active one while the book is not out on loan.
func (e *Engine) recomputeBookTx(tx docstore.Tx, bookID string, now time.Time) error {
	openLoans, err := e.openLoansForBookTx(tx, bookID)
	if err != nil {
		return err
	}

	blocking, err := e.blockingReservationsForBookTx(tx, bookID, now)
	if err != nil {
		return err
	}

	available := len(openLoans) == 0 && len(blocking) == 0

	claimant := ""
	if len(openLoans) == 0 {
		for _, reservation := range blocking {
			if reservation.Status == lending.ReservationStatusReady {
				claimant = reservation.ID
				break
			}
		}

		if claimant == "" && len(blocking) > 0 {
			claimant = blocking[0].ID
		}
	}

	return tx.Update(lending.BookRef(bookID), map[string]any{
		"available":            available,
		"currentReservationId": claimant,
	})
}
