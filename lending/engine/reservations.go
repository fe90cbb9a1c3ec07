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
	opReserve             = "reserve"
	opCancelReservation   = "cancel_reservation"
	opMarkReady           = "mark_reservation_ready"
	opCompleteReservation = "complete_reservation"
)

// Reserve places a time-bounded hold on a book for a user.
//
// Reserving an unavailable book is allowed and queues the hold behind the open
// loan or earlier holds. When the book is available at reservation time, the
// same transaction claims the copy: the book flips unavailable and records the
// reservation as its current claimant. A second reservation for the same
// (user, book) pair fails with lending.ErrDuplicateReservation while the first
// one still blocks.
func (e *Engine) Reserve(ctx context.Context, userID string, bookID string) (lending.Reservation, error) {
	if userID == "" || bookID == "" {
		return lending.Reservation{}, fmt.Errorf("%w: user id and book id must not be empty", lending.ErrValidation)
	}

	var reservation lending.Reservation

	err := e.runWrite(ctx, opReserve, func(tx docstore.Tx) error {
		book, err := e.readBookTx(tx, bookID)
		if err != nil {
			return err
		}

		now := e.clock()

		if err = e.assertNoDuplicateReservationTx(tx, userID, bookID, now); err != nil {
			return err
		}

		if err = e.assertUnderReservationLimitTx(tx, userID, now); err != nil {
			return err
		}

		reservation, err = lending.NewReservation(userID, book, now, e.policy.ReservationTTL)
		if err != nil {
			return err
		}

		reservationJSON, err := reservation.PayloadJSON()
		if err != nil {
			return err
		}

		if err = tx.Set(lending.ReservationRef(reservation.ID), reservationJSON); err != nil {
			return err
		}

		if book.Available {
			return tx.Update(lending.BookRef(bookID), map[string]any{
				"available":            false,
				"currentReservationId": reservation.ID,
			})
		}

		return nil
	})
	if err != nil {
		return lending.Reservation{}, err
	}

	return reservation, nil
}

// CancelReservation cancels a non-terminal reservation and recomputes the
// book's availability in the same transaction.
func (e *Engine) CancelReservation(ctx context.Context, reservationID string) error {
	if reservationID == "" {
		return fmt.Errorf("%w: reservation id must not be empty", lending.ErrValidation)
	}

	return e.runWrite(ctx, opCancelReservation, func(tx docstore.Tx) error {
		reservation, err := e.readReservationTx(tx, reservationID)
		if err != nil {
			return err
		}

		if reservation.IsTerminal() {
			return fmt.Errorf("%w: reservation %s is %s", lending.ErrAlreadyTerminal, reservationID, reservation.Status)
		}

		reservation.Status = lending.ReservationStatusCancelled

		reservationJSON, err := reservation.PayloadJSON()
		if err != nil {
			return err
		}

		if err = tx.Set(lending.ReservationRef(reservation.ID), reservationJSON); err != nil {
			return err
		}

		return e.recomputeBookTx(tx, reservation.BookID, e.clock())
	})
}

// MarkReservationReady transitions an active reservation to ready for pickup.
// Marking an already-ready reservation is a no-op. Expired and terminal
// reservations cannot become ready.
func (e *Engine) MarkReservationReady(ctx context.Context, reservationID string) (lending.Reservation, error) {
	if reservationID == "" {
		return lending.Reservation{}, fmt.Errorf("%w: reservation id must not be empty", lending.ErrValidation)
	}

	var ready lending.Reservation

	err := e.runWrite(ctx, opMarkReady, func(tx docstore.Tx) error {
		reservation, err := e.readReservationTx(tx, reservationID)
		if err != nil {
			return err
		}

		if reservation.Status == lending.ReservationStatusReady {
			ready = reservation
			return nil
		}

		now := e.clock()

		if reservation.IsTerminal() || reservation.IsExpired(now) {
			return fmt.Errorf("%w: reservation %s", lending.ErrAlreadyTerminal, reservationID)
		}

		reservation.Status = lending.ReservationStatusReady

		reservationJSON, err := reservation.PayloadJSON()
		if err != nil {
			return err
		}

		if err = tx.Set(lending.ReservationRef(reservation.ID), reservationJSON); err != nil {
			return err
		}

		if err = e.recomputeBookTx(tx, reservation.BookID, now); err != nil {
			return err
		}

		ready = reservation

		return nil
	})
	if err != nil {
		return lending.Reservation{}, err
	}

	return ready, nil
}

// CompleteReservation fulfils a ready reservation: the holder picks up the
// held copy. In one transaction the reservation becomes completed and an
// active loan is created for the holder, subject to the borrow limit. The
// book stays unavailable, now on account of the loan.
func (e *Engine) CompleteReservation(ctx context.Context, reservationID string) (lending.Loan, error) {
	if reservationID == "" {
		return lending.Loan{}, fmt.Errorf("%w: reservation id must not be empty", lending.ErrValidation)
	}

	var loan lending.Loan

	err := e.runWrite(ctx, opCompleteReservation, func(tx docstore.Tx) error {
		reservation, err := e.readReservationTx(tx, reservationID)
		if err != nil {
			return err
		}

		if reservation.IsTerminal() {
			return fmt.Errorf("%w: reservation %s is %s", lending.ErrAlreadyTerminal, reservationID, reservation.Status)
		}

		now := e.clock()

		if reservation.IsExpired(now) {
			return fmt.Errorf("%w: reservation %s", lending.ErrAlreadyTerminal, reservationID)
		}

		if reservation.Status != lending.ReservationStatusReady {
			return fmt.Errorf("%w: reservation %s must be ready for pickup", lending.ErrValidation, reservationID)
		}

		if err = e.assertUnderLoanLimitTx(tx, reservation.UserID); err != nil {
			return err
		}

		book, err := e.readBookTx(tx, reservation.BookID)
		if err != nil {
			return err
		}

		loan, err = lending.NewLoan(reservation.UserID, book, now, e.policy.LoanPeriod)
		if err != nil {
			return err
		}

		loanJSON, err := loan.PayloadJSON()
		if err != nil {
			return err
		}

		if err = tx.Set(lending.LoanRef(loan.ID), loanJSON); err != nil {
			return err
		}

		reservation.Status = lending.ReservationStatusCompleted

		reservationJSON, err := reservation.PayloadJSON()
		if err != nil {
			return err
		}

		if err = tx.Set(lending.ReservationRef(reservation.ID), reservationJSON); err != nil {
			return err
		}

		return tx.Update(lending.BookRef(reservation.BookID), map[string]any{
			"available":            false,
			"currentReservationId": "",
		})
	})
	if err != nil {
		return lending.Loan{}, err
	}

	return loan, nil
}

// ActiveReservations returns the user's blocking reservations (active or
// ready, not yet expired), oldest first. It is a plain read, not a transaction.
func (e *Engine) ActiveReservations(ctx context.Context, userID string) ([]lending.Reservation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id must not be empty", lending.ErrValidation)
	}

	now := e.clock()
	blocking := make([]lending.Reservation, 0)

	for _, status := range []lending.ReservationStatus{lending.ReservationStatusActive, lending.ReservationStatusReady} {
		docs, err := e.store.Query(ctx, docstore.BuildQuery(
			lending.CollectionReservations,
			docstore.P(lending.FieldUserID, userID),
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

// readReservationTx reads and parses a reservation inside the transaction.
func (e *Engine) readReservationTx(tx docstore.Tx, reservationID string) (lending.Reservation, error) {
	doc, found, err := tx.Get(lending.ReservationRef(reservationID))
	if err != nil {
		return lending.Reservation{}, err
	}

	if !found {
		return lending.Reservation{}, fmt.Errorf("%w: reservation %s", lending.ErrNotFound, reservationID)
	}

	return lending.ReservationFromPayload(doc.PayloadJSON)
}

// assertNoDuplicateReservationTx rejects a second blocking reservation for the
// same (user, book) pair. An expired reservation still stored as active does
// not count, a fresh reservation may replace it before the sweeper runs.
func (e *Engine) assertNoDuplicateReservationTx(tx docstore.Tx, userID string, bookID string, now time.Time) error {
	for _, status := range []lending.ReservationStatus{lending.ReservationStatusActive, lending.ReservationStatusReady} {
		docs, err := tx.Query(docstore.BuildQuery(
			lending.CollectionReservations,
			docstore.P(lending.FieldUserID, userID),
			docstore.P(lending.FieldBookID, bookID),
			docstore.P(lending.FieldStatus, string(status)),
		))
		if err != nil {
			return err
		}

		for _, doc := range docs {
			reservation, parseErr := lending.ReservationFromPayload(doc.PayloadJSON)
			if parseErr != nil {
				return parseErr
			}

			if reservation.Blocks(now) {
				return fmt.Errorf("%w: user %s, book %s", lending.ErrDuplicateReservation, userID, bookID)
			}
		}
	}

	return nil
}

// assertUnderReservationLimitTx enforces the per-user cap on blocking
// reservations, symmetric with the loan limit and with the same in-transaction
// counting to close the read-then-write race.
func (e *Engine) assertUnderReservationLimitTx(tx docstore.Tx, userID string, now time.Time) error {
	count := 0

	for _, status := range []lending.ReservationStatus{lending.ReservationStatusActive, lending.ReservationStatusReady} {
		docs, err := tx.Query(docstore.BuildQuery(
			lending.CollectionReservations,
			docstore.P(lending.FieldUserID, userID),
			docstore.P(lending.FieldStatus, string(status)),
		))
		if err != nil {
			return err
		}

		for _, doc := range docs {
			reservation, parseErr := lending.ReservationFromPayload(doc.PayloadJSON)
			if parseErr != nil {
				return parseErr
			}

			if reservation.Blocks(now) {
				count++
			}
		}
	}

	if count >= e.policy.MaxActiveReservations {
		return fmt.Errorf("%w: user %s has %d active reservations, limit is %d",
			lending.ErrReservationLimitExceeded, userID, count, e.policy.MaxActiveReservations)
	}

	return nil
}

// promoteNextReservationTx promotes the oldest non-expired active reservation
// on the book to ready, so a returned copy is held for the next holder. If a
// ready reservation already exists nothing changes.
func (e *Engine) promoteNextReservationTx(tx docstore.Tx, bookID string, now time.Time) error {
	blocking, err := e.blockingReservationsForBookTx(tx, bookID, now)
	if err != nil {
		return err
	}

	var oldestActive *lending.Reservation

	for i := range blocking {
		if blocking[i].Status == lending.ReservationStatusReady {
			return nil
		}

		if oldestActive == nil {
			oldestActive = &blocking[i]
		}
	}

	if oldestActive == nil {
		return nil
	}

	oldestActive.Status = lending.ReservationStatusReady

	reservationJSON, err := oldestActive.PayloadJSON()
	if err != nil {
		return err
	}

	return tx.Set(lending.ReservationRef(oldestActive.ID), reservationJSON)
}
