package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/libraryops/lending-engine-go/docstore"
	"github.com/libraryops/lending-engine-go/lending"
)

const (
	opExpireReservation = "expire_reservation"

	logMsgSweepCandidateFailed = "expire sweep failed for reservation"
)

// ExpireSweep transitions every expired active or ready reservation to the
// terminal expired status and recomputes the affected book's availability.
//
// Each candidate gets its own small transaction, so the sweep never holds a
// lock across the whole candidate set and is safe to run repeatedly or
// concurrently with other sweeps: a candidate already swept by a racing pass
// is simply skipped. The number of reservations expired by this call is
// returned.
func (e *Engine) ExpireSweep(ctx context.Context) (int, error) {
	now := e.clock()
	candidateIDs := make([]string, 0)

	for _, status := range []lending.ReservationStatus{lending.ReservationStatusActive, lending.ReservationStatusReady} {
		docs, err := e.store.Query(ctx, docstore.BuildQuery(
			lending.CollectionReservations,
			docstore.P(lending.FieldStatus, string(status)),
		))
		if err != nil {
			return 0, err
		}

		for _, doc := range docs {
			reservation, parseErr := lending.ReservationFromPayload(doc.PayloadJSON)
			if parseErr != nil {
				e.logWarn(ctx, logMsgMalformedDocSkipped, logAttrReservationID, doc.Ref.ID, logAttrError, parseErr.Error())
				continue
			}

			if reservation.IsExpired(now) {
				candidateIDs = append(candidateIDs, reservation.ID)
			}
		}
	}

	swept := 0
	var firstErr error

	for _, reservationID := range candidateIDs {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}

		expired, err := e.expireOne(ctx, reservationID)
		if err != nil {
			e.logError(ctx, logMsgSweepCandidateFailed, err, logAttrReservationID, reservationID)

			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		if expired {
			swept++
		}
	}

	return swept, firstErr
}

// expireOne expires a single reservation in its own transaction. It re-reads
// the reservation and re-checks expiry against the snapshot, so a candidate
// that was cancelled, completed, or already expired in the meantime is left
// alone.
func (e *Engine) expireOne(ctx context.Context, reservationID string) (bool, error) {
	expired := false

	err := e.runWrite(ctx, opExpireReservation, func(tx docstore.Tx) error {
		expired = false

		reservation, err := e.readReservationTx(tx, reservationID)
		if err != nil {
			return err
		}

		if reservation.IsTerminal() || !reservation.IsExpired(e.clock()) {
			return nil
		}

		reservation.Status = lending.ReservationStatusExpired

		reservationJSON, err := reservation.PayloadJSON()
		if err != nil {
			return err
		}

		if err = tx.Set(lending.ReservationRef(reservation.ID), reservationJSON); err != nil {
			return err
		}

		if err = e.recomputeBookTx(tx, reservation.BookID, e.clock()); err != nil {
			return err
		}

		expired = true

		return nil
	})
	if err != nil {
		return false, err
	}

	return expired, nil
}

// RunSweeper runs ExpireSweep on the given interval until the context ends.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: sweep interval must be positive", lending.ErrValidation)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.ExpireSweep(ctx); err != nil && ctx.Err() == nil {
				e.logWarn(ctx, logMsgOperationFailed, logAttrOperation, "expire_sweep", logAttrError, err.Error())
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
