package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libraryops/lending-engine-go/lending"
	"github.com/libraryops/lending-engine-go/testutil/helper"
)

func Test_Reserve_ClaimsAvailableBook(t *testing.T) {
	// setup
	eng, store, _ := newEngineWithStore(t)
	ctx := context.Background()
	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")
	userID := helper.GivenUniqueID(t)

	// act
	reservation, err := eng.Reserve(ctx, userID, book.ID)

	// assert
	require.NoError(t, err, "reserving an available book should succeed")
	assert.Equal(t, lending.ReservationStatusActive, reservation.Status)
	assert.Equal(t, testStart, reservation.ReservedAt)
	assert.Equal(t, testStart.Add(7*24*time.Hour), reservation.ExpiresAt, "expiry should follow the default policy")

	storedBook := helper.GetBook(t, ctx, store, book.ID)
	assert.False(t, storedBook.Available, "a hold on an available copy claims it")
	assert.Equal(t, reservation.ID, storedBook.CurrentReservationID)
}

func Test_Reserve_QueuesOnUnavailableBook(t *testing.T) {
	// setup
	eng, store, _ := newEngineWithStore(t)
	ctx := context.Background()
	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")

	_, err := eng.Checkout(ctx, book.ID, helper.GivenUniqueID(t))
	require.NoError(t, err)

	// act
	reservation, err := eng.Reserve(ctx, helper.GivenUniqueID(t), book.ID)

	// assert
	require.NoError(t, err, "reserving an unavailable book queues the hold")
	assert.Equal(t, lending.ReservationStatusActive, reservation.Status)

	storedBook := helper.GetBook(t, ctx, store, book.ID)
	assert.False(t, storedBook.Available)
	assert.Empty(t, storedBook.CurrentReservationID, "a queued hold does not claim the lent copy")
}

func Test_Reserve_DuplicateFailsWhileFirstBlocks(t *testing.T) {
	// setup
	eng, store, _ := newEngineWithStore(t)
	ctx := context.Background()
	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")
	userID := helper.GivenUniqueID(t)

	_, err := eng.Reserve(ctx, userID, book.ID)
	require.NoError(t, err)

	// act
	_, err = eng.Reserve(ctx, userID, book.ID)

	// assert
	assert.ErrorIs(t, err, lending.ErrDuplicateReservation)
}

func Test_Reserve_SucceedsAgainAfterFirstExpires(t *testing.T) {
	// setup: the first hold expires before the sweeper has visited it
	eng, store, clock := newEngineWithStore(t)
	ctx := context.Background()
	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")
	userID := helper.GivenUniqueID(t)

	first, err := eng.Reserve(ctx, userID, book.ID)
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)

	// act
	second, err := eng.Reserve(ctx, userID, book.ID)

	// assert
	require.NoError(t, err, "an expired hold is inert even while still stored as active")
	assert.NotEqual(t, first.ID, second.ID)
}

func Test_Reserve_EnforcesReservationLimit(t *testing.T) {
	// setup: the user already holds the maximum of 3 active reservations
	eng, store, _ := newEngineWithStore(t)
	ctx := context.Background()
	userID := helper.GivenUniqueID(t)

	for i := 0; i < 3; i++ {
		other := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Filler", "Author")
		helper.GivenActiveReservation(t, ctx, store, userID, other, testStart, 7*24*time.Hour)
	}

	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")

	// act
	_, err := eng.Reserve(ctx, userID, book.ID)

	// assert
	assert.ErrorIs(t, err, lending.ErrReservationLimitExceeded)
}

func Test_CancelReservation_FreesClaimedBook(t *testing.T) {
	// setup
	eng, store, _ := newEngineWithStore(t)
	ctx := context.Background()
	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")

	reservation, err := eng.Reserve(ctx, helper.GivenUniqueID(t), book.ID)
	require.NoError(t, err)

	// act
	err = eng.CancelReservation(ctx, reservation.ID)

	// assert
	require.NoError(t, err, "cancelling an active hold should succeed")

	cancelled := helper.GetReservation(t, ctx, store, reservation.ID)
	assert.Equal(t, lending.ReservationStatusCancelled, cancelled.Status)

	storedBook := helper.GetBook(t, ctx, store, book.ID)
	assert.True(t, storedBook.Available, "the claim must be released")
	assert.Empty(t, storedBook.CurrentReservationID)
}

func Test_CancelReservation_FailsOnTerminalReservation(t *testing.T) {
	// setup
	eng, store, _ := newEngineWithStore(t)
	ctx := context.Background()
	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")

	reservation, err := eng.Reserve(ctx, helper.GivenUniqueID(t), book.ID)
	require.NoError(t, err)
	require.NoError(t, eng.CancelReservation(ctx, reservation.ID))

	// act
	err = eng.CancelReservation(ctx, reservation.ID)

	// assert
	assert.ErrorIs(t, err, lending.ErrAlreadyTerminal, "terminal states are immutable")
}

func Test_CancelReservation_FailsForUnknownReservation(t *testing.T) {
	// setup
	eng, _, _ := newEngineWithStore(t)

	// act
	err := eng.CancelReservation(context.Background(), helper.GivenUniqueID(t))

	// assert
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func Test_MarkReservationReady_TransitionsActiveHold(t *testing.T) {
	// setup
	eng, store, _ := newEngineWithStore(t)
	ctx := context.Background()
	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")

	reservation, err := eng.Reserve(ctx, helper.GivenUniqueID(t), book.ID)
	require.NoError(t, err)

	// act
	ready, err := eng.MarkReservationReady(ctx, reservation.ID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, lending.ReservationStatusReady, ready.Status)

	storedBook := helper.GetBook(t, ctx, store, book.ID)
	assert.False(t, storedBook.Available, "a ready hold still blocks availability")
	assert.Equal(t, reservation.ID, storedBook.CurrentReservationID)
}

func Test_MarkReservationReady_IsIdempotent(t *testing.T) {
	// setup
	eng, store, _ := newEngineWithStore(t)
	ctx := context.Background()
	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")

	reservation, err := eng.Reserve(ctx, helper.GivenUniqueID(t), book.ID)
	require.NoError(t, err)
	_, err = eng.MarkReservationReady(ctx, reservation.ID)
	require.NoError(t, err)

	// act
	ready, err := eng.MarkReservationReady(ctx, reservation.ID)

	// assert
	require.NoError(t, err, "marking an already-ready hold is a no-op")
	assert.Equal(t, lending.ReservationStatusReady, ready.Status)
}

func Test_MarkReservationReady_FailsOnExpiredHold(t *testing.T) {
	// setup
	eng, store, clock := newEngineWithStore(t)
	ctx := context.Background()
	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")

	reservation, err := eng.Reserve(ctx, helper.GivenUniqueID(t), book.ID)
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)

	// act
	_, err = eng.MarkReservationReady(ctx, reservation.ID)

	// assert
	assert.ErrorIs(t, err, lending.ErrAlreadyTerminal, "an expired hold cannot become ready")
}

func Test_CompleteReservation_CreatesLoanForHolder(t *testing.T) {
	// setup
	eng, store, _ := newEngineWithStore(t)
	ctx := context.Background()
	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")
	userID := helper.GivenUniqueID(t)

	reservation, err := eng.Reserve(ctx, userID, book.ID)
	require.NoError(t, err)
	_, err = eng.MarkReservationReady(ctx, reservation.ID)
	require.NoError(t, err)

	// act
	loan, err := eng.CompleteReservation(ctx, reservation.ID)

	// assert
	require.NoError(t, err, "fulfilling a ready hold should succeed")
	assert.Equal(t, userID, loan.UserID)
	assert.Equal(t, book.ID, loan.BookID)
	assert.Equal(t, lending.LoanStatusActive, loan.Status)

	completed := helper.GetReservation(t, ctx, store, reservation.ID)
	assert.Equal(t, lending.ReservationStatusCompleted, completed.Status)

	storedBook := helper.GetBook(t, ctx, store, book.ID)
	assert.False(t, storedBook.Available, "the book is now out on the fulfilment loan")
	assert.Empty(t, storedBook.CurrentReservationID, "the claim moves from the hold to the loan")
}

func Test_CompleteReservation_RequiresReadyStatus(t *testing.T) {
	// setup
	eng, store, _ := newEngineWithStore(t)
	ctx := context.Background()
	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")

	reservation, err := eng.Reserve(ctx, helper.GivenUniqueID(t), book.ID)
	require.NoError(t, err)

	// act: the hold is still active, not ready for pickup
	_, err = eng.CompleteReservation(ctx, reservation.ID)

	// assert
	assert.ErrorIs(t, err, lending.ErrValidation)
}

func Test_ActiveReservations_ExcludesExpiredHolds(t *testing.T) {
	// setup
	eng, store, clock := newEngineWithStore(t)
	ctx := context.Background()
	userID := helper.GivenUniqueID(t)

	bookOne := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "First", "Author")
	_, err := eng.Reserve(ctx, userID, bookOne.ID)
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)

	bookTwo := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Second", "Author")
	fresh, err := eng.Reserve(ctx, userID, bookTwo.ID)
	require.NoError(t, err)

	// act
	reservations, err := eng.ActiveReservations(ctx, userID)

	// assert
	require.NoError(t, err)
	require.Len(t, reservations, 1, "expired holds are inert for every reader")
	assert.Equal(t, fresh.ID, reservations[0].ID)
}
