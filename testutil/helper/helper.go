// Package helper provides shared fixtures for the engine and store tests:
// a controllable clock, Given-style builders that seed books, loans, and
// reservations through the store, and observability test doubles.
package helper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/libraryops/lending-engine-go/docstore"
	"github.com/libraryops/lending-engine-go/lending"
)

// FakeClock is a deterministic, advanceable time source for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the clock's current time. Pass the method value as the engine's clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// GivenUniqueID returns a fresh v7 uuid string for test entities.
func GivenUniqueID(t testing.TB) string {
	t.Helper()

	id, err := uuid.NewV7()
	require.NoError(t, err, "error in arranging test data")

	return id.String()
}

// GivenBookInCatalog seeds an available book document.
func GivenBookInCatalog(t testing.TB, ctx context.Context, store docstore.Store, bookID string, title string, author string) lending.Book {
	t.Helper()

	book, err := lending.NewBook(bookID, title, author)
	require.NoError(t, err, "error in arranging test data")

	writeEntity(t, ctx, store, lending.BookRef(book.ID), book)

	return book
}

// GivenUnavailableBook seeds a book document with the availability flag down.
func GivenUnavailableBook(t testing.TB, ctx context.Context, store docstore.Store, bookID string, title string, author string) lending.Book {
	t.Helper()

	book, err := lending.NewBook(bookID, title, author)
	require.NoError(t, err, "error in arranging test data")

	book.Available = false
	writeEntity(t, ctx, store, lending.BookRef(book.ID), book)

	return book
}

// GivenOpenLoan seeds an active loan for the user on the book, borrowed now.
func GivenOpenLoan(t testing.TB, ctx context.Context, store docstore.Store, userID string, book lending.Book, now time.Time) lending.Loan {
	t.Helper()

	loan, err := lending.NewLoan(userID, book, now, 14*24*time.Hour)
	require.NoError(t, err, "error in arranging test data")

	writeEntity(t, ctx, store, lending.LoanRef(loan.ID), loan)

	return loan
}

// GivenActiveReservation seeds an active reservation for the user on the book,
// reserved now with the given ttl.
func GivenActiveReservation(t testing.TB, ctx context.Context, store docstore.Store, userID string, book lending.Book, now time.Time, ttl time.Duration) lending.Reservation {
	t.Helper()

	reservation, err := lending.NewReservation(userID, book, now, ttl)
	require.NoError(t, err, "error in arranging test data")

	writeEntity(t, ctx, store, lending.ReservationRef(reservation.ID), reservation)

	return reservation
}

// GetBook reads and parses the book document, failing the test if it is absent.
func GetBook(t testing.TB, ctx context.Context, store docstore.Store, bookID string) lending.Book {
	t.Helper()

	doc, found, err := store.Get(ctx, lending.BookRef(bookID))
	require.NoError(t, err, "error reading book document")
	require.True(t, found, "book document should exist")

	book, err := lending.BookFromPayload(doc.PayloadJSON)
	require.NoError(t, err, "error parsing book document")

	return book
}

// GetReservation reads and parses the reservation document, failing the test
// if it is absent.
func GetReservation(t testing.TB, ctx context.Context, store docstore.Store, reservationID string) lending.Reservation {
	t.Helper()

	doc, found, err := store.Get(ctx, lending.ReservationRef(reservationID))
	require.NoError(t, err, "error reading reservation document")
	require.True(t, found, "reservation document should exist")

	reservation, err := lending.ReservationFromPayload(doc.PayloadJSON)
	require.NoError(t, err, "error parsing reservation document")

	return reservation
}

type payloadEntity interface {
	PayloadJSON() ([]byte, error)
}

func writeEntity(t testing.TB, ctx context.Context, store docstore.Store, ref docstore.Ref, entity payloadEntity) {
	t.Helper()

	payloadJSON, err := entity.PayloadJSON()
	require.NoError(t, err, "error in arranging test data")

	err = store.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Set(ref, payloadJSON)
	})
	require.NoError(t, err, "error in arranging test data")
}
