package lending

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// ReservationStatus is the stored lifecycle state of a reservation.
//
// Transitions: active -> ready (marked ready for pickup), active -> cancelled,
// active/ready -> expired (sweeper), ready -> completed (fulfilled).
// Cancelled, completed, and expired are terminal.
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusReady     ReservationStatus = "ready"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusCompleted ReservationStatus = "completed"
	ReservationStatusExpired   ReservationStatus = "expired"
)

// Reservation is a time-bounded hold a user places on a book. At most one
// reservation per (user, book) pair may be active at a time. An expired
// reservation still stored as active or ready is inert: every reader treats
// it as non-blocking before the sweeper physically transitions it.
type Reservation struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId"`
	BookID     string            `json:"bookId"`
	BookTitle  string            `json:"bookTitle"`
	BookAuthor string            `json:"bookAuthor"`
	ReservedAt time.Time         `json:"reservedAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	Status     ReservationStatus `json:"status"`
}

// NewReservation creates an active reservation starting now with the given ttl.
func NewReservation(userID string, book Book, now time.Time, ttl time.Duration) (Reservation, error) {
	if userID == "" {
		return Reservation{}, fmt.Errorf("%w: user id must not be empty", ErrValidation)
	}

	if book.ID == "" {
		return Reservation{}, fmt.Errorf("%w: book id must not be empty", ErrValidation)
	}

	if ttl <= 0 {
		return Reservation{}, fmt.Errorf("%w: reservation ttl must be positive", ErrValidation)
	}

	reservationID, err := uuid.NewV7()
	if err != nil {
		return Reservation{}, fmt.Errorf("generating reservation id: %w", err)
	}

	return Reservation{
		ID:         reservationID.String(),
		UserID:     userID,
		BookID:     book.ID,
		BookTitle:  book.Title,
		BookAuthor: book.Author,
		ReservedAt: now,
		ExpiresAt:  now.Add(ttl),
		Status:     ReservationStatusActive,
	}, nil
}

// IsExpired reports whether the reservation's hold period has passed.
func (r Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// IsTerminal reports whether the reservation is cancelled, completed, or expired.
func (r Reservation) IsTerminal() bool {
	switch r.Status {
	case ReservationStatusCancelled, ReservationStatusCompleted, ReservationStatusExpired:
		return true
	default:
		return false
	}
}

// Blocks reports whether the reservation counts against the book's
// availability: active or ready, and not yet expired.
func (r Reservation) Blocks(now time.Time) bool {
	if r.Status != ReservationStatusActive && r.Status != ReservationStatusReady {
		return false
	}

	return !r.IsExpired(now)
}

// PayloadJSON serializes the reservation for storage.
func (r Reservation) PayloadJSON() ([]byte, error) {
	payloadJSON, err := jsoniter.ConfigFastest.Marshal(r)
	if err != nil {
		return nil, errors.Join(ErrMalformedDocument, err)
	}

	return payloadJSON, nil
}

// ReservationFromPayload parses and validates a stored reservation payload.
func ReservationFromPayload(payloadJSON []byte) (Reservation, error) {
	var reservation Reservation

	if err := jsoniter.ConfigFastest.Unmarshal(payloadJSON, &reservation); err != nil {
		return Reservation{}, errors.Join(ErrMalformedDocument, err)
	}

	if err := reservation.validateShape(); err != nil {
		return Reservation{}, err
	}

	return reservation, nil
}

func (r Reservation) validateShape() error {
	if r.ID == "" || r.UserID == "" || r.BookID == "" {
		return fmt.Errorf("%w: reservation payload is missing an id field", ErrMalformedDocument)
	}

	switch r.Status {
	case ReservationStatusActive, ReservationStatusReady,
		ReservationStatusCancelled, ReservationStatusCompleted, ReservationStatusExpired:
	default:
		return fmt.Errorf("%w: unknown reservation status %q", ErrMalformedDocument, r.Status)
	}

	if !r.ExpiresAt.After(r.ReservedAt) {
		return fmt.Errorf("%w: reservation expiry is not after reservation date", ErrMalformedDocument)
	}

	return nil
}
