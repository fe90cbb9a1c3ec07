package lending

import "errors"

var (
	// ErrBookUnavailable is returned when a checkout hits a book whose
	// availability flag is false. Of two checkouts racing on the same book,
	// exactly one commits; the other observes the committed state on retry
	// and fails with this error.
	ErrBookUnavailable = errors.New("book is not available")

	// ErrAlreadyReturned is returned when returning or renewing a loan that
	// has already been returned. Returned loans are immutable.
	ErrAlreadyReturned = errors.New("loan has already been returned")

	// ErrAlreadyTerminal is returned when mutating a reservation that is
	// already cancelled, completed, or expired.
	ErrAlreadyTerminal = errors.New("reservation is already in a terminal state")

	// ErrDuplicateReservation is returned when a user already holds an
	// active, unexpired reservation for the same book.
	ErrDuplicateReservation = errors.New("an active reservation for this user and book already exists")

	// ErrBorrowLimitExceeded is returned when a checkout would exceed the
	// user's maximum number of open loans.
	ErrBorrowLimitExceeded = errors.New("borrow limit exceeded")

	// ErrReservationLimitExceeded is returned when a reservation would exceed
	// the user's maximum number of active reservations.
	ErrReservationLimitExceeded = errors.New("reservation limit exceeded")

	// ErrNotFound is returned when a referenced document is absent.
	ErrNotFound = errors.New("document not found")

	// ErrValidation is returned for malformed input, e.g. empty ids.
	ErrValidation = errors.New("validation failed")

	// ErrMalformedDocument is returned when a stored payload cannot be parsed
	// into a valid entity.
	ErrMalformedDocument = errors.New("malformed document payload")

	// ErrTransientFailure is returned when an operation exhausted its conflict
	// retries without committing. The operation had no effect and may be
	// safely re-invoked.
	ErrTransientFailure = errors.New("transient failure, retries exhausted")
)
