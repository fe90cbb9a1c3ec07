package lending

import (
	"fmt"
	"time"
)

// Policy holds the borrow limits and durations the lifecycle managers enforce.
type Policy struct {
	// LoanPeriod is the time between checkout and due date.
	LoanPeriod time.Duration

	// MaxActiveLoans caps the number of open loans per user.
	MaxActiveLoans int

	// MaxActiveReservations caps the number of blocking reservations per user.
	MaxActiveReservations int

	// ReservationTTL is the time between reservation and expiry.
	ReservationTTL time.Duration
}

// DefaultPolicy returns the standard library policy: 14 day loans, 7 day
// reservation holds, at most 5 open loans and 3 active reservations per user.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriod:            14 * 24 * time.Hour,
		MaxActiveLoans:        5,
		MaxActiveReservations: 3,
		ReservationTTL:        7 * 24 * time.Hour,
	}
}

// Validate checks that all policy values are positive.
func (p Policy) Validate() error {
	if p.LoanPeriod <= 0 {
		return fmt.Errorf("%w: loan period must be positive", ErrValidation)
	}

	if p.MaxActiveLoans <= 0 {
		return fmt.Errorf("%w: max active loans must be positive", ErrValidation)
	}

	if p.MaxActiveReservations <= 0 {
		return fmt.Errorf("%w: max active reservations must be positive", ErrValidation)
	}

	if p.ReservationTTL <= 0 {
		return fmt.Errorf("%w: reservation ttl must be positive", ErrValidation)
	}

	return nil
}
