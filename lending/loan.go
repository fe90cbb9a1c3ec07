package lending

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// LoanStatus is the stored lifecycle state of a loan.
// Overdue is intentionally not a status: it is a display fact computed from
// the due date and never blocks a transition.
type LoanStatus string

const (
	LoanStatusActive   LoanStatus = "active"
	LoanStatusReturned LoanStatus = "returned"
)

// Loan records a book checked out by a user. Title and author are denormalized
// for display. A loan is open until ReturnedAt is set; returned loans are
// immutable.
type Loan struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	BookID     string     `json:"bookId"`
	BookTitle  string     `json:"bookTitle"`
	BookAuthor string     `json:"bookAuthor"`
	BorrowedAt time.Time  `json:"borrowedAt"`
	DueDate    time.Time  `json:"dueDate"`
	ReturnedAt *time.Time `json:"returnedAt,omitempty"`
	Status     LoanStatus `json:"status"`
}

// NewLoan creates an active loan starting now with the given loan period.
func NewLoan(userID string, book Book, now time.Time, loanPeriod time.Duration) (Loan, error) {
	if userID == "" {
		return Loan{}, fmt.Errorf("%w: user id must not be empty", ErrValidation)
	}

	if book.ID == "" {
		return Loan{}, fmt.Errorf("%w: book id must not be empty", ErrValidation)
	}

	if loanPeriod <= 0 {
		return Loan{}, fmt.Errorf("%w: loan period must be positive", ErrValidation)
	}

	loanID, err := uuid.NewV7()
	if err != nil {
		return Loan{}, fmt.Errorf("generating loan id: %w", err)
	}

	return Loan{
		ID:         loanID.String(),
		UserID:     userID,
		BookID:     book.ID,
		BookTitle:  book.Title,
		BookAuthor: book.Author,
		BorrowedAt: now,
		DueDate:    now.Add(loanPeriod),
		Status:     LoanStatusActive,
	}, nil
}

// IsOpen reports whether the loan has not been returned yet.
func (l Loan) IsOpen() bool {
	return l.ReturnedAt == nil
}

// IsOverdue reports whether the loan is open past its due date.
func (l Loan) IsOverdue(now time.Time) bool {
	return l.IsOpen() && now.After(l.DueDate)
}

// PayloadJSON serializes the loan for storage.
func (l Loan) PayloadJSON() ([]byte, error) {
	payloadJSON, err := jsoniter.ConfigFastest.Marshal(l)
	if err != nil {
		return nil, errors.Join(ErrMalformedDocument, err)
	}

	return payloadJSON, nil
}

// LoanFromPayload parses and validates a stored loan payload.
func LoanFromPayload(payloadJSON []byte) (Loan, error) {
	var loan Loan

	if err := jsoniter.ConfigFastest.Unmarshal(payloadJSON, &loan); err != nil {
		return Loan{}, errors.Join(ErrMalformedDocument, err)
	}

	if err := loan.validateShape(); err != nil {
		return Loan{}, err
	}

	return loan, nil
}

func (l Loan) validateShape() error {
	if l.ID == "" || l.UserID == "" || l.BookID == "" {
		return fmt.Errorf("%w: loan payload is missing an id field", ErrMalformedDocument)
	}

	switch l.Status {
	case LoanStatusActive, LoanStatusReturned:
	default:
		return fmt.Errorf("%w: unknown loan status %q", ErrMalformedDocument, l.Status)
	}

	if !l.DueDate.After(l.BorrowedAt) {
		return fmt.Errorf("%w: loan due date is not after borrow date", ErrMalformedDocument)
	}

	if (l.ReturnedAt != nil) != (l.Status == LoanStatusReturned) {
		return fmt.Errorf("%w: loan return date and status disagree", ErrMalformedDocument)
	}

	return nil
}
