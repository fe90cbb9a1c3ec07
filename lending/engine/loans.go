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
	opCheckout   = "checkout"
	opReturnBook = "return_book"
	opRenew      = "renew"
)

// Checkout lends an available book to a user.
//
// Inside one transaction it re-validates the borrow limit and the book's
// availability, creates the active loan, and flips the book unavailable. Of
// two checkouts racing on the same book exactly one commits; the loser retries
// against the committed state, observes available == false, and fails with
// lending.ErrBookUnavailable.
func (e *Engine) Checkout(ctx context.Context, bookID string, userID string) (lending.Loan, error) {
	if bookID == "" || userID == "" {
		return lending.Loan{}, fmt.Errorf("%w: book id and user id must not be empty", lending.ErrValidation)
	}

	var loan lending.Loan

	err := e.runWrite(ctx, opCheckout, func(tx docstore.Tx) error {
		book, err := e.readBookTx(tx, bookID)
		if err != nil {
			return err
		}

		if err = e.assertUnderLoanLimitTx(tx, userID); err != nil {
			return err
		}

		if !book.Available {
			return fmt.Errorf("%w: book %s", lending.ErrBookUnavailable, bookID)
		}

		loan, err = lending.NewLoan(userID, book, e.clock(), e.policy.LoanPeriod)
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

		return tx.Update(lending.BookRef(bookID), map[string]any{
			"available":            false,
			"currentReservationId": "",
		})
	})
	if err != nil {
		return lending.Loan{}, err
	}

	return loan, nil
}

// ReturnBook closes an open loan.
//
// In the same transaction the book's availability is recomputed, and if a
// non-expired active reservation is queued on the book, the oldest one is
// promoted to ready so the returned copy is held for its holder instead of
// going back on the shelf.
func (e *Engine) ReturnBook(ctx context.Context, loanID string) (lending.Loan, error) {
	if loanID == "" {
		return lending.Loan{}, fmt.Errorf("%w: loan id must not be empty", lending.ErrValidation)
	}

	var returned lending.Loan

	err := e.runWrite(ctx, opReturnBook, func(tx docstore.Tx) error {
		loan, err := e.readLoanTx(tx, loanID)
		if err != nil {
			return err
		}

		if !loan.IsOpen() {
			return fmt.Errorf("%w: loan %s", lending.ErrAlreadyReturned, loanID)
		}

		now := e.clock()
		loan.ReturnedAt = &now
		loan.Status = lending.LoanStatusReturned

		loanJSON, err := loan.PayloadJSON()
		if err != nil {
			return err
		}

		if err = tx.Set(lending.LoanRef(loan.ID), loanJSON); err != nil {
			return err
		}

		if err = e.promoteNextReservationTx(tx, loan.BookID, now); err != nil {
			return err
		}

		if err = e.recomputeBookTx(tx, loan.BookID, now); err != nil {
			return err
		}

		returned = loan

		return nil
	})
	if err != nil {
		return lending.Loan{}, err
	}

	return returned, nil
}

// Renew extends an open loan's due date by the given number of days.
// Availability is untouched, the book stays with the borrower.
func (e *Engine) Renew(ctx context.Context, loanID string, additionalDays int) (lending.Loan, error) {
	if loanID == "" {
		return lending.Loan{}, fmt.Errorf("%w: loan id must not be empty", lending.ErrValidation)
	}

	if additionalDays <= 0 {
		return lending.Loan{}, fmt.Errorf("%w: additional days must be positive", lending.ErrValidation)
	}

	var renewed lending.Loan

	err := e.runWrite(ctx, opRenew, func(tx docstore.Tx) error {
		loan, err := e.readLoanTx(tx, loanID)
		if err != nil {
			return err
		}

		if !loan.IsOpen() {
			return fmt.Errorf("%w: loan %s", lending.ErrAlreadyReturned, loanID)
		}

		loan.DueDate = loan.DueDate.Add(time.Duration(additionalDays) * 24 * time.Hour)

		loanJSON, err := loan.PayloadJSON()
		if err != nil {
			return err
		}

		if err = tx.Set(lending.LoanRef(loan.ID), loanJSON); err != nil {
			return err
		}

		renewed = loan

		return nil
	})
	if err != nil {
		return lending.Loan{}, err
	}

	return renewed, nil
}

// ActiveLoans returns the user's open loans, oldest first. It is a plain
// read, not a transaction.
func (e *Engine) ActiveLoans(ctx context.Context, userID string) ([]lending.Loan, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id must not be empty", lending.ErrValidation)
	}

	docs, err := e.store.Query(ctx, docstore.BuildQuery(
		lending.CollectionLoans,
		docstore.P(lending.FieldUserID, userID),
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

	sort.Slice(loans, func(i, j int) bool {
		return loans[i].BorrowedAt.Before(loans[j].BorrowedAt)
	})

	return loans, nil
}

// readLoanTx reads and parses a loan inside the transaction.
func (e *Engine) readLoanTx(tx docstore.Tx, loanID string) (lending.Loan, error) {
	doc, found, err := tx.Get(lending.LoanRef(loanID))
	if err != nil {
		return lending.Loan{}, err
	}

	if !found {
		return lending.Loan{}, fmt.Errorf("%w: loan %s", lending.ErrNotFound, loanID)
	}

	return lending.LoanFromPayload(doc.PayloadJSON)
}

// assertUnderLoanLimitTx enforces the per-user open loan cap. The count runs
// inside the caller's transaction, so two concurrent checkouts cannot both
// pass the check and commit: the query's matched set takes part in conflict
// detection.
func (e *Engine) assertUnderLoanLimitTx(tx docstore.Tx, userID string) error {
	docs, err := tx.Query(docstore.BuildQuery(
		lending.CollectionLoans,
		docstore.P(lending.FieldUserID, userID),
		docstore.P(lending.FieldStatus, string(lending.LoanStatusActive)),
	))
	if err != nil {
		return err
	}

	if len(docs) >= e.policy.MaxActiveLoans {
		return fmt.Errorf("%w: user %s has %d open loans, limit is %d",
			lending.ErrBorrowLimitExceeded, userID, len(docs), e.policy.MaxActiveLoans)
	}

	return nil
}
