package lending

import "github.com/libraryops/lending-engine-go/docstore"

// Collection names. Documents are addressed as books/{bookId}, loans/{loanId},
// reservations/{reservationId}.
const (
	CollectionBooks        = "books"
	CollectionLoans        = "loans"
	CollectionReservations = "reservations"
)

// Payload field names used in queries. These must match the JSON tags of the
// entity types, the store matches predicates against raw payloads.
const (
	FieldUserID = "userId"
	FieldBookID = "bookId"
	FieldStatus = "status"
)

// BookRef addresses the document of one book.
func BookRef(bookID string) docstore.Ref {
	return docstore.NewRef(CollectionBooks, bookID)
}

// LoanRef addresses the document of one loan.
func LoanRef(loanID string) docstore.Ref {
	return docstore.NewRef(CollectionLoans, loanID)
}

// ReservationRef addresses the document of one reservation.
func ReservationRef(reservationID string) docstore.Ref {
	return docstore.NewRef(CollectionReservations, reservationID)
}
