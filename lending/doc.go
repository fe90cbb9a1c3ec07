// Package lending holds the domain model of the lending engine: the Book,
// Loan, and Reservation entities, their lifecycle statuses, the borrow policy,
// and the typed errors lifecycle operations return.
//
// The store underneath is schemaless, so this package also owns the payload
// codec: documents are parsed into validated entities at the store boundary
// and malformed payloads are rejected with ErrMalformedDocument instead of
// leaking missing-field ambiguity into business logic.
package lending
