package docstore

import (
	"errors"
)

var ErrTxConflict = errors.New("transaction conflict, a concurrent write was detected")
var ErrNilDatabaseConnection = errors.New("database connection must not be nil")
var ErrEmptyTableNameSupplied = errors.New("empty documentTableName supplied")
var ErrEmptyCollection = errors.New("document collection must not be empty")
var ErrEmptyDocumentID = errors.New("document id must not be empty")
var ErrStoreClosed = errors.New("store is closed")
var ErrBeginningTransactionFailed = errors.New("beginning transaction failed")
var ErrCommittingTransactionFailed = errors.New("committing transaction failed")
var ErrQueryingDocumentsFailed = errors.New("querying documents failed")
var ErrWritingDocumentFailed = errors.New("writing document failed")
var ErrScanningDBRowFailed = errors.New("scanning database row failed")
var ErrBuildingQueryFailed = errors.New("building sql query failed")

// RevisionUint is a type alias for uint64, representing the commit revision of a single document.
// Revision 0 means the document does not exist yet.
type RevisionUint = uint64
