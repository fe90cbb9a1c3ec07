package adapters

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// IsSerializationFailure reports whether an error is a PostgreSQL
// serialization failure (or deadlock) that should be mapped to a transaction
// conflict and retried by the caller.
//
// It understands pgx errors (via the SQLState method on pgconn.PgError),
// lib/pq errors, and falls back to matching the SQLSTATE in the message for
// other drivers.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}

	var sqlStater interface{ SQLState() string }
	if errors.As(err, &sqlStater) {
		return isConflictSQLState(sqlStater.SQLState())
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isConflictSQLState(string(pqErr.Code))
	}

	return strings.Contains(err.Error(), "SQLSTATE "+sqlStateSerializationFailure) ||
		strings.Contains(err.Error(), "SQLSTATE "+sqlStateDeadlockDetected)
}

func isConflictSQLState(code string) bool {
	return code == sqlStateSerializationFailure || code == sqlStateDeadlockDetected
}

// stdTx wraps standard library sql.Tx to implement the DBTx interface.
type stdTx struct {
	tx *sql.Tx
}

// Query executes a query inside the transaction.
func (s *stdTx) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

// Exec executes a statement inside the transaction.
func (s *stdTx) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.tx.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}

// Commit commits the transaction.
func (s *stdTx) Commit(_ context.Context) error {
	return s.tx.Commit()
}

// Rollback rolls the transaction back; rolling back a finished transaction is a no-op.
func (s *stdTx) Rollback(_ context.Context) error {
	err := s.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}

// stdRows wraps standard library sql.Rows to implement DBRows interface.
type stdRows struct {
	rows *sql.Rows
}

// Next advances to the next row.
func (s *stdRows) Next() bool {
	return s.rows.Next()
}

// Scan copies row values into provided destinations.
func (s *stdRows) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

// Close closes the rows iterator.
func (s *stdRows) Close() error {
	return s.rows.Close()
}

// stdResult wraps standard library sql.Result to implement DBResult interface.
type stdResult struct {
	result sql.Result
}

// RowsAffected returns the number of rows affected by the command.
func (s *stdResult) RowsAffected() (int64, error) {
	return s.result.RowsAffected()
}
