// Package adapters provides database abstraction implementations for the Postgres document store engine.
//
// This internal package contains adapters that allow the document store to work with different
// PostgreSQL database access libraries through a common interface:
//
//   - PGXAdapter: for pgxpool.Pool connections (recommended for production)
//   - SQLAdapter: for database/sql connections (maximum compatibility)
//   - SQLXAdapter: for sqlx.DB connections (convenience layer over database/sql)
//
// All adapters implement the DBAdapter interface, which adds interactive
// transactions at serializable isolation on top of plain query execution, so
// the engine can run read-modify-write document transactions with
// first-committer-wins conflict detection.
package adapters
