// Package postgresengine provides a PostgreSQL implementation of the docstore contract.
//
// This package stores documents in a single table keyed by (collection, doc_id)
// with a jsonb payload and a revision counter, supporting multiple database
// adapters (pgx, sql.DB, sqlx) with serializable transactions and conflict
// detection.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX)
//   - Serializable transactions mapped to docstore.ErrTxConflict on collision
//   - Partial document updates through jsonb merge
//   - Equality queries on top-level payload fields via jsonb containment
//   - Watch subscriptions through revision polling
//   - Configurable table name and dual-logger support
//
// Usage examples:
//
//	// Basic usage
//	db, _ := pgxpool.New(context.Background(), dsn)
//	store, _ := postgresengine.NewDocumentStoreFromPGXPool(db)
//
//	// With operational logging and a custom table
//	store, _ := postgresengine.NewDocumentStoreFromPGXPool(
//		db,
//		postgresengine.WithTableName("library_documents"),
//		postgresengine.WithLogger(logger),
//	)
//
//	err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
//		// read, decide, write
//		return nil
//	})
package postgresengine
