// Package postgreswrapper provides a test harness for running document store
// tests against a live PostgreSQL instance. The connection string comes from
// the DOCSTORE_TEST_DSN environment variable; tests using the wrapper are
// skipped when it is unset. DOCSTORE_ADAPTER_TYPE selects the database adapter
// under test (pgxpool, sqldb or sqlx; pgxpool when empty).
package postgreswrapper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver for the sqldb adapter
	"github.com/stretchr/testify/require"

	"github.com/libraryops/lending-engine-go/docstore/postgresengine"
)

const (
	envDSN         = "DOCSTORE_TEST_DSN"
	envAdapterType = "DOCSTORE_ADAPTER_TYPE"

	typePGXPool = "pgxpool"
	typeSQLDB   = "sqldb"
	typeSQLX    = "sqlx"
)

// Wrapper abstracts over the database adapter a store under test runs on.
type Wrapper interface {
	GetStore() postgresengine.DocumentStore
	Close()
}

// PGXPoolWrapper runs the store on a pgxpool connection pool.
type PGXPoolWrapper struct {
	pool  *pgxpool.Pool
	store postgresengine.DocumentStore
}

func (w *PGXPoolWrapper) GetStore() postgresengine.DocumentStore {
	return w.store
}

func (w *PGXPoolWrapper) Close() {
	w.pool.Close()
}

// SQLDBWrapper runs the store on a database/sql connection via lib/pq.
type SQLDBWrapper struct {
	db    *sql.DB
	store postgresengine.DocumentStore
}

func (w *SQLDBWrapper) GetStore() postgresengine.DocumentStore {
	return w.store
}

func (w *SQLDBWrapper) Close() {
	_ = w.db.Close()
}

// SQLXWrapper runs the store on a sqlx connection.
type SQLXWrapper struct {
	db    *sqlx.DB
	store postgresengine.DocumentStore
}

func (w *SQLXWrapper) GetStore() postgresengine.DocumentStore {
	return w.store
}

func (w *SQLXWrapper) Close() {
	_ = w.db.Close()
}

// CreateWrapper connects to the configured test database, ensures the schema
// exists and returns a wrapper for the adapter selected via the environment.
// The calling test is skipped when no test DSN is configured.
func CreateWrapper(t testing.TB) Wrapper {
	t.Helper()

	dsn := os.Getenv(envDSN)
	if dsn == "" {
		t.Skipf("set %s to run tests against a live PostgreSQL instance", envDSN)
	}

	ctx := context.Background()
	wrapper := createWrapperForAdapter(t, ctx, dsn)

	require.NoError(t, wrapper.GetStore().EnsureSchema(ctx), "ensuring the schema in test setup")

	return wrapper
}

func createWrapperForAdapter(t testing.TB, ctx context.Context, dsn string) Wrapper {
	t.Helper()

	adapterType := strings.ToLower(os.Getenv(envAdapterType))

	switch adapterType {
	case typePGXPool, "":
		pool, err := pgxpool.New(ctx, dsn)
		require.NoError(t, err, "connecting the pgx pool in test setup")

		store, err := postgresengine.NewDocumentStoreFromPGXPool(pool)
		require.NoError(t, err, "creating the store in test setup")

		return &PGXPoolWrapper{pool: pool, store: store}

	case typeSQLDB:
		db, err := sql.Open("postgres", dsn)
		require.NoError(t, err, "opening the sql.DB connection in test setup")

		store, err := postgresengine.NewDocumentStoreFromSQLDB(db)
		require.NoError(t, err, "creating the store in test setup")

		return &SQLDBWrapper{db: db, store: store}

	case typeSQLX:
		db, err := sqlx.Open("postgres", dsn)
		require.NoError(t, err, "opening the sqlx connection in test setup")

		store, err := postgresengine.NewDocumentStoreFromSQLX(db)
		require.NoError(t, err, "creating the store in test setup")

		return &SQLXWrapper{db: db, store: store}

	default:
		panic(fmt.Sprintf("unsupported adapter type from env: %s", adapterType))
	}
}

// CleanUp truncates the documents table so each test starts from empty.
func CleanUp(t testing.TB, wrapper Wrapper) {
	t.Helper()

	const query = "TRUNCATE TABLE documents"

	switch w := wrapper.(type) {
	case *PGXPoolWrapper:
		_, err := w.pool.Exec(context.Background(), query)
		require.NoError(t, err, "cleaning up the documents table")

	case *SQLDBWrapper:
		_, err := w.db.Exec(query)
		require.NoError(t, err, "cleaning up the documents table")

	case *SQLXWrapper:
		_, err := w.db.Exec(query)
		require.NoError(t, err, "cleaning up the documents table")

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}
}

// CountDocuments returns the number of rows in a collection, read directly
// from the table so tests can verify what was actually committed.
func CountDocuments(t testing.TB, wrapper Wrapper, collection string) int {
	t.Helper()

	query := fmt.Sprintf("SELECT count(*) FROM documents WHERE collection = '%s'", collection)

	var count int
	var err error

	switch w := wrapper.(type) {
	case *PGXPoolWrapper:
		err = w.pool.QueryRow(context.Background(), query).Scan(&count)

	case *SQLDBWrapper:
		err = w.db.QueryRow(query).Scan(&count)

	case *SQLXWrapper:
		err = w.db.QueryRow(query).Scan(&count)

	default:
		panic(fmt.Sprintf("unsupported wrapper type: %T", w))
	}

	require.NoError(t, err, "counting documents in test verification")

	return count
}
