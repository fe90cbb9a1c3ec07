package postgresengine_test

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq" // postgres driver for sql.Open
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libraryops/lending-engine-go/docstore"
	"github.com/libraryops/lending-engine-go/docstore/postgresengine"
)

// openLazySQLDB opens a sql.DB handle without connecting; lib/pq only dials on
// first use, which these construction tests never do.
func openLazySQLDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", "postgres://localhost:5432/lending?sslmode=disable")
	require.NoError(t, err, "opening a lazy handle should not fail")

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func Test_Factories_RejectNilConnections(t *testing.T) {
	// act + assert
	_, err := postgresengine.NewDocumentStoreFromPGXPool(nil)
	assert.ErrorIs(t, err, docstore.ErrNilDatabaseConnection)

	_, err = postgresengine.NewDocumentStoreFromSQLDB(nil)
	assert.ErrorIs(t, err, docstore.ErrNilDatabaseConnection)

	_, err = postgresengine.NewDocumentStoreFromSQLX(nil)
	assert.ErrorIs(t, err, docstore.ErrNilDatabaseConnection)
}

func Test_NewDocumentStore_WithValidOptions(t *testing.T) {
	// setup
	db := openLazySQLDB(t)

	// act
	_, err := postgresengine.NewDocumentStoreFromSQLDB(
		db,
		postgresengine.WithTableName("library_documents"),
		postgresengine.WithWatchPollInterval(50*time.Millisecond),
	)

	// assert
	assert.NoError(t, err, "valid options should be accepted")
}

func Test_NewDocumentStore_RejectsEmptyTableName(t *testing.T) {
	// setup
	db := openLazySQLDB(t)

	// act
	_, err := postgresengine.NewDocumentStoreFromSQLDB(db, postgresengine.WithTableName(""))

	// assert
	assert.ErrorIs(t, err, docstore.ErrEmptyTableNameSupplied)
}

func Test_NewDocumentStore_RejectsNonPositivePollInterval(t *testing.T) {
	// setup
	db := openLazySQLDB(t)

	// act
	_, err := postgresengine.NewDocumentStoreFromSQLDB(db, postgresengine.WithWatchPollInterval(0))

	// assert
	assert.ErrorIs(t, err, postgresengine.ErrInvalidPollInterval)
}
