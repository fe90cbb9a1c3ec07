package postgresengine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libraryops/lending-engine-go/docstore"
	"github.com/libraryops/lending-engine-go/testutil/helper/postgreswrapper"
)

// These tests run against a live PostgreSQL instance and are skipped unless
// DOCSTORE_TEST_DSN is set; see the postgreswrapper package.

func Test_Postgres_SetGetUpdateDelete(t *testing.T) {
	// setup
	wrapper := postgreswrapper.CreateWrapper(t)
	defer wrapper.Close()
	postgreswrapper.CleanUp(t, wrapper)

	store := wrapper.GetStore()
	ctx := context.Background()
	ref := docstore.NewRef("books", "b1")

	// act: create
	err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Set(ref, []byte(`{"id": "b1", "available": true, "title": "Sapiens"}`))
	})
	require.NoError(t, err)

	// assert
	doc, found, err := store.Get(ctx, ref)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, docstore.RevisionUint(1), doc.Revision)

	// act: merge a partial update
	err = store.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Update(ref, map[string]any{"available": false})
	})
	require.NoError(t, err)

	// assert: jsonb merge keeps untouched fields, revision advances
	doc, _, err = store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, docstore.RevisionUint(2), doc.Revision)
	assert.JSONEq(t, `{"id": "b1", "available": false, "title": "Sapiens"}`, string(doc.PayloadJSON))

	// act: delete
	err = store.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Delete(ref)
	})
	require.NoError(t, err)

	// assert
	_, found, err = store.Get(ctx, ref)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, postgreswrapper.CountDocuments(t, wrapper, "books"))
}

func Test_Postgres_Query_FiltersByPayloadContainment(t *testing.T) {
	// setup
	wrapper := postgreswrapper.CreateWrapper(t)
	defer wrapper.Close()
	postgreswrapper.CleanUp(t, wrapper)

	store := wrapper.GetStore()
	ctx := context.Background()

	err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if setErr := tx.Set(docstore.NewRef("loans", "l1"), []byte(`{"id": "l1", "userId": "u1", "status": "active"}`)); setErr != nil {
			return setErr
		}
		if setErr := tx.Set(docstore.NewRef("loans", "l2"), []byte(`{"id": "l2", "userId": "u1", "status": "returned"}`)); setErr != nil {
			return setErr
		}

		return tx.Set(docstore.NewRef("loans", "l3"), []byte(`{"id": "l3", "userId": "u2", "status": "active"}`))
	})
	require.NoError(t, err)

	// act
	docs, err := store.Query(ctx, docstore.BuildQuery(
		"loans",
		docstore.P("userId", "u1"),
		docstore.P("status", "active"),
	))

	// assert
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "l1", docs[0].Ref.ID)
}

func Test_Postgres_ConcurrentWriters_OneConflicts(t *testing.T) {
	// setup
	wrapper := postgreswrapper.CreateWrapper(t)
	defer wrapper.Close()
	postgreswrapper.CleanUp(t, wrapper)

	store := wrapper.GetStore()
	ctx := context.Background()
	ref := docstore.NewRef("books", "b1")

	err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Set(ref, []byte(`{"id": "b1", "available": true}`))
	})
	require.NoError(t, err)

	// act: two serializable transactions race on a read-modify-write of the
	// same document; the ready channel forces the overlap
	ready := make(chan struct{})
	results := make(chan error, 2)
	var wg sync.WaitGroup

	for range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results <- store.RunTransaction(ctx, func(tx docstore.Tx) error {
				if _, _, getErr := tx.Get(ref); getErr != nil {
					return getErr
				}

				<-ready

				return tx.Update(ref, map[string]any{"available": false})
			})
		}()
	}

	close(ready)
	wg.Wait()
	close(results)

	// assert: at most one writer commits without retry help
	var conflicts int
	for err := range results {
		if err != nil {
			assert.ErrorIs(t, err, docstore.ErrTxConflict, "a failed writer must surface a conflict")
			conflicts++
		}
	}

	assert.LessOrEqual(t, conflicts, 1, "at least one of the two writers must commit")

	doc, _, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "b1", "available": false}`, string(doc.PayloadJSON))
}

func Test_Postgres_RunTransactionWithRetry_AbsorbsConflicts(t *testing.T) {
	// setup
	wrapper := postgreswrapper.CreateWrapper(t)
	defer wrapper.Close()
	postgreswrapper.CleanUp(t, wrapper)

	store := wrapper.GetStore()
	ctx := context.Background()
	ref := docstore.NewRef("counters", "c1")

	err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Set(ref, []byte(`{"id": "c1", "status": "fresh"}`))
	})
	require.NoError(t, err)

	// act: many retried writers touching the same document must all succeed
	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)

	for range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results <- docstore.RunTransactionWithRetry(ctx, store, func(tx docstore.Tx) error {
				if _, _, getErr := tx.Get(ref); getErr != nil {
					return getErr
				}

				return tx.Update(ref, map[string]any{"status": "touched"})
			})
		}()
	}

	wg.Wait()
	close(results)

	// assert
	for err := range results {
		assert.NoError(t, err, "retries should absorb serialization conflicts")
	}
}
