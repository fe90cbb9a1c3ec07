package sqliteengine_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libraryops/lending-engine-go/docstore"
	"github.com/libraryops/lending-engine-go/docstore/sqliteengine"
)

func openStore(t *testing.T, options ...sqliteengine.Option) *sqliteengine.DocumentStore {
	t.Helper()

	store, err := sqliteengine.Open(filepath.Join(t.TempDir(), "docs.db"), options...)
	require.NoError(t, err, "opening the store should not fail")

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func setDoc(t *testing.T, store *sqliteengine.DocumentStore, ref docstore.Ref, payloadJSON string) {
	t.Helper()

	err := store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
		return tx.Set(ref, []byte(payloadJSON))
	})
	require.NoError(t, err, "seeding a document should not fail")
}

func Test_Open_RejectsEmptyPath(t *testing.T) {
	// act
	_, err := sqliteengine.Open("")

	// assert
	assert.Error(t, err)
}

func Test_RunTransaction_SetAndGet(t *testing.T) {
	// setup
	store := openStore(t)
	ref := docstore.NewRef("books", "b1")

	// act
	setDoc(t, store, ref, `{"id": "b1", "available": true}`)

	// assert
	doc, found, err := store.Get(context.Background(), ref)
	assert.NoError(t, err)
	assert.True(t, found, "the committed document should exist")
	assert.JSONEq(t, `{"id": "b1", "available": true}`, string(doc.PayloadJSON))
	assert.Equal(t, docstore.RevisionUint(1), doc.Revision, "the first commit should produce revision 1")
}

func Test_RunTransaction_Set_BumpsRevisionOnReplace(t *testing.T) {
	// setup
	store := openStore(t)
	ref := docstore.NewRef("books", "b1")
	setDoc(t, store, ref, `{"id": "b1", "available": true}`)

	// act
	setDoc(t, store, ref, `{"id": "b1", "available": false}`)

	// assert
	doc, _, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, docstore.RevisionUint(2), doc.Revision)
	assert.JSONEq(t, `{"id": "b1", "available": false}`, string(doc.PayloadJSON))
}

func Test_RunTransaction_Update_MergesTopLevelFields(t *testing.T) {
	// setup
	store := openStore(t)
	ref := docstore.NewRef("books", "b1")
	setDoc(t, store, ref, `{"id": "b1", "available": true, "title": "Sapiens"}`)

	// act
	err := store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
		return tx.Update(ref, map[string]any{"available": false})
	})

	// assert
	require.NoError(t, err)

	doc, _, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "b1", "available": false, "title": "Sapiens"}`, string(doc.PayloadJSON),
		"the merge happens field-wise in Go, the rest of the payload survives")
}

func Test_RunTransaction_FnError_RollsBackAllWrites(t *testing.T) {
	// setup
	store := openStore(t)
	ref := docstore.NewRef("books", "b1")

	// act
	err := store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
		if setErr := tx.Set(ref, []byte(`{"id": "b1"}`)); setErr != nil {
			return setErr
		}

		return assert.AnError
	})

	// assert
	assert.ErrorIs(t, err, assert.AnError)

	_, found, getErr := store.Get(context.Background(), ref)
	assert.NoError(t, getErr)
	assert.False(t, found, "a transaction that never commits must have no side effects")
}

func Test_RunTransaction_Delete_RemovesDocument(t *testing.T) {
	// setup
	store := openStore(t)
	ref := docstore.NewRef("books", "b1")
	setDoc(t, store, ref, `{"id": "b1"}`)

	// act
	err := store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
		return tx.Delete(ref)
	})

	// assert
	require.NoError(t, err)

	_, found, getErr := store.Get(context.Background(), ref)
	assert.NoError(t, getErr)
	assert.False(t, found)
}

func Test_Query_FiltersByJSONExtractPredicates(t *testing.T) {
	// setup
	store := openStore(t)
	setDoc(t, store, docstore.NewRef("loans", "l1"), `{"id": "l1", "userId": "u1", "status": "active"}`)
	setDoc(t, store, docstore.NewRef("loans", "l2"), `{"id": "l2", "userId": "u1", "status": "returned"}`)
	setDoc(t, store, docstore.NewRef("loans", "l3"), `{"id": "l3", "userId": "u2", "status": "active"}`)

	// act
	docs, err := store.Query(context.Background(), docstore.BuildQuery(
		"loans",
		docstore.P("userId", "u1"),
		docstore.P("status", "active"),
	))

	// assert
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "l1", docs[0].Ref.ID)
}

func Test_TxQuery_SeesWritesOfSameTransaction(t *testing.T) {
	// setup
	store := openStore(t)

	// act / assert
	err := store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
		if setErr := tx.Set(docstore.NewRef("loans", "l1"), []byte(`{"id": "l1", "status": "active"}`)); setErr != nil {
			return setErr
		}

		docs, queryErr := tx.Query(docstore.BuildQuery("loans", docstore.P("status", "active")))
		require.NoError(t, queryErr)
		assert.Len(t, docs, 1, "a transaction must see its own pending writes")

		return nil
	})
	require.NoError(t, err)
}

func Test_Close_FailsFollowingOperations(t *testing.T) {
	// setup
	store, err := sqliteengine.Open(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)

	// act
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "closing twice is harmless")

	// assert
	err = store.RunTransaction(context.Background(), func(_ docstore.Tx) error { return nil })
	assert.ErrorIs(t, err, docstore.ErrStoreClosed)

	_, _, err = store.Get(context.Background(), docstore.NewRef("books", "b1"))
	assert.ErrorIs(t, err, docstore.ErrStoreClosed)
}

func Test_Watch_DeliversCommittedChange(t *testing.T) {
	// setup
	store := openStore(t, sqliteengine.WithWatchPollInterval(10*time.Millisecond))
	ref := docstore.NewRef("books", "b1")
	setDoc(t, store, ref, `{"id": "b1", "available": true}`)

	sub, err := store.Watch(context.Background(), ref)
	require.NoError(t, err)
	defer sub.Cancel()

	initial := receiveDoc(t, sub)
	assert.Equal(t, docstore.RevisionUint(1), initial.Revision, "the current snapshot arrives first")

	// act
	setDoc(t, store, ref, `{"id": "b1", "available": false}`)

	// assert
	update := receiveDoc(t, sub)
	assert.Equal(t, docstore.RevisionUint(2), update.Revision)
	assert.JSONEq(t, `{"id": "b1", "available": false}`, string(update.PayloadJSON))
}

func receiveDoc(t *testing.T, sub docstore.Subscription) docstore.Document {
	t.Helper()

	select {
	case doc, open := <-sub.Updates():
		require.True(t, open, "updates channel closed unexpectedly")
		return doc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a watch delivery")
		return docstore.Document{}
	}
}
