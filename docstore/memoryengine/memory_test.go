package memoryengine_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libraryops/lending-engine-go/docstore"
	"github.com/libraryops/lending-engine-go/docstore/memoryengine"
)

func newStore(t *testing.T) *memoryengine.DocumentStore {
	t.Helper()

	store, err := memoryengine.New()
	require.NoError(t, err, "creating the store should not fail")

	return store
}

func setDoc(t *testing.T, store *memoryengine.DocumentStore, ref docstore.Ref, payloadJSON string) {
	t.Helper()

	err := store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
		return tx.Set(ref, []byte(payloadJSON))
	})
	require.NoError(t, err, "seeding a document should not fail")
}

func Test_RunTransaction_SetAndGet(t *testing.T) {
	// setup
	store := newStore(t)
	ref := docstore.NewRef("books", "b1")

	// act
	setDoc(t, store, ref, `{"id": "b1", "available": true}`)

	// assert
	doc, found, err := store.Get(context.Background(), ref)
	assert.NoError(t, err, "get should not fail")
	assert.True(t, found, "the committed document should exist")
	assert.JSONEq(t, `{"id": "b1", "available": true}`, string(doc.PayloadJSON), "payload should round-trip")
	assert.Equal(t, docstore.RevisionUint(1), doc.Revision, "first commit should produce revision 1")
}

func Test_RunTransaction_Update_MergesTopLevelFields(t *testing.T) {
	// setup
	store := newStore(t)
	ref := docstore.NewRef("books", "b1")
	setDoc(t, store, ref, `{"id": "b1", "available": true, "title": "Sapiens"}`)

	// act
	err := store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
		return tx.Update(ref, map[string]any{"available": false})
	})

	// assert
	require.NoError(t, err, "update transaction should commit")

	doc, _, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "b1", "available": false, "title": "Sapiens"}`, string(doc.PayloadJSON),
		"update should merge the changed field and keep the rest")
	assert.Equal(t, docstore.RevisionUint(2), doc.Revision, "every commit should bump the revision")
}

func Test_RunTransaction_Delete_RemovesDocument(t *testing.T) {
	// setup
	store := newStore(t)
	ref := docstore.NewRef("books", "b1")
	setDoc(t, store, ref, `{"id": "b1"}`)

	// act
	err := store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
		return tx.Delete(ref)
	})

	// assert
	require.NoError(t, err, "delete transaction should commit")

	_, found, err := store.Get(context.Background(), ref)
	assert.NoError(t, err)
	assert.False(t, found, "the document should be gone")
}

func Test_RunTransaction_ReadYourWrites(t *testing.T) {
	// setup
	store := newStore(t)
	ref := docstore.NewRef("books", "b1")

	// act / assert
	err := store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
		if err := tx.Set(ref, []byte(`{"id": "b1"}`)); err != nil {
			return err
		}

		doc, found, err := tx.Get(ref)
		require.NoError(t, err)
		assert.True(t, found, "a pending write should be visible to the same transaction")
		assert.JSONEq(t, `{"id": "b1"}`, string(doc.PayloadJSON))

		return nil
	})
	require.NoError(t, err)
}

func Test_RunTransaction_FnError_AppliesNothing(t *testing.T) {
	// setup
	store := newStore(t)
	ref := docstore.NewRef("books", "b1")
	failure := assert.AnError

	// act
	err := store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
		if setErr := tx.Set(ref, []byte(`{"id": "b1"}`)); setErr != nil {
			return setErr
		}

		return failure
	})

	// assert
	assert.ErrorIs(t, err, failure, "the fn error should surface unchanged")

	_, found, getErr := store.Get(context.Background(), ref)
	assert.NoError(t, getErr)
	assert.False(t, found, "a transaction that never commits must have no side effects")
}

func Test_RunTransaction_ConflictOnConcurrentWrite(t *testing.T) {
	// setup
	store := newStore(t)
	ref := docstore.NewRef("books", "b1")
	setDoc(t, store, ref, `{"id": "b1", "available": true}`)

	firstRead := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan error, 1)

	// act: a transaction reads the document, then a concurrent commit changes
	// it before the first transaction commits.
	go func() {
		done <- store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
			_, _, err := tx.Get(ref)
			if err != nil {
				return err
			}

			close(firstRead)
			<-proceed

			return tx.Update(ref, map[string]any{"available": false})
		})
	}()

	<-firstRead
	setDoc(t, store, ref, `{"id": "b1", "available": false, "winner": "other"}`)
	close(proceed)

	// assert
	err := <-done
	assert.ErrorIs(t, err, docstore.ErrTxConflict, "the second committer must lose")

	doc, _, getErr := store.Get(context.Background(), ref)
	require.NoError(t, getErr)
	assert.JSONEq(t, `{"id": "b1", "available": false, "winner": "other"}`, string(doc.PayloadJSON),
		"the first committer's write must survive untouched")
}

func Test_RunTransaction_ConflictOnChangedQueryMatchedSet(t *testing.T) {
	// setup
	store := newStore(t)
	counterRef := docstore.NewRef("stats", "loans")
	queried := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan error, 1)

	// act: a transaction counts open loans through a query, then a concurrent
	// commit adds a matching loan before the first transaction commits.
	go func() {
		done <- store.RunTransaction(context.Background(), func(tx docstore.Tx) error {
			docs, err := tx.Query(docstore.BuildQuery("loans", docstore.P("status", "active")))
			if err != nil {
				return err
			}

			close(queried)
			<-proceed

			return tx.Set(counterRef, []byte(`{"open": "`+strconv.Itoa(len(docs))+`"}`))
		})
	}()

	<-queried
	setDoc(t, store, docstore.NewRef("loans", "l1"), `{"id": "l1", "status": "active"}`)
	close(proceed)

	// assert
	err := <-done
	assert.ErrorIs(t, err, docstore.ErrTxConflict,
		"a commit that would act on a stale query result must fail")
}

func Test_Query_FiltersByEqualityPredicates(t *testing.T) {
	// setup
	store := newStore(t)
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
	require.NoError(t, err, "query should not fail")
	require.Len(t, docs, 1, "only one loan matches both predicates")
	assert.Equal(t, "l1", docs[0].Ref.ID)
}

func Test_Watch_DeliversInitialSnapshotAndLatestCommit(t *testing.T) {
	// setup
	store := newStore(t)
	ref := docstore.NewRef("books", "b1")
	setDoc(t, store, ref, `{"id": "b1", "available": true}`)

	sub, err := store.Watch(context.Background(), ref)
	require.NoError(t, err, "watch should not fail")
	defer sub.Cancel()

	// assert: the current snapshot arrives first
	initial := receiveDoc(t, sub)
	assert.Equal(t, docstore.RevisionUint(1), initial.Revision, "the initial snapshot should be delivered")

	// act: a later commit must become visible
	setDoc(t, store, ref, `{"id": "b1", "available": false}`)

	// assert
	update := receiveDoc(t, sub)
	assert.Equal(t, docstore.RevisionUint(2), update.Revision, "the committed change should be delivered")
	assert.JSONEq(t, `{"id": "b1", "available": false}`, string(update.PayloadJSON))
}

func Test_Watch_CancelClosesUpdates(t *testing.T) {
	// setup
	store := newStore(t)
	sub, err := store.Watch(context.Background(), docstore.NewRef("books", "b1"))
	require.NoError(t, err)

	// act
	sub.Cancel()

	// assert
	select {
	case _, open := <-sub.Updates():
		assert.False(t, open, "updates channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("updates channel was not closed after cancel")
	}
}

func receiveDoc(t *testing.T, sub docstore.Subscription) docstore.Document {
	t.Helper()

	select {
	case doc, open := <-sub.Updates():
		require.True(t, open, "updates channel closed unexpectedly")
		return doc
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a watch delivery")
		return docstore.Document{}
	}
}
