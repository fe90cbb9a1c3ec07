package sqliteengine

import (
	"context"
	"sync"
	"time"

	"github.com/libraryops/lending-engine-go/docstore"
)

// pollSubscription implements docstore.Subscription by polling the document's
// revision. Delivery is latest-wins: intermediate revisions may be skipped,
// but the most recent committed revision is always eventually delivered.
type pollSubscription struct {
	updates    chan docstore.Document
	done       chan struct{}
	cancelOnce sync.Once
}

// Watch subscribes to committed changes of a single document by revision polling.
// If the document exists, its current snapshot is delivered first.
func (ds *DocumentStore) Watch(ctx context.Context, ref docstore.Ref) (docstore.Subscription, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	if ds.isClosed() {
		return nil, docstore.ErrStoreClosed
	}

	sub := &pollSubscription{
		updates: make(chan docstore.Document),
		done:    make(chan struct{}),
	}

	go ds.poll(ctx, ref, sub)

	return sub, nil
}

// Updates returns the channel of document snapshots.
func (sub *pollSubscription) Updates() <-chan docstore.Document {
	return sub.updates
}

// Cancel stops the subscription. It is safe to call more than once.
func (sub *pollSubscription) Cancel() {
	sub.cancelOnce.Do(func() {
		close(sub.done)
	})
}

func (ds *DocumentStore) poll(ctx context.Context, ref docstore.Ref, sub *pollSubscription) {
	defer close(sub.updates)

	ticker := time.NewTicker(ds.watchPollInterval)
	defer ticker.Stop()

	var lastRevision docstore.RevisionUint

	for {
		doc, found, err := ds.Get(ctx, ref)
		if err != nil {
			ds.logInfo(logMsgWatchPollFailed, logAttrError, err.Error())
		}

		if err == nil && found && doc.Revision != lastRevision {
			select {
			case sub.updates <- doc:
				lastRevision = doc.Revision
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ticker.C:
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
