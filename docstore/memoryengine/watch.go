package memoryengine

import (
	"context"
	"sync"

	"github.com/libraryops/lending-engine-go/docstore"
)

// subscription delivers committed snapshots of one document with latest-wins
// coalescing: a slow consumer never blocks commits, it just skips intermediate
// revisions and always observes the most recent one eventually.
type subscription struct {
	ref     docstore.Ref
	updates chan docstore.Document
	signal  chan struct{}
	done    chan struct{}

	mu     sync.Mutex
	latest docstore.Document
	dirty  bool

	cancelOnce sync.Once
	store      *DocumentStore
}

// Watch subscribes to committed changes of a single document. If the document
// exists, its current snapshot is delivered first.
func (s *DocumentStore) Watch(ctx context.Context, ref docstore.Ref) (docstore.Subscription, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	sub := &subscription{
		ref:     ref,
		updates: make(chan docstore.Document),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		store:   s,
	}

	s.mu.Lock()
	s.watchers[ref] = append(s.watchers[ref], sub)
	if stored, found := s.docs[ref]; found {
		sub.publishLocked(asDocument(ref, stored))
	}
	s.mu.Unlock()

	go sub.pump(ctx)

	return sub, nil
}

// notifyLocked fans a committed document out to its watchers; callers must hold s.mu.
func (s *DocumentStore) notifyLocked(doc docstore.Document) {
	for _, sub := range s.watchers[doc.Ref] {
		sub.publishLocked(doc)
	}
}

// removeWatcher drops a cancelled subscription from the watcher list.
func (s *DocumentStore) removeWatcher(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watchers := s.watchers[sub.ref]
	for i, candidate := range watchers {
		if candidate == sub {
			s.watchers[sub.ref] = append(watchers[:i], watchers[i+1:]...)
			break
		}
	}

	if len(s.watchers[sub.ref]) == 0 {
		delete(s.watchers, sub.ref)
	}
}

// Updates returns the channel of document snapshots.
func (sub *subscription) Updates() <-chan docstore.Document {
	return sub.updates
}

// Cancel stops the subscription. It is safe to call more than once.
func (sub *subscription) Cancel() {
	sub.cancelOnce.Do(func() {
		close(sub.done)
		sub.store.removeWatcher(sub)
	})
}

// publishLocked stores the newest snapshot and wakes the pump; the store mutex
// serializes callers, the subscription mutex guards against the pump.
func (sub *subscription) publishLocked(doc docstore.Document) {
	sub.mu.Lock()
	sub.latest = doc
	sub.dirty = true
	sub.mu.Unlock()

	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

// pump forwards the latest snapshot to the consumer until the subscription ends.
func (sub *subscription) pump(ctx context.Context) {
	defer close(sub.updates)

	for {
		select {
		case <-sub.signal:
		case <-sub.done:
			return
		case <-ctx.Done():
			sub.Cancel()
			return
		}

		for {
			sub.mu.Lock()
			doc, pending := sub.latest, sub.dirty
			sub.dirty = false
			sub.mu.Unlock()

			if !pending {
				break
			}

			select {
			case sub.updates <- doc:
			case <-sub.done:
				return
			case <-ctx.Done():
				sub.Cancel()
				return
			}
		}
	}
}
