package engine

import (
	"context"
	"fmt"

	"github.com/libraryops/lending-engine-go/lending"
)

// BookWatch is a cancellable live subscription on one book. Snapshots arrive
// on Updates in commit order with latest-wins coalescing: intermediate states
// may be skipped, the most recent committed state is always eventually
// delivered. Correctness never depends on this surface, the reconciler is the
// backstop; the watch only provides liveness for observers.
type BookWatch struct {
	updates chan lending.Book
	cancel  func()
}

// Updates returns the channel of book snapshots. It is closed after Cancel or
// when the watch context ends.
func (w *BookWatch) Updates() <-chan lending.Book {
	return w.updates
}

// Cancel stops the subscription. It is safe to call more than once.
func (w *BookWatch) Cancel() {
	w.cancel()
}

// StreamBookAvailability subscribes to committed changes of one book,
// including availability flips. If the book exists its current snapshot is
// delivered first.
func (e *Engine) StreamBookAvailability(ctx context.Context, bookID string) (*BookWatch, error) {
	if bookID == "" {
		return nil, fmt.Errorf("%w: book id must not be empty", lending.ErrValidation)
	}

	sub, err := e.store.Watch(ctx, lending.BookRef(bookID))
	if err != nil {
		return nil, err
	}

	watch := &BookWatch{
		updates: make(chan lending.Book),
		cancel:  sub.Cancel,
	}

	go func() {
		defer close(watch.updates)

		for doc := range sub.Updates() {
			book, parseErr := lending.BookFromPayload(doc.PayloadJSON)
			if parseErr != nil {
				e.logWarn(ctx, logMsgMalformedDocSkipped, logAttrBookID, doc.Ref.ID, logAttrError, parseErr.Error())
				continue
			}

			select {
			case watch.updates <- book:
			case <-ctx.Done():
				return
			}
		}
	}()

	return watch, nil
}
