package lending

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Book is the catalog entity. Available is derived state: it must be false
// whenever at least one open loan or one blocking reservation references the
// book, and true otherwise. It is written only by the lifecycle operations and
// the availability reconciliation, never directly by callers.
type Book struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Author               string `json:"author"`
	Available            bool   `json:"available"`
	CurrentReservationID string `json:"currentReservationId,omitempty"`
}

// NewBook creates an available book for catalog ingestion.
func NewBook(bookID string, title string, author string) (Book, error) {
	if bookID == "" {
		return Book{}, fmt.Errorf("%w: book id must not be empty", ErrValidation)
	}

	return Book{
		ID:        bookID,
		Title:     title,
		Author:    author,
		Available: true,
	}, nil
}

// PayloadJSON serializes the book for storage.
func (b Book) PayloadJSON() ([]byte, error) {
	payloadJSON, err := jsoniter.ConfigFastest.Marshal(b)
	if err != nil {
		return nil, errors.Join(ErrMalformedDocument, err)
	}

	return payloadJSON, nil
}

// BookFromPayload parses and validates a stored book payload.
func BookFromPayload(payloadJSON []byte) (Book, error) {
	var book Book

	if err := jsoniter.ConfigFastest.Unmarshal(payloadJSON, &book); err != nil {
		return Book{}, errors.Join(ErrMalformedDocument, err)
	}

	if book.ID == "" {
		return Book{}, fmt.Errorf("%w: book payload has no id", ErrMalformedDocument)
	}

	return book, nil
}
