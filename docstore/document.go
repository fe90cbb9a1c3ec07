package docstore

import (
	"encoding/json"
	"errors"
)

var ErrInvalidPayloadJSON = errors.New("payload json is not valid")

// Ref addresses a single document within a store as collection/id,
// e.g. books/{bookId} or loans/{loanId}.
type Ref struct {
	Collection string
	ID         string
}

// NewRef builds a Ref for the given collection and document id.
func NewRef(collection string, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// Validate checks that both parts of the Ref are non-empty.
func (r Ref) Validate() error {
	if r.Collection == "" {
		return ErrEmptyCollection
	}

	if r.ID == "" {
		return ErrEmptyDocumentID
	}

	return nil
}

// Documents is an alias type for a slice of Document.
type Documents = []Document

// Document is a DTO (data transfer object) used by the store to write documents and read them back.
//
// It is built on scalars to be completely agnostic of the shape of the entities in the client code;
// the store enforces no schema, clients must validate payloads at their own boundary.
//
// While its properties are exported, it should only be constructed with the supplied factory method BuildDocument.
type Document struct {
	Ref         Ref
	PayloadJSON []byte
	Revision    RevisionUint
}

// BuildDocument is a factory method for Document.
//
// It populates the Document with the given scalar input.
// Returns an error if the Ref is incomplete or payloadJSON is not valid JSON.
func BuildDocument(ref Ref, payloadJSON []byte) (Document, error) {
	if err := ref.Validate(); err != nil {
		return Document{}, err
	}

	if !json.Valid(payloadJSON) {
		return Document{}, ErrInvalidPayloadJSON
	}

	return Document{
		Ref:         ref,
		PayloadJSON: payloadJSON,
	}, nil
}
