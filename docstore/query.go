package docstore

// Predicate is an equality criterion on a top-level field of a document payload.
type Predicate struct {
	field string
	value string
}

// P is a factory method for Predicate, used like P("bookId", bookID).
func P(field string, value string) Predicate {
	return Predicate{field: field, value: value}
}

// Field returns the payload field this predicate matches on.
func (p Predicate) Field() string {
	return p.field
}

// Value returns the value this predicate matches against.
func (p Predicate) Value() string {
	return p.value
}

// Query defines criteria for querying documents of one collection.
// All predicates must match (AND semantics). A query with no predicates matches
// every document in the collection.
//
// Inside a transaction, queries read from the same snapshot as Get, and the set
// of matched documents takes part in conflict detection: if a concurrent commit
// changes which documents match, or changes a matched document, the transaction
// fails with ErrTxConflict.
type Query struct {
	collection string
	predicates []Predicate
}

// BuildQuery is a factory method for Query.
func BuildQuery(collection string, predicates ...Predicate) Query {
	return Query{
		collection: collection,
		predicates: predicates,
	}
}

// Collection returns the collection this query runs against.
func (q Query) Collection() string {
	return q.collection
}

// Predicates returns the equality predicates of this query.
func (q Query) Predicates() []Predicate {
	return q.predicates
}

// Validate checks that the query addresses a collection.
func (q Query) Validate() error {
	if q.collection == "" {
		return ErrEmptyCollection
	}

	return nil
}
