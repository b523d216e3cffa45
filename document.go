package firecode

// Document is a single record of a traversable collection: a payload of type
// D addressed by a stable string ID. Collections are traversed in ascending
// lexicographic ID order, so IDs double as the keyset cursor (sortable IDs
// such as ULIDs work well).
type Document[D any] struct {
	// ID uniquely identifies the document within its collection.
	ID string

	// Data is the document payload.
	Data D
}

// Batch is an immutable snapshot of one fetched page: an ordered, finite
// group of documents plus the 0-based position of the page within the
// traversal. A batch is created by a page fetch, handed to exactly one
// callback invocation, and not retained by the engine afterwards.
type Batch[D any] struct {
	docs  []Document[D]
	index int
}

// newBatch wraps a fetched page. The engine never mutates the slice after
// construction.
func newBatch[D any](docs []Document[D], index int) Batch[D] {
	return Batch[D]{docs: docs, index: index}
}

// Docs returns the documents in the batch in collection order. Callers must
// treat the returned slice as read-only.
func (b Batch[D]) Docs() []Document[D] {
	return b.docs
}

// Index returns the 0-based index of the batch within the traversal.
func (b Batch[D]) Index() int {
	return b.index
}

// Size returns the number of documents in the batch.
func (b Batch[D]) Size() int {
	return len(b.docs)
}

// IsEmpty reports whether the batch contains no documents.
func (b Batch[D]) IsEmpty() bool {
	return len(b.docs) == 0
}

// First returns the first document of the batch. It panics on an empty
// batch; the engine never invokes callbacks with one.
func (b Batch[D]) First() Document[D] {
	return b.docs[0]
}

// Last returns the last document of the batch, the document the next page's
// cursor is derived from. It panics on an empty batch.
func (b Batch[D]) Last() Document[D] {
	return b.docs[len(b.docs)-1]
}
