package firecode

import "context"

// Traversable is the read capability the engine consumes from a backing
// store: ordered keyset pagination over a collection of documents.
//
// Implementations must return documents in ascending lexicographic ID order,
// starting strictly after the given document when after is non-nil and from
// the beginning of the collection when it is nil. An empty page signals
// exhaustion. Fetching the same page twice with the same cursor must yield
// the same documents (absent concurrent external mutation).
type Traversable[D any] interface {
	// FetchPage returns up to limit documents ordered by ID, strictly after
	// the cursor document. limit is always >= 1.
	FetchPage(ctx context.Context, after *Document[D], limit int) ([]Document[D], error)
}

// BatchWriter is the write capability a collection must provide to support
// migration: committing a group of mutations atomically in one call. The
// all-or-nothing guarantee is scoped to a single call; the engine never
// asks for atomicity across calls.
type BatchWriter[D any] interface {
	// CommitBatchWrite applies every write or none. writes is never empty.
	CommitBatchWrite(ctx context.Context, writes []Write[D]) error
}

// mutationOp discriminates the mutation variants carried by a Write.
type mutationOp int

const (
	opSet    mutationOp = iota // replace the whole document payload
	opMerge                    // merge the payload into the existing document
	opUpdate                   // patch individual fields
)

// Write pairs a document ID with one mutation inside an atomic batch write.
// Construct writes with NewSetWrite and NewUpdateWrite; stores switch on the
// accessors to translate them.
type Write[D any] struct {
	// ID addresses the document to mutate.
	ID string

	op     mutationOp
	data   D
	fields UpdateFields
}

// NewSetWrite builds a write that replaces (or, with merge, merges into) the
// payload of the addressed document, creating it if absent.
func NewSetWrite[D any](id string, data D, merge bool) Write[D] {
	op := opSet
	if merge {
		op = opMerge
	}
	return Write[D]{ID: id, op: op, data: data}
}

// NewUpdateWrite builds a write that patches individual fields of an
// existing document. Fields mapped to Delete are removed.
func NewUpdateWrite[D any](id string, fields UpdateFields) Write[D] {
	return Write[D]{ID: id, op: opUpdate, fields: fields}
}

// IsSet reports whether the write replaces or merges the whole payload, and
// returns the payload and merge flag when it does.
func (w Write[D]) IsSet() (data D, merge bool, ok bool) {
	if w.op == opSet || w.op == opMerge {
		return w.data, w.op == opMerge, true
	}
	var zero D
	return zero, false, false
}

// IsUpdate reports whether the write patches fields, and returns them when
// it does.
func (w Write[D]) IsUpdate() (UpdateFields, bool) {
	if w.op == opUpdate {
		return w.fields, true
	}
	return nil, false
}

// UpdateFields maps field names to their new values for an update mutation.
// Mapping a field to Delete removes it from the document.
type UpdateFields map[string]any

// Delete marks a field for removal inside UpdateFields.
var Delete = deleteField{}

type deleteField struct{}

// IsDelete reports whether an UpdateFields value is the Delete marker.
func IsDelete(v any) bool {
	_, ok := v.(deleteField)
	return ok
}
