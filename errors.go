package firecode

import (
	"errors"
	"fmt"
)

// ErrExitTraversal is a control sentinel, not a failure. A batch or document
// callback returns it (or an error wrapping it) to stop the traversal before
// natural exhaustion: no further pages are fetched, already admitted batches
// run to completion, and the traversal finishes with a normal result. It is
// never surfaced to the caller of Traverse.
var ErrExitTraversal = errors.New("firecode: exit traversal")

// Configuration errors, raised at traverser construction or WithConfig and
// never mid-traversal. Multiple violations are reported together in one
// aggregated error.
var (
	ErrInvalidBatchSize   = errors.New("batch size cannot be negative")
	ErrInvalidDelay       = errors.New("delay between batches cannot be negative")
	ErrInvalidMaxDocCount = errors.New("max doc count cannot be negative")
	ErrInvalidConcurrency = errors.New("max concurrent batch count cannot be negative")
	ErrInvalidDocDelay    = errors.New("delay between documents cannot be negative")
	ErrNilTraversable     = errors.New("traversable cannot be nil")
	ErrNilCallback        = errors.New("callback cannot be nil")
)

// ErrNotWritable is returned when a migrator is bound to a traverser whose
// traversable does not implement BatchWriter.
var ErrNotWritable = errors.New("traversable does not support batch writes")

// Migration argument errors, raised before any traversal work starts.
var (
	ErrNilTraverser   = errors.New("traverser cannot be nil")
	ErrNilGetter      = errors.New("derivation function cannot be nil")
	ErrNoUpdateFields = errors.New("update requires at least one field")
	ErrEmptyFieldName = errors.New("field name cannot be empty")
	ErrSameField      = errors.New("old and new field names are identical")
)

// FetchError reports a failed page fetch. BatchIndex is the index the page
// would have had.
type FetchError struct {
	BatchIndex int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching batch %d: %v", e.BatchIndex, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CallbackError reports a batch or document callback that returned a
// non-exit error, aborting the traversal.
type CallbackError struct {
	BatchIndex int
	Err        error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("batch %d callback failed: %v", e.BatchIndex, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// CommitError reports a failed atomic batch write during a migration.
// Batches committed before the failure stay committed; migration is atomic
// per batch, not across batches.
type CommitError struct {
	BatchIndex int
	Err        error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("committing batch %d: %v", e.BatchIndex, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
