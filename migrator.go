package firecode

import (
	"context"
	"errors"
	"sync/atomic"
)

// Predicate filters the documents a migration applies to. A document is
// migrated only when every registered predicate accepts it; with none
// registered, everything is migrated.
type Predicate[D any] func(doc Document[D]) bool

// SetDataGetter derives the replacement payload for one document. Returning
// ok=false leaves the document out of the batch write; it still counts as
// traversed, just not migrated.
type SetDataGetter[D any] func(doc Document[D]) (data D, ok bool)

// UpdateFieldsGetter derives the field patch for one document. Returning
// ok=false, or an empty patch, leaves the document out of the batch write.
type UpdateFieldsGetter[D any] func(doc Document[D]) (fields UpdateFields, ok bool)

// SetOption tunes how set mutations apply.
type SetOption func(*setOptions)

type setOptions struct {
	merge bool
}

// WithMerge makes set mutations merge the payload into the existing
// document instead of replacing it wholesale.
func WithMerge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

// resolveSetOptions folds the option list once, at the top of each
// migration call.
func resolveSetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Migrator applies one bulk mutation per call to every document that
// satisfies the composed predicate, batch by batch, over any Traverser
// whose Traversable also implements BatchWriter.
//
// Each visited batch produces at most one atomic batch write containing the
// accepted documents; the all-or-nothing guarantee holds within a batch,
// never across batches. A commit failure aborts the remaining traversal and
// surfaces as a CommitError, while prior batches stay committed.
//
// WithPredicate and WithTraverser return new Migrators and leave the
// receiver untouched; the hook registrations replace the single slot for
// their lifecycle point. When the underlying traverser is a fast traverser,
// batches migrate concurrently; hooks must then be safe for concurrent use.
type Migrator[D any] interface {
	// Set replaces the payload of every accepted document with data,
	// creating missing documents. WithMerge merges instead of replacing.
	Set(ctx context.Context, data D, opts ...SetOption) (MigrationResult, error)

	// SetWithDerivedData is Set with a per-document payload derived from
	// the visited document.
	SetWithDerivedData(ctx context.Context, getData SetDataGetter[D], opts ...SetOption) (MigrationResult, error)

	// Update patches the given fields on every accepted document that
	// exists. Fields mapped to Delete are removed.
	Update(ctx context.Context, fields UpdateFields) (MigrationResult, error)

	// UpdateWithDerivedData is Update with a per-document patch derived
	// from the visited document.
	UpdateWithDerivedData(ctx context.Context, getFields UpdateFieldsGetter[D]) (MigrationResult, error)

	// WithPredicate returns a new Migrator that additionally requires
	// predicate; it composes by AND with the already registered predicates.
	// A nil predicate is ignored.
	WithPredicate(predicate Predicate[D]) Migrator[D]

	// WithTraverser returns a new Migrator bound to t, preserving the
	// registered predicates and hooks. t's traversable must implement
	// BatchWriter.
	WithTraverser(t Traverser[D]) (Migrator[D], error)

	// OnBeforeBatchStart registers the hook invoked before each batch is
	// filtered and committed. Re-registration replaces the previous hook.
	OnBeforeBatchStart(hook BatchHook[D])

	// OnAfterBatchComplete registers the hook invoked after each batch's
	// write has committed. Re-registration replaces the previous hook.
	OnAfterBatchComplete(hook BatchHook[D])

	// Traverser returns the underlying traverser.
	Traverser() Traverser[D]
}

type migrator[D any] struct {
	traverser  Traverser[D]
	writer     BatchWriter[D]
	predicates []Predicate[D]
	before     BatchHook[D]
	after      BatchHook[D]
}

// NewMigrator creates a Migrator over t. The traversable behind t must also
// implement BatchWriter[D]; read-only traversables are rejected with
// ErrNotWritable.
func NewMigrator[D any](t Traverser[D]) (Migrator[D], error) {
	if t == nil {
		return nil, ErrNilTraverser
	}
	writer, ok := t.Traversable().(BatchWriter[D])
	if !ok {
		return nil, ErrNotWritable
	}
	return &migrator[D]{traverser: t, writer: writer}, nil
}

func (m *migrator[D]) Set(ctx context.Context, data D, opts ...SetOption) (MigrationResult, error) {
	o := resolveSetOptions(opts)
	return m.run(ctx, func(doc Document[D]) (Write[D], bool) {
		return NewSetWrite(doc.ID, data, o.merge), true
	})
}

func (m *migrator[D]) SetWithDerivedData(ctx context.Context, getData SetDataGetter[D], opts ...SetOption) (MigrationResult, error) {
	if getData == nil {
		return MigrationResult{}, ErrNilGetter
	}
	o := resolveSetOptions(opts)
	return m.run(ctx, func(doc Document[D]) (Write[D], bool) {
		data, ok := getData(doc)
		if !ok {
			return Write[D]{}, false
		}
		return NewSetWrite(doc.ID, data, o.merge), true
	})
}

func (m *migrator[D]) Update(ctx context.Context, fields UpdateFields) (MigrationResult, error) {
	if len(fields) == 0 {
		return MigrationResult{}, ErrNoUpdateFields
	}
	return m.run(ctx, func(doc Document[D]) (Write[D], bool) {
		return NewUpdateWrite[D](doc.ID, fields), true
	})
}

func (m *migrator[D]) UpdateWithDerivedData(ctx context.Context, getFields UpdateFieldsGetter[D]) (MigrationResult, error) {
	if getFields == nil {
		return MigrationResult{}, ErrNilGetter
	}
	return m.run(ctx, func(doc Document[D]) (Write[D], bool) {
		fields, ok := getFields(doc)
		if !ok || len(fields) == 0 {
			return Write[D]{}, false
		}
		return NewUpdateWrite[D](doc.ID, fields), true
	})
}

// run traverses the collection once, building and committing one atomic
// batch write per batch from the documents that pass the predicate and
// yield a write. The migrated counter is atomic so run composes with the
// fast traverser's concurrent batches.
func (m *migrator[D]) run(ctx context.Context, build func(Document[D]) (Write[D], bool)) (MigrationResult, error) {
	var migrated atomic.Int64
	res, err := m.traverser.Traverse(ctx, func(ctx context.Context, batch Batch[D]) error {
		if m.before != nil {
			m.before(batch)
		}
		writes := make([]Write[D], 0, batch.Size())
		for _, doc := range batch.Docs() {
			if !m.accepts(doc) {
				continue
			}
			write, ok := build(doc)
			if !ok {
				continue
			}
			writes = append(writes, write)
		}
		if len(writes) > 0 {
			if err := m.writer.CommitBatchWrite(ctx, writes); err != nil {
				return &CommitError{BatchIndex: batch.Index(), Err: err}
			}
			migrated.Add(int64(len(writes)))
		}
		if m.after != nil {
			m.after(batch)
		}
		return nil
	})
	if err != nil {
		// The traverser reports callback failures as CallbackError; a failed
		// commit is our own callback's doing, so surface it undisguised.
		var commitErr *CommitError
		if errors.As(err, &commitErr) {
			return MigrationResult{}, commitErr
		}
		return MigrationResult{}, err
	}
	return MigrationResult{TraversalResult: res, MigratedDocCount: int(migrated.Load())}, nil
}

// accepts evaluates the composed predicate: logical AND over every
// registered predicate, order-independent.
func (m *migrator[D]) accepts(doc Document[D]) bool {
	for _, predicate := range m.predicates {
		if !predicate(doc) {
			return false
		}
	}
	return true
}

func (m *migrator[D]) WithPredicate(predicate Predicate[D]) Migrator[D] {
	clone := *m
	if predicate != nil {
		predicates := make([]Predicate[D], len(m.predicates), len(m.predicates)+1)
		copy(predicates, m.predicates)
		clone.predicates = append(predicates, predicate)
	}
	return &clone
}

func (m *migrator[D]) WithTraverser(t Traverser[D]) (Migrator[D], error) {
	if t == nil {
		return nil, ErrNilTraverser
	}
	writer, ok := t.Traversable().(BatchWriter[D])
	if !ok {
		return nil, ErrNotWritable
	}
	clone := *m
	clone.traverser = t
	clone.writer = writer
	return &clone, nil
}

func (m *migrator[D]) OnBeforeBatchStart(hook BatchHook[D]) { m.before = hook }

func (m *migrator[D]) OnAfterBatchComplete(hook BatchHook[D]) { m.after = hook }

func (m *migrator[D]) Traverser() Traverser[D] { return m.traverser }

// DeleteField removes one field from every document accepted by m's
// predicate.
func DeleteField[D any](ctx context.Context, m Migrator[D], field string) (MigrationResult, error) {
	return DeleteFields(ctx, m, field)
}

// DeleteFields removes the given fields from every document accepted by m's
// predicate.
func DeleteFields[D any](ctx context.Context, m Migrator[D], fields ...string) (MigrationResult, error) {
	if len(fields) == 0 {
		return MigrationResult{}, ErrNoUpdateFields
	}
	patch := make(UpdateFields, len(fields))
	for _, field := range fields {
		if field == "" {
			return MigrationResult{}, ErrEmptyFieldName
		}
		patch[field] = Delete
	}
	return m.Update(ctx, patch)
}

// RenameField moves the value of oldField to newField on every accepted
// document of a map-payload collection, deleting the old field. Documents
// without oldField are skipped (traversed, not migrated).
func RenameField[D ~map[string]V, V any](ctx context.Context, m Migrator[D], oldField, newField string) (MigrationResult, error) {
	if oldField == "" || newField == "" {
		return MigrationResult{}, ErrEmptyFieldName
	}
	if oldField == newField {
		return MigrationResult{}, ErrSameField
	}
	return m.UpdateWithDerivedData(ctx, func(doc Document[D]) (UpdateFields, bool) {
		value, ok := doc.Data[oldField]
		if !ok {
			return nil, false
		}
		return UpdateFields{newField: value, oldField: Delete}, true
	})
}
