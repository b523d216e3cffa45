package firecode

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// BatchCallback is the per-batch unit of work handed to Traverse. It may
// perform I/O; the sequential traverser awaits it before fetching the next
// page. Returning ErrExitTraversal (possibly wrapped) stops the traversal
// cleanly after the current batch; any other error aborts it.
type BatchCallback[D any] func(ctx context.Context, batch Batch[D]) error

// DocumentCallback is the per-document unit of work handed to TraverseEach.
type DocumentCallback[D any] func(ctx context.Context, doc Document[D]) error

// BatchHook observes a batch lifecycle point. Hooks are synchronous and
// fire-and-forget: they cannot fail or veto the batch. Under the fast
// traverser hooks run concurrently and must be safe for concurrent use.
type BatchHook[D any] func(batch Batch[D])

// ExitEarlyPredicate inspects each fetched batch before its callback runs.
// Returning true finishes the traversal without invoking the callback on
// that batch and without counting it.
type ExitEarlyPredicate[D any] func(batch Batch[D]) bool

// Traverser walks a Traversable collection in batches. The two variants,
// sequential (NewTraverser) and concurrency-overlapped (NewFastTraverser),
// share this contract and differ only in scheduling.
//
// The With* methods return a new Traverser sharing the same Traversable but
// carrying the changed setting; the receiver is unaffected. The On* methods
// set the single optional hook slot for their lifecycle point, replacing any
// previously registered hook.
type Traverser[D any] interface {
	// Traverse fetches the collection page by page and invokes callback once
	// per non-empty batch. It returns the totals on success and only an
	// error, never a partial result, on failure.
	Traverse(ctx context.Context, callback BatchCallback[D]) (TraversalResult, error)

	// TraverseEach flattens every batch into sequential per-document
	// callback invocations, each awaited before the next.
	TraverseEach(ctx context.Context, callback DocumentCallback[D], cfg ...TraverseEachConfig[D]) (TraversalResult, error)

	// WithConfig returns a new Traverser with the given configuration. The
	// config is validated immediately.
	WithConfig(cfg TraversalConfig) (Traverser[D], error)

	// WithExitEarlyPredicate returns a new Traverser that stops traversing
	// as soon as the predicate accepts a fetched batch.
	WithExitEarlyPredicate(predicate ExitEarlyPredicate[D]) Traverser[D]

	// WithLogger returns a new Traverser that emits structured traversal
	// events to the given logger. The default logger discards everything.
	WithLogger(logger zerolog.Logger) Traverser[D]

	// OnBeforeBatchStart registers the hook invoked right before each
	// batch's callback. Re-registration replaces the previous hook.
	OnBeforeBatchStart(hook BatchHook[D])

	// OnAfterBatchComplete registers the hook invoked right after each
	// batch's callback returns without aborting. Re-registration replaces
	// the previous hook.
	OnAfterBatchComplete(hook BatchHook[D])

	// Traversable returns the underlying collection handle.
	Traversable() Traversable[D]

	// Config returns the effective (defaulted) traversal configuration.
	Config() TraversalConfig
}

// traverser is the sequential variant: one batch resident at a time, every
// suspension point (fetch, callback, delay) awaited in strict order.
type traverser[D any] struct {
	source    Traversable[D]
	cfg       TraversalConfig
	exitEarly ExitEarlyPredicate[D]
	logger    zerolog.Logger
	before    BatchHook[D]
	after     BatchHook[D]
}

// NewTraverser creates a sequential Traverser over source. At most one
// config may be given; omitted or zero fields fall back to defaults. Invalid
// configuration is rejected here, never mid-traversal.
func NewTraverser[D any](source Traversable[D], cfg ...TraversalConfig) (Traverser[D], error) {
	c, err := resolveConfig(source == nil, cfg)
	if err != nil {
		return nil, err
	}
	return &traverser[D]{source: source, cfg: c, logger: zerolog.Nop()}, nil
}

// resolveConfig validates and normalizes an optional config argument.
func resolveConfig(nilSource bool, cfg []TraversalConfig) (TraversalConfig, error) {
	if nilSource {
		return TraversalConfig{}, ErrNilTraversable
	}
	var c TraversalConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if err := c.Validate(); err != nil {
		return TraversalConfig{}, err
	}
	return c.withDefaults(), nil
}

func (t *traverser[D]) Traverse(ctx context.Context, callback BatchCallback[D]) (TraversalResult, error) {
	if callback == nil {
		return TraversalResult{}, ErrNilCallback
	}

	var (
		cursor  *Document[D]
		batches int
		docs    int
		exit    bool
	)
	for !exit {
		if err := ctx.Err(); err != nil {
			return TraversalResult{}, err
		}
		limit := t.cfg.nextFetchLimit(docs)
		if limit == 0 {
			break
		}

		page, err := t.source.FetchPage(ctx, cursor, limit)
		if err != nil {
			return TraversalResult{}, &FetchError{BatchIndex: batches, Err: err}
		}
		if len(page) == 0 {
			break
		}
		batch := newBatch(page, batches)
		if t.exitEarly != nil && t.exitEarly(batch) {
			t.logger.Debug().Int("batch_index", batch.Index()).Msg("exit predicate matched, stopping traversal")
			break
		}

		exit, err = t.invoke(ctx, callback, batch)
		if err != nil {
			return TraversalResult{}, err
		}

		last := batch.Last()
		cursor = &last
		batches++
		docs += batch.Size()
		t.logger.Debug().
			Int("batch_index", batch.Index()).
			Int("batch_size", batch.Size()).
			Int("doc_count", docs).
			Msg("batch traversed")

		if !exit {
			if err := sleepCtx(ctx, t.cfg.DelayBetweenBatches); err != nil {
				return TraversalResult{}, err
			}
		}
	}

	result := TraversalResult{BatchCount: batches, DocCount: docs}
	t.logger.Info().
		Int("batch_count", result.BatchCount).
		Int("doc_count", result.DocCount).
		Msg("traversal complete")
	return result, nil
}

// invoke runs the hooks and the callback for one batch. It reports whether
// the callback signalled early exit; a non-exit callback failure aborts the
// traversal and skips the after hook.
func (t *traverser[D]) invoke(ctx context.Context, callback BatchCallback[D], batch Batch[D]) (bool, error) {
	if t.before != nil {
		t.before(batch)
	}
	exit := false
	if err := callback(ctx, batch); err != nil {
		if !errors.Is(err, ErrExitTraversal) {
			return false, &CallbackError{BatchIndex: batch.Index(), Err: err}
		}
		exit = true
	}
	if t.after != nil {
		t.after(batch)
	}
	return exit, nil
}

func (t *traverser[D]) TraverseEach(ctx context.Context, callback DocumentCallback[D], cfg ...TraverseEachConfig[D]) (TraversalResult, error) {
	return traverseEach[D](ctx, t, t.logger, callback, cfg)
}

func (t *traverser[D]) WithConfig(cfg TraversalConfig) (Traverser[D], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clone := *t
	clone.cfg = cfg.withDefaults()
	return &clone, nil
}

func (t *traverser[D]) WithExitEarlyPredicate(predicate ExitEarlyPredicate[D]) Traverser[D] {
	clone := *t
	clone.exitEarly = predicate
	return &clone
}

func (t *traverser[D]) WithLogger(logger zerolog.Logger) Traverser[D] {
	clone := *t
	clone.logger = logger
	return &clone
}

func (t *traverser[D]) OnBeforeBatchStart(hook BatchHook[D]) { t.before = hook }

func (t *traverser[D]) OnAfterBatchComplete(hook BatchHook[D]) { t.after = hook }

func (t *traverser[D]) Traversable() Traversable[D] { return t.source }

func (t *traverser[D]) Config() TraversalConfig { return t.cfg }

// traverseEach adapts a per-document callback onto a batch traversal:
// within every batch, documents are visited one at a time, each awaited
// before the next. Under the fast traverser distinct batches may still
// overlap; order is sequential only within a batch.
//
// A document callback returning ErrExitTraversal stops the whole traversal;
// the remaining documents of that batch are not visited, but the batch
// itself, already fetched and consumed, stays counted.
func traverseEach[D any](ctx context.Context, t Traverser[D], logger zerolog.Logger, callback DocumentCallback[D], cfgs []TraverseEachConfig[D]) (TraversalResult, error) {
	if callback == nil {
		return TraversalResult{}, ErrNilCallback
	}
	var cfg TraverseEachConfig[D]
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	if err := cfg.Validate(); err != nil {
		return TraversalResult{}, err
	}
	handle := cfg.ErrorHandler
	if handle == nil {
		handle = func(doc Document[D], err error) {
			logger.Warn().Str("doc_id", doc.ID).Err(err).Msg("document callback failed, continuing")
		}
	}

	return t.Traverse(ctx, func(ctx context.Context, batch Batch[D]) error {
		for i, doc := range batch.Docs() {
			if i > 0 {
				if err := sleepCtx(ctx, cfg.DelayBetweenDocs); err != nil {
					return err
				}
			}
			err := callback(ctx, doc)
			switch {
			case err == nil:
			case errors.Is(err, ErrExitTraversal):
				return err
			case cfg.OnError == ErrorPolicyContinue:
				handle(doc, err)
			default:
				return err
			}
		}
		return nil
	})
}

// sleepCtx pauses for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
