package firecode

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// fastTraverser overlaps page fetching with callback execution, trading
// memory for throughput. Pages are still enumerated strictly in collection
// order by a single scheduling loop that owns the cursor and the counters;
// only the callbacks run concurrently, up to MaxConcurrentBatchCount at a
// time. Callback completion order is unspecified: batch k's callback may
// settle after batch k+1's.
type fastTraverser[D any] struct {
	source    Traversable[D]
	cfg       TraversalConfig
	exitEarly ExitEarlyPredicate[D]
	logger    zerolog.Logger
	before    BatchHook[D]
	after     BatchHook[D]
}

// NewFastTraverser creates a concurrency-overlapped Traverser over source.
// At most one config may be given; omitted or zero fields fall back to
// defaults. Hooks and callbacks registered on the returned Traverser run
// concurrently and must be safe for concurrent use.
func NewFastTraverser[D any](source Traversable[D], cfg ...TraversalConfig) (Traverser[D], error) {
	c, err := resolveConfig(source == nil, cfg)
	if err != nil {
		return nil, err
	}
	return &fastTraverser[D]{source: source, cfg: c, logger: zerolog.Nop()}, nil
}

func (t *fastTraverser[D]) Traverse(ctx context.Context, callback BatchCallback[D]) (TraversalResult, error) {
	if callback == nil {
		return TraversalResult{}, ErrNilCallback
	}

	// admitCtx gates admission only: it is cancelled by the caller's context
	// or by the first callback failure. Callbacks themselves receive the
	// caller's context, so an internal failure stops new admissions while
	// in-flight batches drain undisturbed.
	group, admitCtx := errgroup.WithContext(ctx)
	inflight := semaphore.NewWeighted(int64(t.cfg.MaxConcurrentBatchCount))

	var (
		exitSignal atomic.Bool
		cursor     *Document[D]
		batches    int
		docs       int
		fetchErr   error
	)
	for {
		if exitSignal.Load() {
			break
		}
		limit := t.cfg.nextFetchLimit(docs)
		if limit == 0 {
			break
		}

		// A unit is admitted only when fewer than MaxConcurrentBatchCount
		// fetched batches have unsettled callbacks; the slot covers the
		// fetch as well, so at most that many pages are ever resident.
		if err := inflight.Acquire(admitCtx, 1); err != nil {
			break
		}
		if exitSignal.Load() {
			inflight.Release(1)
			break
		}

		page, err := t.source.FetchPage(admitCtx, cursor, limit)
		if err != nil {
			inflight.Release(1)
			fetchErr = &FetchError{BatchIndex: batches, Err: err}
			break
		}
		if len(page) == 0 {
			inflight.Release(1)
			break
		}
		batch := newBatch(page, batches)
		if t.exitEarly != nil && t.exitEarly(batch) {
			inflight.Release(1)
			t.logger.Debug().Int("batch_index", batch.Index()).Msg("exit predicate matched, stopping traversal")
			break
		}

		// The next unit's cursor derives from this page now, before the
		// callback settles; coverage stays gap-free and non-overlapping
		// regardless of callback latency.
		last := batch.Last()
		cursor = &last
		batches++
		docs += batch.Size()

		group.Go(func() error {
			defer inflight.Release(1)
			if t.before != nil {
				t.before(batch)
			}
			if err := callback(ctx, batch); err != nil {
				if !errors.Is(err, ErrExitTraversal) {
					return &CallbackError{BatchIndex: batch.Index(), Err: err}
				}
				exitSignal.Store(true)
			}
			if t.after != nil {
				t.after(batch)
			}
			t.logger.Debug().
				Int("batch_index", batch.Index()).
				Int("batch_size", batch.Size()).
				Msg("batch traversed")
			return nil
		})

		if err := sleepCtx(admitCtx, t.cfg.DelayBetweenBatches); err != nil {
			break
		}
	}

	// Every admitted unit settles before the result is assembled. The first
	// callback failure wins; a scheduler-side fetch failure is reported only
	// when no callback failed, since a failed callback cancels admitCtx and
	// aborts any in-progress fetch with it.
	if err := group.Wait(); err != nil {
		return TraversalResult{}, err
	}
	if fetchErr != nil {
		return TraversalResult{}, fetchErr
	}
	if err := ctx.Err(); err != nil {
		return TraversalResult{}, err
	}

	result := TraversalResult{BatchCount: batches, DocCount: docs}
	t.logger.Info().
		Int("batch_count", result.BatchCount).
		Int("doc_count", result.DocCount).
		Msg("traversal complete")
	return result, nil
}

func (t *fastTraverser[D]) TraverseEach(ctx context.Context, callback DocumentCallback[D], cfg ...TraverseEachConfig[D]) (TraversalResult, error) {
	return traverseEach[D](ctx, t, t.logger, callback, cfg)
}

func (t *fastTraverser[D]) WithConfig(cfg TraversalConfig) (Traverser[D], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clone := *t
	clone.cfg = cfg.withDefaults()
	return &clone, nil
}

func (t *fastTraverser[D]) WithExitEarlyPredicate(predicate ExitEarlyPredicate[D]) Traverser[D] {
	clone := *t
	clone.exitEarly = predicate
	return &clone
}

func (t *fastTraverser[D]) WithLogger(logger zerolog.Logger) Traverser[D] {
	clone := *t
	clone.logger = logger
	return &clone
}

func (t *fastTraverser[D]) OnBeforeBatchStart(hook BatchHook[D]) { t.before = hook }

func (t *fastTraverser[D]) OnAfterBatchComplete(hook BatchHook[D]) { t.after = hook }

func (t *fastTraverser[D]) Traversable() Traversable[D] { return t.source }

func (t *fastTraverser[D]) Config() TraversalConfig { return t.cfg }
