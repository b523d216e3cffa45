package firecode_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seymurkafkas/firecode"
)

func TestNewFastTraverser(t *testing.T) {
	t.Run("NilSource", func(t *testing.T) {
		_, err := firecode.NewFastTraverser[map[string]any](nil)
		assert.ErrorIs(t, err, firecode.ErrNilTraversable)
	})

	t.Run("NegativeConcurrencyRejected", func(t *testing.T) {
		_, err := firecode.NewFastTraverser(newPopulatedStore(1), firecode.TraversalConfig{
			MaxConcurrentBatchCount: -2,
		})
		assert.ErrorIs(t, err, firecode.ErrInvalidConcurrency)
	})

	t.Run("ZeroConcurrencyGetsDefault", func(t *testing.T) {
		tr, err := firecode.NewFastTraverser(newPopulatedStore(1))
		require.NoError(t, err)
		assert.Equal(t, firecode.DefaultMaxConcurrentBatchCount, tr.Config().MaxConcurrentBatchCount)
	})
}

func TestFastTraverser_Traverse(t *testing.T) {
	ctx := context.Background()

	t.Run("VisitsEveryDocumentExactlyOnce", func(t *testing.T) {
		tr, err := firecode.NewFastTraverser(newPopulatedStore(100), firecode.TraversalConfig{
			BatchSize:               7,
			MaxConcurrentBatchCount: 4,
		})
		require.NoError(t, err)

		var mu sync.Mutex
		visited := make(map[string]int)
		res, err := tr.Traverse(ctx, func(ctx context.Context, batch firecode.Batch[map[string]any]) error {
			mu.Lock()
			defer mu.Unlock()
			for _, doc := range batch.Docs() {
				visited[doc.ID]++
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, firecode.TraversalResult{BatchCount: 15, DocCount: 100}, res)
		require.Len(t, visited, 100)
		for id, count := range visited {
			assert.Equal(t, 1, count, "document %s visited more than once", id)
		}
	})

	t.Run("ConcurrencyCeilingHolds", func(t *testing.T) {
		tr, err := firecode.NewFastTraverser(newPopulatedStore(24), firecode.TraversalConfig{
			BatchSize:               2,
			MaxConcurrentBatchCount: 3,
		})
		require.NoError(t, err)

		var current, peak atomic.Int32
		res, err := tr.Traverse(ctx, func(ctx context.Context, batch firecode.Batch[map[string]any]) error {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			current.Add(-1)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 12, res.BatchCount)
		assert.LessOrEqual(t, peak.Load(), int32(3))
		assert.GreaterOrEqual(t, peak.Load(), int32(2), "callbacks never overlapped")
	})

	t.Run("CompletionOrderMayDiffer", func(t *testing.T) {
		tr, err := firecode.NewFastTraverser(newPopulatedStore(8), firecode.TraversalConfig{
			BatchSize:               2,
			MaxConcurrentBatchCount: 2,
		})
		require.NoError(t, err)

		var mu sync.Mutex
		var completions []int
		res, err := tr.Traverse(ctx, func(ctx context.Context, batch firecode.Batch[map[string]any]) error {
			if batch.Index() == 0 {
				time.Sleep(150 * time.Millisecond)
			}
			mu.Lock()
			completions = append(completions, batch.Index())
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, firecode.TraversalResult{BatchCount: 4, DocCount: 8}, res)
		require.Len(t, completions, 4)
		assert.NotEqual(t, 0, completions[0], "slow first batch should not complete first")
	})

	t.Run("CallbackFailureDrainsInFlight", func(t *testing.T) {
		source := newInstrumentedSource[map[string]any](newPopulatedStore(60))
		source.delay = 5 * time.Millisecond
		tr, err := firecode.NewFastTraverser[map[string]any](source, firecode.TraversalConfig{
			BatchSize:               2,
			MaxConcurrentBatchCount: 2,
		})
		require.NoError(t, err)

		cause := errors.New("downstream rejected the batch")
		var drained atomic.Bool
		res, err := tr.Traverse(ctx, func(ctx context.Context, batch firecode.Batch[map[string]any]) error {
			if batch.Index() == 1 {
				return cause
			}
			time.Sleep(60 * time.Millisecond)
			// The failure elsewhere must not cancel this callback's context.
			drained.Store(ctx.Err() == nil)
			return nil
		})
		require.Error(t, err)
		assert.Equal(t, firecode.TraversalResult{}, res)

		var cbErr *firecode.CallbackError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, 1, cbErr.BatchIndex)
		assert.ErrorIs(t, err, cause)
		assert.True(t, drained.Load())
		// Admission stops once the failure is observed.
		assert.LessOrEqual(t, source.fetchCount(), 3)
	})

	t.Run("FetchFailureDrainsAndReports", func(t *testing.T) {
		source := newInstrumentedSource[map[string]any](newPopulatedStore(60))
		source.failAt = 2
		tr, err := firecode.NewFastTraverser[map[string]any](source, firecode.TraversalConfig{
			BatchSize:               2,
			MaxConcurrentBatchCount: 2,
		})
		require.NoError(t, err)

		var mu sync.Mutex
		var seen []int
		res, err := tr.Traverse(ctx, func(ctx context.Context, batch firecode.Batch[map[string]any]) error {
			mu.Lock()
			seen = append(seen, batch.Index())
			mu.Unlock()
			return nil
		})
		require.Error(t, err)
		assert.Equal(t, firecode.TraversalResult{}, res)

		var fetchErr *firecode.FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, 2, fetchErr.BatchIndex)
		assert.ErrorIs(t, err, errBackend)
		assert.ElementsMatch(t, []int{0, 1}, seen)
	})

	t.Run("EarlyExitWithSerialAdmission", func(t *testing.T) {
		source := newInstrumentedSource[map[string]any](newPopulatedStore(20))
		tr, err := firecode.NewFastTraverser[map[string]any](source, firecode.TraversalConfig{
			BatchSize:               2,
			MaxConcurrentBatchCount: 1,
		})
		require.NoError(t, err)

		res, err := tr.Traverse(ctx, func(ctx context.Context, batch firecode.Batch[map[string]any]) error {
			if batch.Index() == 2 {
				return firecode.ErrExitTraversal
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, firecode.TraversalResult{BatchCount: 3, DocCount: 6}, res)
		assert.Equal(t, 3, source.fetchCount())
	})

	t.Run("ExitEarlyPredicateSkipsTriggeringBatch", func(t *testing.T) {
		base, err := firecode.NewFastTraverser(newPopulatedStore(10), firecode.TraversalConfig{
			BatchSize:               3,
			MaxConcurrentBatchCount: 2,
		})
		require.NoError(t, err)
		tr := base.WithExitEarlyPredicate(func(batch firecode.Batch[map[string]any]) bool {
			return batch.Index() == 1
		})

		var invocations atomic.Int32
		res, err := tr.Traverse(ctx, func(ctx context.Context, batch firecode.Batch[map[string]any]) error {
			invocations.Add(1)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(1), invocations.Load())
		assert.Equal(t, firecode.TraversalResult{BatchCount: 1, DocCount: 3}, res)
	})

	t.Run("MaxDocCountNeverOvershot", func(t *testing.T) {
		tr, err := firecode.NewFastTraverser(newPopulatedStore(10), firecode.TraversalConfig{
			BatchSize:               3,
			MaxDocCount:             5,
			MaxConcurrentBatchCount: 2,
		})
		require.NoError(t, err)

		var mu sync.Mutex
		var sizes []int
		res, err := tr.Traverse(ctx, func(ctx context.Context, batch firecode.Batch[map[string]any]) error {
			mu.Lock()
			sizes = append(sizes, batch.Size())
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, firecode.TraversalResult{BatchCount: 2, DocCount: 5}, res)
		assert.ElementsMatch(t, []int{3, 2}, sizes)
	})

	t.Run("CancellationAborts", func(t *testing.T) {
		source := newInstrumentedSource[map[string]any](newPopulatedStore(200))
		source.delay = 10 * time.Millisecond
		tr, err := firecode.NewFastTraverser[map[string]any](source, firecode.TraversalConfig{
			BatchSize:               2,
			MaxConcurrentBatchCount: 2,
		})
		require.NoError(t, err)

		timed, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
		defer cancel()
		_, err = tr.Traverse(timed, func(ctx context.Context, batch firecode.Batch[map[string]any]) error {
			return nil
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("HooksBracketEachBatch", func(t *testing.T) {
		tr, err := firecode.NewFastTraverser(newPopulatedStore(8), firecode.TraversalConfig{
			BatchSize:               2,
			MaxConcurrentBatchCount: 3,
		})
		require.NoError(t, err)

		var mu sync.Mutex
		trace := make(map[int][]string)
		tr.OnBeforeBatchStart(func(batch firecode.Batch[map[string]any]) {
			mu.Lock()
			trace[batch.Index()] = append(trace[batch.Index()], "before")
			mu.Unlock()
		})
		tr.OnAfterBatchComplete(func(batch firecode.Batch[map[string]any]) {
			mu.Lock()
			trace[batch.Index()] = append(trace[batch.Index()], "after")
			mu.Unlock()
		})

		_, err = tr.Traverse(ctx, func(ctx context.Context, batch firecode.Batch[map[string]any]) error {
			mu.Lock()
			trace[batch.Index()] = append(trace[batch.Index()], "callback")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		require.Len(t, trace, 4)
		for index, events := range trace {
			assert.Equal(t, []string{"before", "callback", "after"}, events, "batch %d", index)
		}
	})

	t.Run("NilCallback", func(t *testing.T) {
		tr, err := firecode.NewFastTraverser(newPopulatedStore(1))
		require.NoError(t, err)
		_, err = tr.Traverse(ctx, nil)
		assert.ErrorIs(t, err, firecode.ErrNilCallback)
	})
}

func TestFastTraverser_WithConfig(t *testing.T) {
	base, err := firecode.NewFastTraverser(newPopulatedStore(4), firecode.TraversalConfig{
		MaxConcurrentBatchCount: 2,
	})
	require.NoError(t, err)

	derived, err := base.WithConfig(firecode.TraversalConfig{MaxConcurrentBatchCount: 8})
	require.NoError(t, err)
	assert.Equal(t, 2, base.Config().MaxConcurrentBatchCount)
	assert.Equal(t, 8, derived.Config().MaxConcurrentBatchCount)
	assert.Same(t, base.Traversable(), derived.Traversable())
}
