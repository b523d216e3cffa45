package firecode_test

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seymurkafkas/firecode"
	"github.com/seymurkafkas/firecode/memstore"
)

func TestTraverser_TraverseEach(t *testing.T) {
	ctx := context.Background()

	t.Run("VisitsDocumentsInOrder", func(t *testing.T) {
		tr, err := firecode.NewTraverser(newPopulatedStore(7), firecode.TraversalConfig{BatchSize: 3})
		require.NoError(t, err)

		var visited []string
		res, err := tr.TraverseEach(ctx, func(ctx context.Context, doc firecode.Document[map[string]any]) error {
			visited = append(visited, doc.ID)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, firecode.TraversalResult{BatchCount: 3, DocCount: 7}, res)
		require.Len(t, visited, 7)
		for i, id := range visited {
			assert.Equal(t, docID(i), id)
		}
	})

	t.Run("AbortsOnFirstFailureByDefault", func(t *testing.T) {
		tr, err := firecode.NewTraverser(newPopulatedStore(9), firecode.TraversalConfig{BatchSize: 3})
		require.NoError(t, err)

		cause := errors.New("document rejected")
		var visited int
		res, err := tr.TraverseEach(ctx, func(ctx context.Context, doc firecode.Document[map[string]any]) error {
			if doc.ID == docID(4) {
				return cause
			}
			visited++
			return nil
		})
		require.Error(t, err)
		assert.Equal(t, firecode.TraversalResult{}, res)
		assert.ErrorIs(t, err, cause)

		var cbErr *firecode.CallbackError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, 1, cbErr.BatchIndex)
		assert.Equal(t, 4, visited)
	})

	t.Run("ContinuePolicyVisitsEverything", func(t *testing.T) {
		tr, err := firecode.NewTraverser(newPopulatedStore(6), firecode.TraversalConfig{BatchSize: 2})
		require.NoError(t, err)

		cause := errors.New("document rejected")
		var failed []string
		res, err := tr.TraverseEach(ctx, func(ctx context.Context, doc firecode.Document[map[string]any]) error {
			if doc.ID == docID(1) || doc.ID == docID(4) {
				return cause
			}
			return nil
		}, firecode.TraverseEachConfig[map[string]any]{
			OnError: firecode.ErrorPolicyContinue,
			ErrorHandler: func(doc firecode.Document[map[string]any], err error) {
				require.ErrorIs(t, err, cause)
				failed = append(failed, doc.ID)
			},
		})
		require.NoError(t, err)
		assert.Equal(t, firecode.TraversalResult{BatchCount: 3, DocCount: 6}, res)
		assert.Equal(t, []string{docID(1), docID(4)}, failed)
	})

	t.Run("ContinuePolicyLogsWithoutHandler", func(t *testing.T) {
		var buf bytes.Buffer
		base, err := firecode.NewTraverser(newPopulatedStore(3))
		require.NoError(t, err)
		tr := base.WithLogger(zerolog.New(&buf))

		res, err := tr.TraverseEach(ctx, func(ctx context.Context, doc firecode.Document[map[string]any]) error {
			if doc.ID == docID(1) {
				return errors.New("document rejected")
			}
			return nil
		}, firecode.TraverseEachConfig[map[string]any]{OnError: firecode.ErrorPolicyContinue})
		require.NoError(t, err)
		assert.Equal(t, 3, res.DocCount)

		logged := buf.String()
		assert.Contains(t, logged, docID(1))
		assert.Contains(t, logged, "document callback failed")
	})

	t.Run("EarlyExitStopsMidBatch", func(t *testing.T) {
		tr, err := firecode.NewTraverser(newPopulatedStore(9), firecode.TraversalConfig{BatchSize: 3})
		require.NoError(t, err)

		var visited int
		res, err := tr.TraverseEach(ctx, func(ctx context.Context, doc firecode.Document[map[string]any]) error {
			visited++
			if doc.ID == docID(1) {
				return firecode.ErrExitTraversal
			}
			return nil
		})
		require.NoError(t, err)
		// The remaining document of the batch is not visited, but the whole
		// fetched batch stays counted.
		assert.Equal(t, 2, visited)
		assert.Equal(t, firecode.TraversalResult{BatchCount: 1, DocCount: 3}, res)
	})

	t.Run("DelayBetweenDocs", func(t *testing.T) {
		tr, err := firecode.NewTraverser(newPopulatedStore(3))
		require.NoError(t, err)

		start := time.Now()
		_, err = tr.TraverseEach(ctx, func(ctx context.Context, doc firecode.Document[map[string]any]) error {
			return nil
		}, firecode.TraverseEachConfig[map[string]any]{DelayBetweenDocs: 20 * time.Millisecond})
		require.NoError(t, err)
		// Three documents mean two inter-document pauses.
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})

	t.Run("NegativeDocDelayRejected", func(t *testing.T) {
		tr, err := firecode.NewTraverser(newPopulatedStore(1))
		require.NoError(t, err)

		_, err = tr.TraverseEach(ctx, func(ctx context.Context, doc firecode.Document[map[string]any]) error {
			return nil
		}, firecode.TraverseEachConfig[map[string]any]{DelayBetweenDocs: -time.Second})
		assert.ErrorIs(t, err, firecode.ErrInvalidDocDelay)
	})

	t.Run("NilCallback", func(t *testing.T) {
		tr, err := firecode.NewTraverser(newPopulatedStore(1))
		require.NoError(t, err)
		_, err = tr.TraverseEach(ctx, nil)
		assert.ErrorIs(t, err, firecode.ErrNilCallback)
	})

	t.Run("EmptyCollection", func(t *testing.T) {
		tr, err := firecode.NewTraverser(memstore.New[map[string]any]())
		require.NoError(t, err)

		res, err := tr.TraverseEach(ctx, func(ctx context.Context, doc firecode.Document[map[string]any]) error {
			t.Fatal("callback must not run on an empty collection")
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, firecode.TraversalResult{}, res)
	})
}

func TestFastTraverser_TraverseEach(t *testing.T) {
	// Batches may overlap, but within one batch documents stay sequential.
	tr, err := firecode.NewFastTraverser(newPopulatedStore(20), firecode.TraversalConfig{
		BatchSize:               4,
		MaxConcurrentBatchCount: 3,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	perBatch := make(map[int][]string)
	visited := make(map[string]int)
	res, err := tr.TraverseEach(context.Background(), func(ctx context.Context, doc firecode.Document[map[string]any]) error {
		mu.Lock()
		defer mu.Unlock()
		visited[doc.ID]++
		n := doc.Data["n"].(int)
		perBatch[n/4] = append(perBatch[n/4], doc.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, firecode.TraversalResult{BatchCount: 5, DocCount: 20}, res)
	assert.Len(t, visited, 20)
	for id, count := range visited {
		assert.Equal(t, 1, count, "document %s visited more than once", id)
	}
	for batchOrdinal, ids := range perBatch {
		require.Len(t, ids, 4)
		assert.True(t, sort.StringsAreSorted(ids), "batch %d visited out of order: %v", batchOrdinal, ids)
	}
}
