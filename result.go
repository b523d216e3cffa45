package firecode

// TraversalResult holds the totals observed across a whole traversal. It is
// finalized only when the traversal terminates, whether by exhaustion, by
// reaching MaxDocCount, or by an early-exit signal. Failed traversals return
// an error instead of a partial result.
type TraversalResult struct {
	// BatchCount is the number of batches whose callback was invoked.
	BatchCount int

	// DocCount is the number of documents visited.
	DocCount int
}

// MigrationResult extends TraversalResult with the number of documents that
// passed the migration predicate and were included in a committed write.
// DocCount remains the traversed total, so MigratedDocCount <= DocCount.
type MigrationResult struct {
	TraversalResult

	// MigratedDocCount is the number of documents actually written.
	MigratedDocCount int
}
