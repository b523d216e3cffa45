// Package firecode provides a traversal and migration engine for large
// document collections that expose cursor-based range queries and batched
// atomic writes.
//
// The engine walks a collection in bounded-size batches so that memory usage
// stays proportional to the batch size regardless of collection size. Two
// traverser variants share one contract:
//   - NewTraverser: sequential traversal. One batch is resident at a time and
//     each batch callback is awaited before the next page is fetched.
//   - NewFastTraverser: concurrency-overlapped traversal. Pages are still
//     enumerated strictly in collection order, but up to a configurable number
//     of batch callbacks run at the same time.
//
// On top of either traverser, NewMigrator applies predicate-filtered bulk
// mutations: for every visited batch it builds one atomic multi-document
// write containing the documents that pass the composed predicate, commits
// it, and aggregates the outcome into a MigrationResult.
//
// The backing store is abstracted behind two small capabilities, Traversable
// and BatchWriter. The memstore package implements them in memory and the
// mongodb package binds them to a MongoDB collection.
package firecode
