// Package memstore provides an in-memory document collection implementing
// both the traversal and batch-write capabilities. It backs tests, examples,
// and local experiments with the same semantics a real store must honor:
// lexicographic ID order, strictly-after pagination, and all-or-nothing
// batch commits.
//
// Replace-style sets work for any payload type. Merges and field updates
// need field-level access and therefore require string-keyed map payloads;
// other payload types are rejected with a descriptive error.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/seymurkafkas/firecode"
)

var (
	_ firecode.Traversable[any] = (*Store[any])(nil)
	_ firecode.BatchWriter[any] = (*Store[any])(nil)
)

// Store is a concurrency-safe in-memory collection of documents keyed and
// ordered by ID. The zero value is not usable; construct stores with New.
type Store[D any] struct {
	mu   sync.RWMutex
	ids  []string
	data map[string]D
}

// New returns an empty store.
func New[D any]() *Store[D] {
	return &Store[D]{data: make(map[string]D)}
}

// NewID returns a fresh ULID string. ULIDs sort lexicographically by
// creation time, so seeding with NewID keeps a collection in insertion
// order.
func NewID() string {
	return ulid.Make().String()
}

// Seed inserts or replaces the given documents in one call. It is meant for
// fixtures; migration-path writes go through CommitBatchWrite.
func (s *Store[D]) Seed(docs ...firecode.Document[D]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		s.put(doc.ID, cloneValue(doc.Data))
	}
}

// FetchPage returns up to limit documents in ascending ID order, starting
// strictly after the cursor document. A cursor whose document has since
// been removed still resumes from its position in the order.
func (s *Store[D]) FetchPage(ctx context.Context, after *firecode.Document[D], limit int) ([]firecode.Document[D], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, fmt.Errorf("memstore: fetch limit must be positive, got %d", limit)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if after != nil {
		i, found := slices.BinarySearch(s.ids, after.ID)
		start = i
		if found {
			start = i + 1
		}
	}
	if start >= len(s.ids) {
		return nil, nil
	}
	end := min(start+limit, len(s.ids))
	page := make([]firecode.Document[D], 0, end-start)
	for _, id := range s.ids[start:end] {
		page = append(page, firecode.Document[D]{ID: id, Data: cloneValue(s.data[id])})
	}
	return page, nil
}

// CommitBatchWrite applies every write or none. The batch is validated and
// staged against the current state first; the store is mutated only once
// the whole batch is known to apply cleanly. Later writes in a batch see
// the staged effect of earlier ones.
func (s *Store[D]) CommitBatchWrite(ctx context.Context, writes []firecode.Write[D]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := make(map[string]D, len(writes))
	for _, write := range writes {
		if write.ID == "" {
			return fmt.Errorf("memstore: write with empty document ID")
		}
		current, exists := s.lookupLocked(write.ID, staged)
		next, err := applyWrite(current, exists, write)
		if err != nil {
			return fmt.Errorf("memstore: document %q: %w", write.ID, err)
		}
		staged[write.ID] = next
	}
	for id, data := range staged {
		s.put(id, data)
	}
	return nil
}

// Len returns the number of documents in the store.
func (s *Store[D]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Get returns the payload stored under id.
func (s *Store[D]) Get(id string) (D, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[id]
	if !ok {
		var zero D
		return zero, false
	}
	return cloneValue(data), true
}

// All returns a snapshot of every document in ID order.
func (s *Store[D]) All() []firecode.Document[D] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]firecode.Document[D], 0, len(s.ids))
	for _, id := range s.ids {
		docs = append(docs, firecode.Document[D]{ID: id, Data: cloneValue(s.data[id])})
	}
	return docs
}

// put stores data under id, keeping the ID index sorted. Callers hold mu.
func (s *Store[D]) put(id string, data D) {
	if _, exists := s.data[id]; !exists {
		i, _ := slices.BinarySearch(s.ids, id)
		s.ids = slices.Insert(s.ids, i, id)
	}
	s.data[id] = data
}

// lookupLocked resolves the current payload for id, preferring writes
// already staged in this batch.
func (s *Store[D]) lookupLocked(id string, staged map[string]D) (D, bool) {
	if data, ok := staged[id]; ok {
		return data, true
	}
	data, ok := s.data[id]
	return data, ok
}

// applyWrite computes the post-write payload for one document without
// touching store state.
func applyWrite[D any](current D, exists bool, write firecode.Write[D]) (D, error) {
	if data, merge, ok := write.IsSet(); ok {
		if !merge || !exists {
			// A merge into a missing document creates it from the payload.
			return cloneValue(data), nil
		}
		return mergeValue(current, data)
	}
	fields, _ := write.IsUpdate()
	if !exists {
		return current, fmt.Errorf("cannot update a missing document")
	}
	return updateValue(current, fields)
}

// cloneValue returns a shallow copy of map payloads so store state never
// aliases caller-owned maps. Non-map payloads are returned as is.
func cloneValue[D any](data D) D {
	v := reflect.ValueOf(data)
	if v.Kind() != reflect.Map || v.IsNil() {
		return data
	}
	out := reflect.MakeMapWithSize(v.Type(), v.Len())
	for iter := v.MapRange(); iter.Next(); {
		out.SetMapIndex(iter.Key(), iter.Value())
	}
	return out.Interface().(D)
}

// mergeValue overlays the payload's entries onto the current document.
func mergeValue[D any](current, payload D) (D, error) {
	var zero D
	pv := reflect.ValueOf(payload)
	if !isStringKeyedMap(pv) {
		return zero, fmt.Errorf("merge requires a string-keyed map payload, got %T", payload)
	}
	cv := reflect.ValueOf(current)
	if !isStringKeyedMap(cv) {
		return zero, fmt.Errorf("merge requires a string-keyed map document, got %T", current)
	}
	out := reflect.MakeMapWithSize(cv.Type(), cv.Len()+pv.Len())
	for iter := cv.MapRange(); iter.Next(); {
		out.SetMapIndex(iter.Key(), iter.Value())
	}
	keyType := out.Type().Key()
	elem := out.Type().Elem()
	for iter := pv.MapRange(); iter.Next(); {
		value := iter.Value()
		if !value.Type().AssignableTo(elem) {
			return zero, fmt.Errorf("merge field %v: %s is not assignable to %s", iter.Key(), value.Type(), elem)
		}
		out.SetMapIndex(iter.Key().Convert(keyType), value)
	}
	return out.Interface().(D), nil
}

// updateValue applies a field patch to the current document. Delete-marked
// fields are removed, the rest are set.
func updateValue[D any](current D, fields firecode.UpdateFields) (D, error) {
	var zero D
	cv := reflect.ValueOf(current)
	if !isStringKeyedMap(cv) {
		return zero, fmt.Errorf("field updates require a string-keyed map document, got %T", current)
	}
	out := reflect.MakeMapWithSize(cv.Type(), cv.Len()+len(fields))
	for iter := cv.MapRange(); iter.Next(); {
		out.SetMapIndex(iter.Key(), iter.Value())
	}
	keyType := out.Type().Key()
	elem := out.Type().Elem()
	for name, value := range fields {
		key := reflect.ValueOf(name).Convert(keyType)
		if firecode.IsDelete(value) {
			out.SetMapIndex(key, reflect.Value{})
			continue
		}
		rv := reflect.ValueOf(value)
		if !rv.IsValid() {
			switch elem.Kind() {
			case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
				rv = reflect.Zero(elem)
			default:
				return zero, fmt.Errorf("field %q: cannot assign nil to %s", name, elem)
			}
		} else if !rv.Type().AssignableTo(elem) {
			return zero, fmt.Errorf("field %q: %s is not assignable to %s", name, rv.Type(), elem)
		}
		out.SetMapIndex(key, rv)
	}
	return out.Interface().(D), nil
}

func isStringKeyedMap(v reflect.Value) bool {
	return v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String
}
