// Package mongodb adapts a MongoDB collection to the traversal and batch
// write capabilities. Traversal orders documents by _id and requires string
// _id values; the _id is carried as the document ID and stripped from map
// payloads on decode.
//
// Batch commits translate to a single ordered bulk write. On its own an
// ordered bulk write can partially apply when it fails mid-batch; enable
// WithTransactions on a replica set or sharded cluster for true
// all-or-nothing commits.
package mongodb

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/seymurkafkas/firecode"
)

var (
	_ firecode.Traversable[any] = (*Collection[any])(nil)
	_ firecode.BatchWriter[any] = (*Collection[any])(nil)
)

// Option configures a Collection.
type Option func(*settings)

type settings struct {
	transactional bool
}

// WithTransactions runs every batch commit inside a MongoDB transaction.
// Requires a replica set or sharded cluster; standalone servers reject
// transactions.
func WithTransactions() Option {
	return func(s *settings) { s.transactional = true }
}

// Collection exposes a MongoDB collection as a traversable, batch-writable
// document collection with payload type D.
type Collection[D any] struct {
	coll          *mongo.Collection
	transactional bool
}

// NewCollection wraps coll for traversal and migration.
func NewCollection[D any](coll *mongo.Collection, opts ...Option) *Collection[D] {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return &Collection[D]{coll: coll, transactional: s.transactional}
}

// Connect dials uri, verifies the connection, and returns the named
// collection wrapped for traversal. The returned close function disconnects
// the underlying client.
func Connect[D any](ctx context.Context, uri, database, collection string, opts ...Option) (*Collection[D], func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongodb: ping: %w", err)
	}
	coll := client.Database(database).Collection(collection)
	return NewCollection[D](coll, opts...), client.Disconnect, nil
}

// Collection returns the wrapped driver collection.
func (c *Collection[D]) Collection() *mongo.Collection { return c.coll }

// FetchPage returns up to limit documents in ascending _id order, strictly
// after the cursor document.
func (c *Collection[D]) FetchPage(ctx context.Context, after *firecode.Document[D], limit int) ([]firecode.Document[D], error) {
	if limit < 1 {
		return nil, fmt.Errorf("mongodb: fetch limit must be positive, got %d", limit)
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := c.coll.Find(ctx, pageFilter(after), findOpts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: find: %w", err)
	}
	defer cur.Close(ctx)

	docs := make([]firecode.Document[D], 0, limit)
	for cur.Next(ctx) {
		doc, err := decodeDocument[D](cur.Current)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongodb: cursor: %w", err)
	}
	return docs, nil
}

// CommitBatchWrite translates the batch into one ordered bulk write. With
// WithTransactions enabled the bulk write runs inside a transaction.
func (c *Collection[D]) CommitBatchWrite(ctx context.Context, writes []firecode.Write[D]) error {
	models, err := buildWriteModels(writes)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return nil
	}
	bulkOpts := options.BulkWrite().SetOrdered(true)
	if !c.transactional {
		_, err := c.coll.BulkWrite(ctx, models, bulkOpts)
		return err
	}
	session, err := c.coll.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("mongodb: starting session: %w", err)
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sctx mongo.SessionContext) (any, error) {
		return c.coll.BulkWrite(sctx, models, bulkOpts)
	})
	return err
}

// pageFilter builds the keyset predicate for one page fetch.
func pageFilter[D any](after *firecode.Document[D]) bson.D {
	if after == nil {
		return bson.D{}
	}
	return bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: after.ID}}}}
}

// decodeDocument splits a raw document into its string _id and payload.
func decodeDocument[D any](raw bson.Raw) (firecode.Document[D], error) {
	var doc firecode.Document[D]
	idValue, err := raw.LookupErr("_id")
	if err != nil {
		return doc, fmt.Errorf("mongodb: document missing _id: %w", err)
	}
	id, ok := idValue.StringValueOK()
	if !ok {
		return doc, fmt.Errorf("mongodb: traversal requires string _id values, got %s", idValue.Type)
	}
	if err := bson.Unmarshal(raw, &doc.Data); err != nil {
		return doc, fmt.Errorf("mongodb: decoding document %q: %w", id, err)
	}
	doc.ID = id
	stripID(&doc.Data)
	return doc, nil
}

// stripID drops the _id entry from map payloads; the ID travels on the
// Document, not in its data.
func stripID(data any) {
	v := reflect.ValueOf(data).Elem()
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if v.Kind() != reflect.Map || v.Type().Key().Kind() != reflect.String {
		return
	}
	v.SetMapIndex(reflect.ValueOf("_id").Convert(v.Type().Key()), reflect.Value{})
}

// buildWriteModels translates engine writes into driver write models.
// Replace-style sets upsert so missing documents are created; the server
// takes the _id from the exact-match filter. Field updates patch existing
// documents only.
func buildWriteModels[D any](writes []firecode.Write[D]) ([]mongo.WriteModel, error) {
	models := make([]mongo.WriteModel, 0, len(writes))
	for _, write := range writes {
		if write.ID == "" {
			return nil, fmt.Errorf("mongodb: write with empty document ID")
		}
		filter := bson.D{{Key: "_id", Value: write.ID}}
		if data, merge, ok := write.IsSet(); ok {
			if merge {
				models = append(models, mongo.NewUpdateOneModel().
					SetFilter(filter).
					SetUpdate(bson.D{{Key: "$set", Value: data}}).
					SetUpsert(true))
			} else {
				models = append(models, mongo.NewReplaceOneModel().
					SetFilter(filter).
					SetReplacement(data).
					SetUpsert(true))
			}
			continue
		}
		fields, _ := write.IsUpdate()
		update, err := buildFieldUpdate(fields)
		if err != nil {
			return nil, fmt.Errorf("mongodb: document %q: %w", write.ID, err)
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(update))
	}
	return models, nil
}

// buildFieldUpdate translates a field patch into $set/$unset operator form.
// Field names are sorted so the produced update is deterministic.
func buildFieldUpdate(fields firecode.UpdateFields) (bson.D, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("update write with no fields")
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		if name == "" {
			return nil, fmt.Errorf("update write with empty field name")
		}
		names = append(names, name)
	}
	slices.Sort(names)

	var set, unset bson.D
	for _, name := range names {
		if firecode.IsDelete(fields[name]) {
			unset = append(unset, bson.E{Key: name, Value: ""})
			continue
		}
		set = append(set, bson.E{Key: name, Value: fields[name]})
	}
	update := bson.D{}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	return update, nil
}
