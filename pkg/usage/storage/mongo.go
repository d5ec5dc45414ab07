package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"mercator-hq/tally/pkg/usage"
)

const mongoName = "mongo"

// maxIncrementAttempts bounds upsert rounds lost to concurrent deletes.
const maxIncrementAttempts = 8

// keyBatchSize bounds the $or filter built by Archive and Delete.
const keyBatchSize = 500

// MongoBackend implements Backend on MongoDB.
//
// Each (identity, day) counter is one document in the counters collection,
// protected by a unique index. Increment is a single FindOneAndUpdate with
// upsert. With a ceiling the filter also requires total_count < ceiling; when
// the counter is already full the upsert collides with the unique index and
// the duplicate key error is reported as ErrLimitReached.
type MongoBackend struct {
	client   *mongo.Client
	counters *mongo.Collection
	details  *mongo.Collection
	owned    bool
}

// MongoBackendConfig configures the MongoDB backend.
type MongoBackendConfig struct {
	// URI is the MongoDB connection string.
	URI string

	// Database is the database name.
	// Default: "tally"
	Database string

	// CountersCollection is the counters collection name.
	// Default: "usage_counters"
	CountersCollection string

	// DetailsCollection is the details collection name.
	// Default: "usage_details"
	DetailsCollection string

	// ConnectTimeout bounds connect, ping and index creation.
	// Default: 10 seconds
	ConnectTimeout time.Duration
}

func (c *MongoBackendConfig) applyDefaults() {
	if c.Database == "" {
		c.Database = "tally"
	}
	if c.CountersCollection == "" {
		c.CountersCollection = "usage_counters"
	}
	if c.DetailsCollection == "" {
		c.DetailsCollection = "usage_details"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// NewMongoBackend connects to MongoDB, verifies the connection and ensures
// indexes exist.
func NewMongoBackend(ctx context.Context, cfg MongoBackendConfig) (*MongoBackend, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri cannot be empty")
	}
	cfg.applyDefaults()

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	b, err := NewMongoBackendFromClient(ctx, client, cfg)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	b.owned = true
	return b, nil
}

// NewMongoBackendFromClient builds a backend on an existing client.
// Close does not disconnect a client it did not create.
func NewMongoBackendFromClient(ctx context.Context, client *mongo.Client, cfg MongoBackendConfig) (*MongoBackend, error) {
	cfg.applyDefaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	b := &MongoBackend{
		client:   client,
		counters: db.Collection(cfg.CountersCollection),
		details:  db.Collection(cfg.DetailsCollection),
	}
	if err := b.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return b, nil
}

func (b *MongoBackend) ensureIndexes(ctx context.Context) error {
	_, err := b.counters.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identity", Value: 1}, {Key: "day", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("identity_day_unique"),
		},
		{
			Keys:    bson.D{{Key: "day", Value: 1}, {Key: "archived", Value: 1}},
			Options: options.Index().SetName("day_archived"),
		},
	})
	if err != nil {
		return err
	}

	_, err = b.details.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identity", Value: 1}, {Key: "day", Value: 1}},
			Options: options.Index().SetName("identity_day"),
		},
		{
			Keys:    bson.D{{Key: "correlation_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("correlation_id_unique"),
		},
	})
	return err
}

func keyFilter(identity, day string) bson.D {
	return bson.D{{Key: "identity", Value: identity}, {Key: "day", Value: day}}
}

// Get returns the counter for (identity, day), or nil if none exists.
func (b *MongoBackend) Get(ctx context.Context, identity, day string) (*usage.Counter, error) {
	var c usage.Counter
	err := b.counters.FindOne(ctx, keyFilter(identity, day)).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, transient(mongoName, "get", err)
	}
	return &c, nil
}

// Increment atomically creates and increments the counter.
func (b *MongoBackend) Increment(ctx context.Context, req IncrementRequest) (*usage.Counter, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := req.now()

	filter := keyFilter(req.Identity, req.Day)
	if req.Ceiling > 0 {
		filter = append(filter, bson.E{Key: "total_count", Value: bson.D{{Key: "$lt", Value: req.Ceiling}}})
	}

	featureField := "summary_count"
	untouched := "question_count"
	if req.Feature == usage.FeatureQuestion {
		featureField, untouched = untouched, featureField
	}

	update := bson.D{
		{Key: "$inc", Value: bson.D{
			{Key: featureField, Value: 1},
			{Key: "total_count", Value: 1},
		}},
		{Key: "$set", Value: bson.D{
			{Key: "is_premium", Value: req.IsPremium},
			{Key: "updated_at", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: untouched, Value: int64(0)},
			{Key: "archived", Value: false},
			{Key: "created_at", Value: now},
		}},
	}

	upsert := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	inPlace := options.FindOneAndUpdate().
		SetReturnDocument(options.After)

	// A duplicate key error on the upsert means the document exists: either
	// another writer inserted it first or, with a ceiling, it is full. The
	// update is then retried without upsert, which either lands or finds the
	// counter at the ceiling. Only a concurrent delete sends it round again.
	for attempt := 0; attempt < maxIncrementAttempts; attempt++ {
		c, err := b.findAndIncrement(ctx, filter, update, upsert)
		if err == nil {
			return c, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return nil, transient(mongoName, "increment", err)
		}

		c, err = b.findAndIncrement(ctx, filter, update, inPlace)
		switch {
		case err == nil:
			return c, nil
		case !errors.Is(err, mongo.ErrNoDocuments):
			return nil, transient(mongoName, "increment", err)
		}

		current, err := b.Get(ctx, req.Identity, req.Day)
		if err != nil {
			return nil, err
		}
		if current != nil && req.Ceiling > 0 && current.TotalCount >= req.Ceiling {
			return current, ErrLimitReached
		}
	}
	return nil, transient(mongoName, "increment", fmt.Errorf("upsert conflict on %s/%s", req.Day, req.Identity))
}

func (b *MongoBackend) findAndIncrement(ctx context.Context, filter, update bson.D, opts *options.FindOneAndUpdateOptionsBuilder) (*usage.Counter, error) {
	var c usage.Counter
	if err := b.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

type mongoDetail struct {
	Identity     string `bson:"identity"`
	Day          string `bson:"day"`
	usage.Detail `bson:",inline"`
}

// AppendDetail inserts a detail record. Duplicate correlation ids are ignored.
func (b *MongoBackend) AppendDetail(ctx context.Context, identity, day string, detail usage.Detail) error {
	if err := usage.ValidateIdentity(identity); err != nil {
		return err
	}
	detail.Normalize(time.Now())

	_, err := b.details.InsertOne(ctx, mongoDetail{Identity: identity, Day: day, Detail: detail})
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return transient(mongoName, "append_detail", err)
	}
	return nil
}

// Details returns the detail log for (identity, day) ordered by creation time.
func (b *MongoBackend) Details(ctx context.Context, identity, day string) ([]usage.Detail, error) {
	cur, err := b.details.Find(ctx, keyFilter(identity, day),
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, transient(mongoName, "details", err)
	}

	var docs []mongoDetail
	if err := cur.All(ctx, &docs); err != nil {
		return nil, transient(mongoName, "details", err)
	}
	out := make([]usage.Detail, len(docs))
	for i, d := range docs {
		out[i] = d.Detail
	}
	return out, nil
}

// Range returns non-archived counters for identity within [fromDay, toDay].
func (b *MongoBackend) Range(ctx context.Context, identity, fromDay, toDay string) ([]*usage.Counter, error) {
	filter := bson.D{
		{Key: "identity", Value: identity},
		{Key: "day", Value: bson.D{{Key: "$gte", Value: fromDay}, {Key: "$lte", Value: toDay}}},
		{Key: "archived", Value: bson.D{{Key: "$ne", Value: true}}},
	}
	cur, err := b.counters.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "day", Value: 1}}))
	if err != nil {
		return nil, transient(mongoName, "range", err)
	}

	var out []*usage.Counter
	if err := cur.All(ctx, &out); err != nil {
		return nil, transient(mongoName, "range", err)
	}
	return out, nil
}

// ListBefore returns keys of non-archived counters dated before day.
func (b *MongoBackend) ListBefore(ctx context.Context, day string) ([]usage.Key, error) {
	filter := bson.D{
		{Key: "day", Value: bson.D{{Key: "$lt", Value: day}}},
		{Key: "archived", Value: bson.D{{Key: "$ne", Value: true}}},
	}
	opts := options.Find().
		SetProjection(bson.D{{Key: "identity", Value: 1}, {Key: "day", Value: 1}, {Key: "_id", Value: 0}}).
		SetSort(bson.D{{Key: "day", Value: 1}, {Key: "identity", Value: 1}})

	cur, err := b.counters.Find(ctx, filter, opts)
	if err != nil {
		return nil, transient(mongoName, "list_before", err)
	}

	var docs []struct {
		Identity string `bson:"identity"`
		Day      string `bson:"day"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, transient(mongoName, "list_before", err)
	}
	keys := make([]usage.Key, len(docs))
	for i, d := range docs {
		keys[i] = usage.Key{Identity: d.Identity, Day: d.Day}
	}
	return keys, nil
}

// Archive marks the given counters archived.
func (b *MongoBackend) Archive(ctx context.Context, keys []usage.Key) (int, error) {
	total := 0
	for _, batch := range batchKeys(keys) {
		filter := bson.D{
			{Key: "$or", Value: orFilter(batch)},
			{Key: "archived", Value: bson.D{{Key: "$ne", Value: true}}},
		}
		update := bson.D{{Key: "$set", Value: bson.D{
			{Key: "archived", Value: true},
			{Key: "updated_at", Value: time.Now()},
		}}}
		res, err := b.counters.UpdateMany(ctx, filter, update)
		if err != nil {
			return total, transient(mongoName, "archive", err)
		}
		total += int(res.ModifiedCount)
	}
	return total, nil
}

// Delete removes the given counters and their details.
func (b *MongoBackend) Delete(ctx context.Context, keys []usage.Key) (int, error) {
	total := 0
	for _, batch := range batchKeys(keys) {
		filter := bson.D{{Key: "$or", Value: orFilter(batch)}}
		res, err := b.counters.DeleteMany(ctx, filter)
		if err != nil {
			return total, transient(mongoName, "delete", err)
		}
		total += int(res.DeletedCount)

		if _, err := b.details.DeleteMany(ctx, filter); err != nil {
			return total, transient(mongoName, "delete", err)
		}
	}
	return total, nil
}

// Ping verifies the primary is reachable.
func (b *MongoBackend) Ping(ctx context.Context) error {
	return transient(mongoName, "ping", b.client.Ping(ctx, readpref.Primary()))
}

// Close disconnects the client if the backend created it.
func (b *MongoBackend) Close() error {
	if !b.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.client.Disconnect(ctx)
}

func orFilter(keys []usage.Key) bson.A {
	or := make(bson.A, len(keys))
	for i, k := range keys {
		or[i] = keyFilter(k.Identity, k.Day)
	}
	return or
}

func batchKeys(keys []usage.Key) [][]usage.Key {
	var batches [][]usage.Key
	for len(keys) > keyBatchSize {
		batches = append(batches, keys[:keyBatchSize])
		keys = keys[keyBatchSize:]
	}
	if len(keys) > 0 {
		batches = append(batches, keys)
	}
	return batches
}
