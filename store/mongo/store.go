// Package mongo provides a MongoDB implementation of store.Store.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nemomobile/mms/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
//
// Record and group ids are int64 sequences allocated from a counters
// collection with an atomic $inc, so the id namespace matches the other
// backends and tokens stay decimal strings.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	records   *mongo.Collection
	groups    *mongo.Collection
	counters  *mongo.Collection
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.records = s.db.Collection(s.opts.records)
	s.groups = s.db.Collection(s.opts.groups)
	s.counters = s.db.Collection(s.opts.counters)

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB", "database", s.opts.database, "records", s.opts.records)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// Ping verifies the MongoDB connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	recordIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "token", Value: 1}},
			Options: mongoopts.Index().SetUnique(true),
		},
		{Keys: bson.D{bson.E{Key: "mms_id", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "status", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "direction", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "updated_at", Value: 1}}},
		// Compound index for conversation listings
		{Keys: bson.D{
			bson.E{Key: "group_id", Value: 1},
			bson.E{Key: "_id", Value: -1},
		}},
	}

	if _, err := s.records.Indexes().CreateMany(ctx, recordIndexes); err != nil {
		return fmt.Errorf("record indexes: %w", err)
	}

	// Uniqueness arbitrates concurrent ResolveGroup calls for the same pair.
	groupIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				bson.E{Key: "local_uid", Value: 1},
				bson.E{Key: "remote_uid", Value: 1},
			},
			Options: mongoopts.Index().SetUnique(true),
		},
	}

	if _, err := s.groups.Indexes().CreateMany(ctx, groupIndexes); err != nil {
		return fmt.Errorf("group indexes: %w", err)
	}

	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// nextID atomically allocates the next id in the named sequence.
func (s *Store) nextID(ctx context.Context, name string) (int64, error) {
	filter := bson.M{"_id": name}
	update := bson.M{"$inc": bson.M{"seq": int64(1)}}
	opts := mongoopts.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(mongoopts.After)

	var doc counterDoc
	if err := s.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return 0, fmt.Errorf("allocate id: %w", err)
	}

	return doc.Seq, nil
}
