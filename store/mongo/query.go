package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nemomobile/mms/store"
)

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, id int64) (*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if id <= 0 {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc recordDoc
	err := s.records.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find record: %w", err)
	}

	return docToRecord(&doc), nil
}

// GetByTokens retrieves a record by primary or secondary correlation token.
func (s *Store) GetByTokens(ctx context.Context, token, mmsID string) (*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if token == "" && mmsID == "" {
		return nil, store.ErrNoToken
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var filter bson.M
	findOpts := mongoopts.FindOne()
	if token != "" {
		filter = bson.M{"token": token}
	} else {
		// Several records can share a carrier message id; the most recently
		// created one wins.
		filter = bson.M{"mms_id": mmsID}
		findOpts.SetSort(bson.D{bson.E{Key: "_id", Value: -1}})
	}

	var doc recordDoc
	err := s.records.FindOne(ctx, filter, findOpts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find record by token: %w", err)
	}

	return docToRecord(&doc), nil
}

// List returns records matching the options, newest first.
func (s *Store) List(ctx context.Context, opts store.ListOptions) ([]*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{}
	if opts.Direction != "" {
		filter["direction"] = string(opts.Direction)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.GroupID > 0 {
		filter["group_id"] = opts.GroupID
	}

	findOpts := mongoopts.Find().SetSort(bson.D{bson.E{Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.records.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find records: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []recordDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	recs := make([]*store.Record, len(docs))
	for i := range docs {
		recs[i] = docToRecord(&docs[i])
	}

	return recs, nil
}
