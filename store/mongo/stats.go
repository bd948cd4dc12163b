package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/nemomobile/mms/store"
)

// inProgressStatuses are excluded from purges; everything else is settled.
var inProgressStatuses = []string{
	string(store.StatusWaiting),
	string(store.StatusDownloading),
	string(store.StatusSending),
}

// CountByStatus returns the number of records per status.
func (s *Store) CountByStatus(ctx context.Context) (map[store.Status]int64, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{bson.E{Key: "$group", Value: bson.D{
			bson.E{Key: "_id", Value: "$status"},
			bson.E{Key: "count", Value: bson.D{bson.E{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := s.records.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate status counts: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode status counts: %w", err)
	}

	counts := make(map[store.Status]int64, len(rows))
	for _, row := range rows {
		counts[store.Status(row.Status)] = row.Count
	}

	return counts, nil
}

// PurgeOlderThan deletes settled records last updated before the cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{
		"status":     bson.M{"$nin": inProgressStatuses},
		"updated_at": bson.M{"$lt": cutoff},
	}

	cursor, err := s.records.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find purgeable records: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []recordDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode purgeable records: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	// Delete exactly the ids returned to the caller so concurrently settling
	// records never vanish without their part files being cleaned up.
	ids := make([]int64, len(docs))
	purged := make([]*store.Record, len(docs))
	for i := range docs {
		ids[i] = docs[i].ID
		purged[i] = docToRecord(&docs[i])
	}

	if _, err := s.records.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, fmt.Errorf("delete purged records: %w", err)
	}

	return purged, nil
}
