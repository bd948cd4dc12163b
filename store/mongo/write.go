package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nemomobile/mms/store"
)

// Create persists a new record, assigning ID and Token.
func (s *Store) Create(ctx context.Context, rec *store.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if rec == nil {
		return store.ErrInvalidRecord
	}
	if rec.Saved() {
		return store.ErrAlreadySaved
	}
	if !rec.Status.Valid() || rec.Direction == "" {
		return store.ErrInvalidRecord
	}
	if rec.ReadStatus == "" {
		rec.ReadStatus = store.ReadStatusUnknown
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	id, err := s.nextID(ctx, s.opts.records)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rec.ID = id
	rec.Token = strconv.FormatInt(id, 10)
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if _, err := s.records.InsertOne(ctx, recordToDoc(rec)); err != nil {
		rec.ID = 0
		rec.Token = ""
		return fmt.Errorf("insert record: %w", err)
	}

	return nil
}

// Update replaces a record's stored state. GroupID changes are ignored.
func (s *Store) Update(ctx context.Context, rec *store.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if rec == nil || !rec.Saved() {
		return store.ErrInvalidID
	}
	if !rec.Status.Valid() {
		return store.ErrInvalidRecord
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()
	doc := recordToDoc(rec)

	// token, group_id and created_at keep their stored values; the token is
	// immutable and group changes go through MoveGroup.
	set := bson.M{
		"mms_id":           doc.MMSID,
		"direction":        doc.Direction,
		"status":           doc.Status,
		"read_status":      doc.ReadStatus,
		"local_uid":        doc.LocalUID,
		"remote_uid":       doc.RemoteUID,
		"to":               doc.To,
		"cc":               doc.Cc,
		"bcc":              doc.Bcc,
		"subject":          doc.Subject,
		"free_text":        doc.FreeText,
		"parts":            doc.Parts,
		"subscriber_id":    doc.SubscriberID,
		"expiry":           doc.Expiry,
		"push_data":        doc.PushData,
		"is_read":          doc.IsRead,
		"report_requested": doc.ReportRequested,
		"start_time":       doc.StartTime,
		"end_time":         doc.EndTime,
		"updated_at":       now,
	}

	opts := mongoopts.FindOneAndUpdate().SetReturnDocument(mongoopts.After)

	var updated recordDoc
	err := s.records.FindOneAndUpdate(ctx, bson.M{"_id": rec.ID}, bson.M{"$set": set}, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.ErrNotFound
		}
		return fmt.Errorf("update record: %w", err)
	}

	rec.GroupID = updated.GroupID
	rec.CreatedAt = updated.CreatedAt
	rec.UpdatedAt = now
	return nil
}

// UpdateReadStatus sets only the read/deleted axis of a record.
func (s *Store) UpdateReadStatus(ctx context.Context, id int64, rs store.ReadStatus) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if id <= 0 {
		return store.ErrInvalidID
	}
	if !rs.Valid() {
		return store.ErrInvalidRecord
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"read_status": string(rs),
			"updated_at":  time.Now().UTC(),
		},
	}

	result, err := s.records.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update read status: %w", err)
	}

	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}

	return nil
}

// Delete permanently removes a record.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if id <= 0 {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.records.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	if result.DeletedCount == 0 {
		return store.ErrNotFound
	}

	return nil
}

// ResolveGroup finds or creates the conversation group for an addressing pair.
func (s *Store) ResolveGroup(ctx context.Context, localUID, remoteUID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	if remoteUID == "" {
		return 0, store.ErrGroupResolution
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{"local_uid": localUID, "remote_uid": remoteUID}

	var doc groupDoc
	err := s.groups.FindOne(ctx, filter).Decode(&doc)
	if err == nil {
		return doc.ID, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("find group: %w", err)
	}

	id, err := s.nextID(ctx, s.opts.groups)
	if err != nil {
		return 0, err
	}

	_, err = s.groups.InsertOne(ctx, &groupDoc{
		ID:        id,
		LocalUID:  localUID,
		RemoteUID: remoteUID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		// Lost the race; the unique index kept exactly one group per pair.
		if mongo.IsDuplicateKeyError(err) {
			if err := s.groups.FindOne(ctx, filter).Decode(&doc); err != nil {
				return 0, fmt.Errorf("fetch existing group: %w", err)
			}
			return doc.ID, nil
		}
		return 0, fmt.Errorf("insert group: %w", err)
	}

	return id, nil
}

// MoveGroup atomically moves a record to another conversation group.
func (s *Store) MoveGroup(ctx context.Context, rec *store.Record, newGroupID int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if rec == nil || !rec.Saved() {
		return store.ErrInvalidID
	}
	if newGroupID <= 0 {
		return store.ErrGroupResolution
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"group_id":   newGroupID,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := s.records.UpdateOne(ctx, bson.M{"_id": rec.ID}, update)
	if err != nil {
		return fmt.Errorf("move group: %w", err)
	}

	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}

	rec.GroupID = newGroupID
	return nil
}
