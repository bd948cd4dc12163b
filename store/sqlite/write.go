package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nemomobile/mms/store"
)

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

	toJSON, err := marshalStrings(rec.To)
	if err != nil {
		return fmt.Errorf("marshal to: %w", err)
	}
	ccJSON, err := marshalStrings(rec.Cc)
	if err != nil {
		return fmt.Errorf("marshal cc: %w", err)
	}
	bccJSON, err := marshalStrings(rec.Bcc)
	if err != nil {
		return fmt.Errorf("marshal bcc: %w", err)
	}
	partsJSON, err := marshalParts(rec.Parts)
	if err != nil {
		return fmt.Errorf("marshal parts: %w", err)
	}

	// The token is the decimal form of the id AUTOINCREMENT assigns, so it
	// is written in a second statement inside the same transaction.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO records (mms_id, direction, status, read_status,
		                     local_uid, remote_uid, to_addrs, cc_addrs, bcc_addrs,
		                     subject, free_text, parts, group_id,
		                     subscriber_id, expiry, push_data,
		                     is_read, report_requested, start_time, end_time,
		                     created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MMSID, rec.Direction, rec.Status, rec.ReadStatus,
		rec.LocalUID, rec.RemoteUID, toJSON, ccJSON, bccJSON,
		rec.Subject, rec.FreeText, partsJSON, rec.GroupID,
		rec.SubscriberID, nullTime(rec.Expiry), rec.PushData,
		rec.IsRead, rec.ReportRequested, nullTime(rec.StartTime), nullTime(rec.EndTime),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	token := strconv.FormatInt(id, 10)
	if _, err := tx.ExecContext(ctx, `UPDATE records SET token = ? WHERE id = ?`, token, id); err != nil {
		return fmt.Errorf("set token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	rec.ID = id
	rec.Token = token
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

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

	toJSON, err := marshalStrings(rec.To)
	if err != nil {
		return fmt.Errorf("marshal to: %w", err)
	}
	ccJSON, err := marshalStrings(rec.Cc)
	if err != nil {
		return fmt.Errorf("marshal cc: %w", err)
	}
	bccJSON, err := marshalStrings(rec.Bcc)
	if err != nil {
		return fmt.Errorf("marshal bcc: %w", err)
	}
	partsJSON, err := marshalParts(rec.Parts)
	if err != nil {
		return fmt.Errorf("marshal parts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// token and group_id keep their stored values; the token is immutable
	// and group changes go through MoveGroup.
	var groupID int64
	var createdAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT group_id, created_at FROM records WHERE id = ?`, rec.ID,
	).Scan(&groupID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("load record: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE records SET
			mms_id = ?, direction = ?, status = ?, read_status = ?,
			local_uid = ?, remote_uid = ?, to_addrs = ?, cc_addrs = ?, bcc_addrs = ?,
			subject = ?, free_text = ?, parts = ?,
			subscriber_id = ?, expiry = ?, push_data = ?,
			is_read = ?, report_requested = ?, start_time = ?, end_time = ?,
			updated_at = ?
		WHERE id = ?`,
		rec.MMSID, rec.Direction, rec.Status, rec.ReadStatus,
		rec.LocalUID, rec.RemoteUID, toJSON, ccJSON, bccJSON,
		rec.Subject, rec.FreeText, partsJSON,
		rec.SubscriberID, nullTime(rec.Expiry), rec.PushData,
		rec.IsRead, rec.ReportRequested, nullTime(rec.StartTime), nullTime(rec.EndTime),
		now, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	rec.GroupID = groupID
	rec.CreatedAt = createdAt
	rec.UpdatedAt = now
	return nil
}

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

	result, err := s.db.ExecContext(ctx,
		`UPDATE records SET read_status = ?, updated_at = ? WHERE id = ?`,
		rs, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update read status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	if id <= 0 {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}

	return nil
}

func (s *Store) ResolveGroup(ctx context.Context, localUID, remoteUID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	if remoteUID == "" {
		return 0, store.ErrGroupResolution
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO groups (local_uid, remote_uid, created_at) VALUES (?, ?, ?)`,
		localUID, remoteUID, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert group: %w", err)
	}

	// LastInsertId is stale when the insert was ignored, so check the
	// affected row count before trusting it.
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if rows > 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("last insert id: %w", err)
		}
		return id, nil
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM groups WHERE local_uid = ? AND remote_uid = ?`,
		localUID, remoteUID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("fetch existing group: %w", err)
	}

	return id, nil
}

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

	result, err := s.db.ExecContext(ctx,
		`UPDATE records SET group_id = ?, updated_at = ? WHERE id = ?`,
		newGroupID, time.Now().UTC(), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("move group: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}

	rec.GroupID = newGroupID
	return nil
}
