package postgres

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

	partsJSON, err := marshalParts(rec.Parts)
	if err != nil {
		return fmt.Errorf("marshal parts: %w", err)
	}

	// The token is the decimal form of the assigned id, so it can only be
	// written once the sequence has handed out the id. Keep both writes in
	// one transaction so no reader ever sees an empty token.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	insert := fmt.Sprintf(`
		INSERT INTO %s (mms_id, direction, status, read_status,
		                local_uid, remote_uid, to_addrs, cc_addrs, bcc_addrs,
		                subject, free_text, parts, group_id,
		                subscriber_id, expiry, push_data,
		                is_read, report_requested, start_time, end_time,
		                created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING id
	`, s.opts.records)

	var id int64
	err = tx.QueryRowContext(ctx, insert,
		rec.MMSID, rec.Direction, rec.Status, rec.ReadStatus,
		rec.LocalUID, rec.RemoteUID, textArray(rec.To), textArray(rec.Cc), textArray(rec.Bcc),
		rec.Subject, rec.FreeText, partsJSON, rec.GroupID,
		rec.SubscriberID, nullTime(rec.Expiry), rec.PushData,
		rec.IsRead, rec.ReportRequested, nullTime(rec.StartTime), nullTime(rec.EndTime),
		now, now,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	token := strconv.FormatInt(id, 10)
	setToken := fmt.Sprintf(`UPDATE %s SET token = $1 WHERE id = $2`, s.opts.records)
	if _, err := tx.ExecContext(ctx, setToken, token, id); err != nil {
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

	partsJSON, err := marshalParts(rec.Parts)
	if err != nil {
		return fmt.Errorf("marshal parts: %w", err)
	}

	// token and group_id keep their stored values; the token is immutable
	// and group changes go through MoveGroup.
	query := fmt.Sprintf(`
		UPDATE %s SET
			mms_id = $1, direction = $2, status = $3, read_status = $4,
			local_uid = $5, remote_uid = $6, to_addrs = $7, cc_addrs = $8, bcc_addrs = $9,
			subject = $10, free_text = $11, parts = $12,
			subscriber_id = $13, expiry = $14, push_data = $15,
			is_read = $16, report_requested = $17, start_time = $18, end_time = $19,
			updated_at = $20
		WHERE id = $21
		RETURNING group_id, created_at
	`, s.opts.records)

	now := time.Now().UTC()
	var groupID int64
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx, query,
		rec.MMSID, rec.Direction, rec.Status, rec.ReadStatus,
		rec.LocalUID, rec.RemoteUID, textArray(rec.To), textArray(rec.Cc), textArray(rec.Bcc),
		rec.Subject, rec.FreeText, partsJSON,
		rec.SubscriberID, nullTime(rec.Expiry), rec.PushData,
		rec.IsRead, rec.ReportRequested, nullTime(rec.StartTime), nullTime(rec.EndTime),
		now, rec.ID,
	).Scan(&groupID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("update record: %w", err)
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

	query := fmt.Sprintf(`
		UPDATE %s SET read_status = $1, updated_at = $2
		WHERE id = $3
	`, s.opts.records)

	result, err := s.db.ExecContext(ctx, query, rs, time.Now().UTC(), id)
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

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.opts.records)
	result, err := s.db.ExecContext(ctx, query, id)
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

	// Insert-or-fetch in two steps; the unique constraint arbitrates races.
	insert := fmt.Sprintf(`
		INSERT INTO %s (local_uid, remote_uid, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (local_uid, remote_uid) DO NOTHING
		RETURNING id
	`, s.opts.groups)

	var id int64
	err := s.db.QueryRowContext(ctx, insert, localUID, remoteUID, time.Now().UTC()).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("insert group: %w", err)
	}

	// Conflict occurred - fetch existing
	selectQuery := fmt.Sprintf(`
		SELECT id FROM %s WHERE local_uid = $1 AND remote_uid = $2
	`, s.opts.groups)
	if err := s.db.QueryRowContext(ctx, selectQuery, localUID, remoteUID).Scan(&id); err != nil {
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

	query := fmt.Sprintf(`
		UPDATE %s SET group_id = $1, updated_at = $2
		WHERE id = $3
	`, s.opts.records)

	result, err := s.db.ExecContext(ctx, query, newGroupID, time.Now().UTC(), rec.ID)
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
