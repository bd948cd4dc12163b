package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/nemomobile/mms/store"
)

func (s *Store) CountByStatus(ctx context.Context) (map[store.Status]int64, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[store.Status]int64)
	for rows.Next() {
		var status store.Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	return counts, nil
}

func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	// Select and delete inside one transaction so exactly the returned rows
	// are the deleted rows.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	where := `status NOT IN (?, ?, ?) AND updated_at < ?`
	args := []any{
		store.StatusWaiting, store.StatusDownloading, store.StatusSending,
		cutoff,
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+recordColumns+` FROM records WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query purgeable records: %w", err)
	}

	var purged []*store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan purged record: %w", err)
		}
		purged = append(purged, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate purged records: %w", err)
	}
	rows.Close()

	if len(purged) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE `+where, args...); err != nil {
		return nil, fmt.Errorf("delete purged records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return purged, nil
}
