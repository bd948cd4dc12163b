package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nemomobile/mms/store"
)

// inProgressStatuses are excluded from purges; everything else is settled.
var inProgressStatuses = []string{
	string(store.StatusWaiting),
	string(store.StatusDownloading),
	string(store.StatusSending),
}

func (s *Store) CountByStatus(ctx context.Context) (map[store.Status]int64, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT status, COUNT(*) FROM %s GROUP BY status
	`, s.opts.records)

	rows, err := s.db.QueryContext(ctx, query)
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

	// DELETE RETURNING hands back the purged rows so the caller can remove
	// their part files from disk.
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE NOT (status = ANY($1)) AND updated_at < $2
		RETURNING %s
	`, s.opts.records, recordColumns)

	rows, err := s.db.QueryContext(ctx, query, pq.Array(inProgressStatuses), cutoff)
	if err != nil {
		return nil, fmt.Errorf("purge records: %w", err)
	}
	defer rows.Close()

	var purged []*store.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purged record: %w", err)
		}
		purged = append(purged, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purged records: %w", err)
	}

	return purged, nil
}
