package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nemomobile/mms/store"
)

func (s *Store) Get(ctx context.Context, id int64) (*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if id <= 0 {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1
	`, recordColumns, s.opts.records)

	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}

	return rec, nil
}

func (s *Store) GetByTokens(ctx context.Context, token, mmsID string) (*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	if token == "" && mmsID == "" {
		return nil, store.ErrNoToken
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var query string
	var arg string
	if token != "" {
		query = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE token = $1
		`, recordColumns, s.opts.records)
		arg = token
	} else {
		// Several records can share a carrier message id; the most recently
		// created one wins.
		query = fmt.Sprintf(`
			SELECT %s
			FROM %s
			WHERE mms_id = $1
			ORDER BY id DESC
			LIMIT 1
		`, recordColumns, s.opts.records)
		arg = mmsID
	}

	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get record by token: %w", err)
	}

	return rec, nil
}

func (s *Store) List(ctx context.Context, opts store.ListOptions) ([]*store.Record, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	where := "1=1"
	var args []any
	argIdx := 1

	if opts.Direction != "" {
		where += fmt.Sprintf(" AND direction = $%d", argIdx)
		args = append(args, opts.Direction)
		argIdx++
	}
	if opts.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, opts.Status)
		argIdx++
	}
	if opts.GroupID > 0 {
		where += fmt.Sprintf(" AND group_id = $%d", argIdx)
		args = append(args, opts.GroupID)
		argIdx++
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY id DESC
	`, recordColumns, s.opts.records, where)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
		argIdx++
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var recs []*store.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return recs, nil
}
