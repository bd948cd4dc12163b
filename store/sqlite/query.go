package sqlite

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

	query := `SELECT ` + recordColumns + ` FROM records WHERE id = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
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
		query = `SELECT ` + recordColumns + ` FROM records WHERE token = ?`
		arg = token
	} else {
		// Several records can share a carrier message id; the most recently
		// created one wins.
		query = `SELECT ` + recordColumns + ` FROM records WHERE mms_id = ? ORDER BY id DESC LIMIT 1`
		arg = mmsID
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, arg))
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

	if opts.Direction != "" {
		where += " AND direction = ?"
		args = append(args, opts.Direction)
	}
	if opts.Status != "" {
		where += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.GroupID > 0 {
		where += " AND group_id = ?"
		args = append(args, opts.GroupID)
	}

	query := `SELECT ` + recordColumns + ` FROM records WHERE ` + where + ` ORDER BY id DESC`

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	} else if opts.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET.
		query += " LIMIT -1 OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var recs []*store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
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
