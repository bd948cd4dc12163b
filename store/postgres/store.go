// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	"github.com/nemomobile/mms/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "records", s.opts.records, "groups", s.opts.groups)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	createGroups := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			local_uid VARCHAR(255) NOT NULL,
			remote_uid VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (local_uid, remote_uid)
		)
	`, s.opts.groups)

	if _, err := s.db.ExecContext(ctx, createGroups); err != nil {
		return fmt.Errorf("create groups table: %w", err)
	}

	createRecords := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			token VARCHAR(32) NOT NULL DEFAULT '',
			mms_id VARCHAR(255) NOT NULL DEFAULT '',
			direction VARCHAR(16) NOT NULL,
			status VARCHAR(32) NOT NULL,
			read_status VARCHAR(16) NOT NULL DEFAULT 'unknown',
			local_uid VARCHAR(255) NOT NULL DEFAULT '',
			remote_uid VARCHAR(255) NOT NULL DEFAULT '',
			to_addrs TEXT[] NOT NULL DEFAULT '{}',
			cc_addrs TEXT[] NOT NULL DEFAULT '{}',
			bcc_addrs TEXT[] NOT NULL DEFAULT '{}',
			subject TEXT NOT NULL DEFAULT '',
			free_text TEXT NOT NULL DEFAULT '',
			parts JSONB NOT NULL DEFAULT '[]',
			group_id BIGINT NOT NULL DEFAULT 0,
			subscriber_id VARCHAR(64) NOT NULL DEFAULT '',
			expiry TIMESTAMPTZ,
			push_data BYTEA,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			report_requested BOOLEAN NOT NULL DEFAULT FALSE,
			start_time TIMESTAMPTZ,
			end_time TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.opts.records)

	if _, err := s.db.ExecContext(ctx, createRecords); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}

	// Create indexes
	indexes := []string{
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_token ON %s(token) WHERE token != ''`, s.opts.records, s.opts.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_mms_id ON %s(mms_id) WHERE mms_id != ''`, s.opts.records, s.opts.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status)`, s.opts.records, s.opts.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_direction ON %s(direction)`, s.opts.records, s.opts.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(updated_at)`, s.opts.records, s.opts.records),
		// Compound index for conversation listings
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_group ON %s(group_id, id DESC)`, s.opts.records, s.opts.records),
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
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
