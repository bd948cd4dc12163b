// Package sqlite provides a SQLite implementation of store.Store.
//
// Unlike the PostgreSQL and MongoDB stores, this store owns its database
// handle: it opens the file on Connect and closes it on Close. Pass
// ":memory:" for an in-memory database in tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nemomobile/mms/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using SQLite.
type Store struct {
	path      string
	db        *sql.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new SQLite store for the given database file path.
// Call Connect() to open the database and initialize the schema.
func New(path string, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		path:   path,
		opts:   o,
		logger: o.logger,
	}
}

// Connect opens the database file and initializes the schema.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.path == "" {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("sqlite: path is required")
	}

	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			atomic.StoreInt32(&s.connected, 0)
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		s.path, s.opts.busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// from evaporating between pooled connections.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("sqlite ping: %w", err)
	}

	s.db = db
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		s.db = nil
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to SQLite", "path", s.path)
	return nil
}

// Close closes the database file.
func (s *Store) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 1, 0) {
		return nil
	}
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close sqlite database: %w", err)
	}
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
	schema := `
	CREATE TABLE IF NOT EXISTS groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		local_uid TEXT NOT NULL,
		remote_uid TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (local_uid, remote_uid)
	);

	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL DEFAULT '',
		mms_id TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL,
		status TEXT NOT NULL,
		read_status TEXT NOT NULL DEFAULT 'unknown',
		local_uid TEXT NOT NULL DEFAULT '',
		remote_uid TEXT NOT NULL DEFAULT '',
		to_addrs TEXT NOT NULL DEFAULT '[]',
		cc_addrs TEXT NOT NULL DEFAULT '[]',
		bcc_addrs TEXT NOT NULL DEFAULT '[]',
		subject TEXT NOT NULL DEFAULT '',
		free_text TEXT NOT NULL DEFAULT '',
		parts TEXT NOT NULL DEFAULT '[]',
		group_id INTEGER NOT NULL DEFAULT 0,
		subscriber_id TEXT NOT NULL DEFAULT '',
		expiry DATETIME,
		push_data BLOB,
		is_read BOOLEAN NOT NULL DEFAULT 0,
		report_requested BOOLEAN NOT NULL DEFAULT 0,
		start_time DATETIME,
		end_time DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_token ON records(token) WHERE token != '';
	CREATE INDEX IF NOT EXISTS idx_records_mms_id ON records(mms_id);
	CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
	CREATE INDEX IF NOT EXISTS idx_records_updated ON records(updated_at);
	CREATE INDEX IF NOT EXISTS idx_records_group ON records(group_id, id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
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
