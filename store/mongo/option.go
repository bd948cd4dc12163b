package mongo

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultDatabase = "mms"
	DefaultRecords  = "records"
	DefaultGroups   = "groups"
	DefaultCounters = "counters"
	DefaultTimeout  = 10 * time.Second
)

// options holds MongoDB store configuration.
type options struct {
	database string
	records  string
	groups   string
	counters string
	timeout  time.Duration
	logger   *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		database: DefaultDatabase,
		records:  DefaultRecords,
		groups:   DefaultGroups,
		counters: DefaultCounters,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a MongoDB store.
type Option func(*options)

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithCollections sets the records and groups collection names.
func WithCollections(records, groups string) Option {
	return func(o *options) {
		if records != "" {
			o.records = records
		}
		if groups != "" {
			o.groups = groups
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
