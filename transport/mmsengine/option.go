package mmsengine

import (
	"log/slog"
	"time"
)

// DefaultCallTimeout bounds the handling of one incoming engine callback.
const DefaultCallTimeout = 30 * time.Second

type options struct {
	logger      *slog.Logger
	callTimeout time.Duration
}

// Option configures the Transport and the exported Handler.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		logger:      slog.Default(),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCallTimeout bounds how long one incoming engine callback may take
// before its context is cancelled.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}
