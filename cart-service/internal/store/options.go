package store

import (
	"log/slog"
	"time"
)

const (
	DefaultValidationTimeout = 10 * time.Second
	DefaultPersistTimeout    = time.Second
)

type options struct {
	log               *slog.Logger
	validationTimeout time.Duration
	persistTimeout    time.Duration
	clamp             bool
}

func defaultOptions() options {
	return options{
		log:               slog.Default(),
		validationTimeout: DefaultValidationTimeout,
		persistTimeout:    DefaultPersistTimeout,
		clamp:             true,
	}
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithValidationTimeout bounds a single inventory query. Zero disables the
// bound and the query runs until the caller's context ends.
func WithValidationTimeout(d time.Duration) Option {
	return func(o *options) { o.validationTimeout = d }
}

// WithPersistTimeout bounds each snapshot write.
func WithPersistTimeout(d time.Duration) Option {
	return func(o *options) { o.persistTimeout = d }
}

// WithQuantityClamp controls whether AddItem and UpdateQuantity cap tracked
// items at the last known available quantity. Enabled by default.
func WithQuantityClamp(enabled bool) Option {
	return func(o *options) { o.clamp = enabled }
}
