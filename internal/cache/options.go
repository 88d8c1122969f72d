package cache

import (
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a FileCache.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	disabled   bool
}

// WithLogger sets the logger used for cache diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics exports hit, miss and write counters on reg.
// If reg is nil, this option is ignored.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithDisabled turns the cache into a pass-through that always loads.
func WithDisabled(disabled bool) Option {
	return func(o *options) {
		o.disabled = disabled
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
