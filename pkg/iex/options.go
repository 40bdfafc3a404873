package iex

import (
	"github.com/rs/zerolog"

	"iexcloud/pkg/cache"
	"iexcloud/pkg/core"
)

// Option adjusts a single call.
type Option func(*Options)

// Options holds the per-call settings. Zero values defer to the client config.
type Options struct {
	Format    core.OutputFormat
	hasFormat bool
	Policy    cache.Policy
	hasPolicy bool
	FailFast  bool
	Params    core.Params
}

// WithFormat selects structured or tabular output for this call.
func WithFormat(format core.OutputFormat) Option {
	return func(o *Options) {
		o.Format = format
		o.hasFormat = true
	}
}

// WithCachePolicy overrides the cache policy for this call.
func WithCachePolicy(policy cache.Policy) Option {
	return func(o *Options) {
		o.Policy = policy
		o.hasPolicy = true
	}
}

// WithFailFast aborts a multi-symbol call on the first failure.
func WithFailFast() Option {
	return func(o *Options) {
		o.FailFast = true
	}
}

// WithParam adds an endpoint parameter, e.g. WithParam("displayPercent", true).
func WithParam(name string, value any) Option {
	return func(o *Options) {
		if o.Params == nil {
			o.Params = make(core.Params)
		}
		o.Params[name] = value
	}
}

// WithParams adds several endpoint parameters.
func WithParams(params core.Params) Option {
	return func(o *Options) {
		o.Params = o.Params.Merge(params)
	}
}

// ApplyOptions resolves opts against the client defaults.
func ApplyOptions(config *core.Config, opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if !o.hasFormat {
		o.Format = config.OutputFormat
	}
	if !o.hasPolicy {
		o.Policy = cache.PolicyDefault
		if !config.CacheEnabled {
			o.Policy = cache.PolicyBypass
		}
	}
	return o
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger zerolog.Logger
	store  cache.Store
}

// WithLogger sets the client logger. Its level is capped by Config.LogLevel.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = logger }
}

// WithStore replaces the cache backend.
func WithStore(store cache.Store) ClientOption {
	return func(o *clientOptions) { o.store = store }
}
