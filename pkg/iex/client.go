package iex

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"iexcloud/pkg/batch"
	"iexcloud/pkg/core"
	"iexcloud/pkg/endpoint"
	"iexcloud/pkg/executor"
	"iexcloud/pkg/normalize"
)

// Client is the entry point to the service. It is safe for concurrent use.
type Client struct {
	config   *core.Config
	exec     *executor.Executor
	batch    *batch.Coordinator
	registry *endpoint.Registry
	logger   zerolog.Logger
	now      func() time.Time
}

// New resolves configuration from overrides, the IEX_* environment and the
// optional config file, then creates a client.
func New(overrides core.Overrides, opts ...ClientOption) (*Client, error) {
	config, err := core.Resolve(overrides)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(config, opts...)
}

// NewWithConfig creates a client from an explicit configuration. The config
// is copied; later changes to it have no effect.
func NewWithConfig(config *core.Config, opts ...ClientOption) (*Client, error) {
	if config == nil {
		return nil, core.NewConfigurationError("config is required", nil)
	}
	config = config.Clone()

	o := &clientOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if config.LogLevel != "" {
		level, err := zerolog.ParseLevel(config.LogLevel)
		if err != nil {
			return nil, core.NewConfigurationError("invalid log level "+config.LogLevel, err)
		}
		if level > logger.GetLevel() {
			logger = logger.Level(level)
		}
	}

	execOpts := []executor.Option{executor.WithLogger(logger)}
	if o.store != nil {
		execOpts = append(execOpts, executor.WithStore(o.store))
	}
	exec, err := executor.New(config, execOpts...)
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Str("environment", string(config.Credentials.Environment)).
		Str("url", config.URL()).
		Str("format", string(config.OutputFormat)).
		Msg("iex client ready")

	return &Client{
		config:   config,
		exec:     exec,
		batch:    batch.NewCoordinator(exec, config.BatchConcurrency, logger),
		registry: endpoint.Default(),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Config returns a copy of the client configuration.
func (c *Client) Config() *core.Config {
	return c.config.Clone()
}

// Close releases the transport and the cache backend.
func (c *Client) Close() error {
	return c.exec.Close()
}

// ClearCache removes every cached payload.
func (c *Client) ClearCache(ctx context.Context) error {
	store := c.exec.Store()
	if store == nil {
		return nil
	}
	return store.Clear(ctx)
}

// Call runs any registered endpoint by id with explicit parameters.
func (c *Client) Call(ctx context.Context, id string, params core.Params, opts ...Option) (*normalize.Result, error) {
	desc, err := c.registry.Get(id)
	if err != nil {
		return nil, err
	}
	o := ApplyOptions(c.config, opts...)
	return c.single(ctx, desc, o.Params.Merge(params), o)
}

func (c *Client) single(ctx context.Context, desc *endpoint.Descriptor, params core.Params, o *Options) (*normalize.Result, error) {
	resp, err := c.exec.Execute(ctx, desc, params, o.Policy)
	if err != nil {
		return nil, err
	}
	res, err := normalize.Normalize(desc.ID, resp.Body, desc.Result, o.Format)
	if err != nil {
		return nil, core.AttachCall(err, params, resp.Body)
	}
	return res, nil
}

// get runs a symbol-less endpoint.
func (c *Client) get(ctx context.Context, id string, params core.Params, opts []Option) (*Response, error) {
	res, err := c.Call(ctx, id, params, opts...)
	if err != nil {
		return nil, err
	}
	return &Response{Single: res}, nil
}

// forSymbols runs id once per symbol set: directly for one symbol, through
// the batch coordinator for several.
func (c *Client) forSymbols(ctx context.Context, id string, symbols []string, params core.Params, opts []Option) (*Response, error) {
	desc, err := c.registry.Get(id)
	if err != nil {
		return nil, err
	}
	syms, err := batch.Dedupe(id, symbols)
	if err != nil {
		return nil, err
	}
	o := ApplyOptions(c.config, opts...)
	params = o.Params.Merge(params)

	if len(syms) == 1 && !desc.MultiSymbol() {
		res, err := c.single(ctx, desc, desc.WithSymbols(params, syms), o)
		if err != nil {
			return nil, err
		}
		return &Response{Single: res}, nil
	}

	if twin, err := c.registry.Get(endpoint.BatchPrefix + id); err == nil {
		desc = twin
	}
	res, err := c.batch.ExecuteBatch(ctx, desc, syms, params, batch.Options{
		Format:   o.Format,
		Policy:   o.Policy,
		FailFast: o.FailFast,
	})
	if err != nil {
		return nil, err
	}
	return &Response{Batch: res}, nil
}
