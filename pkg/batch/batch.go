// Package batch runs one endpoint for many symbols.
//
// Multi-symbol endpoints are chunked at their ceiling and each response is
// split back into per-symbol results. Single-symbol endpoints fan out through
// a bounded worker pool. Results are always reported in caller order.
package batch

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"iexcloud/pkg/cache"
	"iexcloud/pkg/core"
	"iexcloud/pkg/endpoint"
	"iexcloud/pkg/normalize"
)

// DefaultConcurrency bounds the worker pool when none is configured.
const DefaultConcurrency = 4

// Executor performs one logical call.
type Executor interface {
	Execute(ctx context.Context, desc *endpoint.Descriptor, params core.Params, policy cache.Policy) (*core.Response, error)
}

// Options controls one batch.
type Options struct {
	Format core.OutputFormat
	Policy cache.Policy
	// FailFast cancels pending work and returns the first error.
	FailFast bool
}

// Result holds the outcome of every requested symbol.
type Result struct {
	Endpoint string
	// Symbols is the deduplicated caller order.
	Symbols []string
	Results map[string]*normalize.Result
	Errors  map[string]error
	// Merged concatenates every successful result in caller order with a
	// symbol column. Its Table is set in tabular format.
	Merged *normalize.Result
	Table  *normalize.Table
}

// Get returns the result for symbol, if it succeeded.
func (r *Result) Get(symbol string) (*normalize.Result, bool) {
	res, ok := r.Results[strings.ToUpper(symbol)]
	return res, ok
}

// Err returns the error recorded for symbol.
func (r *Result) Err(symbol string) error {
	return r.Errors[strings.ToUpper(symbol)]
}

// OK reports whether every symbol succeeded.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// Failed returns the failed symbols in caller order.
func (r *Result) Failed() []string {
	var out []string
	for _, s := range r.Symbols {
		if _, failed := r.Errors[s]; failed {
			out = append(out, s)
		}
	}
	return out
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	exec        Executor
	concurrency int
	logger      zerolog.Logger
}

// NewCoordinator creates a coordinator running at most concurrency calls at once.
func NewCoordinator(exec Executor, concurrency int, logger zerolog.Logger) *Coordinator {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Coordinator{exec: exec, concurrency: concurrency, logger: logger}
}

// Dedupe upper-cases symbols and drops repeats, keeping first occurrence order.
func Dedupe(endpointID string, symbols []string) ([]string, error) {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if sym == "" {
			return nil, core.NewValidationError(endpointID, "symbols", "symbol must be non-empty").WithCode(core.ErrCodeInvalidSymbol)
		}
		if seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	if len(out) == 0 {
		return nil, core.NewValidationError(endpointID, "symbols", "at least one symbol is required").WithCode(core.ErrCodeMissingParam)
	}
	return out, nil
}

// Chunk splits symbols into groups of at most size.
func Chunk(symbols []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(symbols); start += size {
		end := min(start+size, len(symbols))
		out = append(out, symbols[start:end])
	}
	return out
}

// ExecuteBatch runs desc for every symbol. In collect mode the returned error
// is only set for problems with the batch itself; per-symbol failures are in
// Result.Errors.
func (c *Coordinator) ExecuteBatch(ctx context.Context, desc *endpoint.Descriptor, symbols []string, params core.Params, opts Options) (*Result, error) {
	syms, err := Dedupe(desc.ID, symbols)
	if err != nil {
		return nil, err
	}

	var groups [][]string
	if desc.MultiSymbol() {
		ceiling := desc.Ceiling()
		if len(syms) > ceiling && !desc.Splittable {
			e := core.NewError(desc.ID, core.ErrorTypeBatchSizeExceeded, 0,
				"too many symbols for one call").WithParams(core.Params{"symbols": syms, "max": ceiling})
			return nil, e
		}
		groups = Chunk(syms, ceiling)
	} else {
		groups = Chunk(syms, 1)
	}

	out := &Result{
		Endpoint: desc.ID,
		Symbols:  syms,
		Results:  make(map[string]*normalize.Result, len(syms)),
		Errors:   make(map[string]error),
	}
	var mu sync.Mutex
	record := func(symbol string, res *normalize.Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			out.Errors[symbol] = err
			return
		}
		out.Results[symbol] = res
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(c.concurrency)
	if opts.FailFast {
		p = p.WithCancelOnError().WithFirstError()
	}

	for _, group := range groups {
		p.Go(func(ctx context.Context) error {
			err := c.runGroup(ctx, desc, group, params, opts, record)
			if err != nil && opts.FailFast {
				return err
			}
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		c.logger.Debug().Err(err).Str("endpoint", desc.ID).Msg("batch aborted")
		return nil, err
	}

	out.Merged = c.merge(desc, out, opts.Format)
	out.Table = out.Merged.Table
	return out, nil
}

func (c *Coordinator) runGroup(ctx context.Context, desc *endpoint.Descriptor, group []string, params core.Params,
	opts Options, record func(string, *normalize.Result, error)) error {

	if err := ctx.Err(); err != nil {
		for _, s := range group {
			record(s, nil, core.NewError(desc.ID, core.ErrorTypeTimeout, 0, "batch cancelled").WithCause(err))
		}
		return err
	}

	resp, err := c.exec.Execute(ctx, desc, desc.WithSymbols(params, group), opts.Policy)
	if err != nil {
		for _, s := range group {
			record(s, nil, err)
		}
		return err
	}

	res, err := normalize.Normalize(desc.ID, resp.Body, desc.Result, opts.Format)
	if err != nil {
		err = core.AttachCall(err, desc.WithSymbols(params, group), resp.Body)
		for _, s := range group {
			record(s, nil, err)
		}
		return err
	}

	if !desc.MultiSymbol() {
		record(group[0], res, nil)
		return nil
	}

	var firstErr error
	for _, s := range group {
		part := res.Where(func(r *normalize.Record) bool {
			return strings.EqualFold(r.String(normalize.SymbolField), s)
		})
		if part.Empty() && desc.Empty == endpoint.EmptyNotFound {
			nf := core.NewNotFoundError(desc.ID, core.Params{"symbol": s})
			record(s, nil, nf)
			if firstErr == nil {
				firstErr = nf
			}
			continue
		}
		record(s, part, nil)
	}
	return firstErr
}

func (c *Coordinator) merge(desc *endpoint.Descriptor, out *Result, format core.OutputFormat) *normalize.Result {
	labels := make([]string, 0, len(out.Symbols))
	parts := make([]*normalize.Result, 0, len(out.Symbols))
	for _, s := range out.Symbols {
		res, ok := out.Results[s]
		if !ok {
			continue
		}
		labels = append(labels, s)
		parts = append(parts, res)
	}
	return normalize.Merge(desc.ID, desc.Result, format, labels, parts)
}
