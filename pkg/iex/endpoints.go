package iex

import (
	"context"
	"fmt"
	"strings"

	"iexcloud/pkg/batch"
	"iexcloud/pkg/core"
	"iexcloud/pkg/endpoint"
	"iexcloud/pkg/normalize"
)

// AllTypes are the endpoint types fetched by Stock.All, in request order.
var AllTypes = []string{
	endpoint.Chart, endpoint.Quote, endpoint.Book, endpoint.OHLC, endpoint.Previous,
	endpoint.Company, endpoint.KeyStats, endpoint.Peers, endpoint.Relevant, endpoint.News,
	endpoint.Financials, endpoint.Earnings, endpoint.Dividends, endpoint.Splits, endpoint.Logo,
	endpoint.DelayedQuote, endpoint.EffectiveSpread, endpoint.VolumeByVenue, endpoint.LargestTrades,
	endpoint.IntradayPrices,
}

// Endpoints fetches several endpoint types for every symbol, up to
// endpoint.MaxBatchTypes per call. The result maps each type to its records
// across symbols; every record carries a symbol column. Time-series types
// keep their timestamps.
func (s *Stock) Endpoints(ctx context.Context, types []string, opts ...Option) (map[string]*normalize.Result, error) {
	desc := endpoint.MustGet(endpoint.BatchEndpoints)
	twins, err := batchTwins(s.client.registry, types)
	if err != nil {
		return nil, err
	}
	syms, err := batch.Dedupe(desc.ID, s.symbols)
	if err != nil {
		return nil, err
	}
	o := ApplyOptions(s.client.config, opts...)

	parts := make(map[string][]*normalize.Result, len(twins))
	for _, group := range batch.Chunk(syms, desc.Ceiling()) {
		params := o.Params.Merge(core.Params{"types": strings.Join(types, ",")})
		params = desc.WithSymbols(params, group)

		resp, err := s.client.exec.Execute(ctx, desc, params, o.Policy)
		if err != nil {
			return nil, err
		}
		for _, twin := range twins {
			res, err := normalize.Normalize(twin.ID, resp.Body, twin.Result, o.Format)
			if err != nil {
				return nil, core.AttachCall(err, params, resp.Body)
			}
			typ := strings.TrimPrefix(twin.ID, endpoint.BatchPrefix)
			parts[typ] = append(parts[typ], res)
		}
	}

	out := make(map[string]*normalize.Result, len(twins))
	for _, twin := range twins {
		typ := strings.TrimPrefix(twin.ID, endpoint.BatchPrefix)
		if len(parts[typ]) == 1 {
			out[typ] = parts[typ][0]
			continue
		}
		out[typ] = normalize.Merge(twin.ID, twin.Result, o.Format, nil, parts[typ])
	}
	return out, nil
}

// All fetches every type in AllTypes, MaxBatchTypes types per call.
func (s *Stock) All(ctx context.Context, opts ...Option) (map[string]*normalize.Result, error) {
	out := make(map[string]*normalize.Result, len(AllTypes))
	for start := 0; start < len(AllTypes); start += endpoint.MaxBatchTypes {
		end := min(start+endpoint.MaxBatchTypes, len(AllTypes))
		res, err := s.Endpoints(ctx, AllTypes[start:end], opts...)
		if err != nil {
			return nil, err
		}
		for typ, r := range res {
			out[typ] = r
		}
	}
	return out, nil
}

func batchTwins(registry *endpoint.Registry, types []string) ([]*endpoint.Descriptor, error) {
	if len(types) == 0 {
		return nil, core.NewValidationError(endpoint.BatchEndpoints, "types", "at least one type is required").
			WithCode(core.ErrCodeMissingParam)
	}
	if len(types) > endpoint.MaxBatchTypes {
		return nil, core.NewValidationError(endpoint.BatchEndpoints, "types", fmt.Sprintf("at most %d types per call", endpoint.MaxBatchTypes))
	}
	seen := make(map[string]bool, len(types))
	twins := make([]*endpoint.Descriptor, 0, len(types))
	for _, typ := range types {
		if seen[typ] {
			return nil, core.NewValidationError(endpoint.BatchEndpoints, "types", "duplicate type "+typ)
		}
		seen[typ] = true
		twin, err := registry.Get(endpoint.BatchPrefix + typ)
		if err != nil {
			return nil, core.NewValidationError(endpoint.BatchEndpoints, "types", "unsupported type "+typ)
		}
		twins = append(twins, twin)
	}
	return twins, nil
}
