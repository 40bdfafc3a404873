package iex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"iexcloud/pkg/batch"
	"iexcloud/pkg/core"
	"iexcloud/pkg/endpoint"
	"iexcloud/pkg/normalize"
)

// Stock groups the per-symbol endpoints for one or more symbols.
type Stock struct {
	client  *Client
	symbols []string
}

// Stock returns a handle for symbols. Several symbols are served by batch calls.
func (c *Client) Stock(symbols ...string) *Stock {
	return &Stock{client: c, symbols: symbols}
}

// Symbols returns the symbols as given.
func (s *Stock) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

func (s *Stock) fetch(ctx context.Context, id string, params core.Params, opts []Option) (*Response, error) {
	return s.client.forSymbols(ctx, id, s.symbols, params, opts)
}

func (s *Stock) Quote(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.Quote, nil, opts)
}

// Chart returns OHLCV bars for rng (e.g. "1m", "5d", "1y"); empty means the default range.
func (s *Stock) Chart(ctx context.Context, rng string, opts ...Option) (*Response, error) {
	params := core.Params{}
	if rng != "" {
		params["range"] = rng
	}
	return s.fetch(ctx, endpoint.Chart, params, opts)
}

// TimeSeries returns the default chart range; it is the chart endpoint
// under its older name.
func (s *Stock) TimeSeries(ctx context.Context, opts ...Option) (*Response, error) {
	return s.Chart(ctx, "", opts...)
}

func (s *Stock) Company(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.Company, nil, opts)
}

func (s *Stock) KeyStats(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.KeyStats, nil, opts)
}

// News returns the last n articles, 1 to 50. Zero uses the default of 10.
func (s *Stock) News(ctx context.Context, last int, opts ...Option) (*Response, error) {
	params := core.Params{}
	if last != 0 {
		params["last"] = last
	}
	return s.fetch(ctx, endpoint.News, params, opts)
}

func (s *Stock) Book(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.Book, nil, opts)
}

func (s *Stock) Previous(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.Previous, nil, opts)
}

func (s *Stock) OHLC(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.OHLC, nil, opts)
}

// OpenClose returns the official open and close; it is served by ohlc.
func (s *Stock) OpenClose(ctx context.Context, opts ...Option) (*Response, error) {
	return s.OHLC(ctx, opts...)
}

// SocialSentiment returns sentiment for date, or for today when date is zero.
// period is "daily", the default, or "minute".
func (s *Stock) SocialSentiment(ctx context.Context, period string, date time.Time, opts ...Option) (*Response, error) {
	id := endpoint.SocialSentiment
	switch strings.ToLower(period) {
	case "", "daily":
	case "minute":
		id = endpoint.SentimentMinute
	default:
		return nil, core.NewValidationError(endpoint.SocialSentiment, "type", "must be one of daily, minute")
	}
	params := core.Params{}
	if !date.IsZero() {
		params["date"] = date
	}
	return s.fetch(ctx, id, params, opts)
}

// Dividends returns dividend events over rng ("1m" through "5y", or "next").
func (s *Stock) Dividends(ctx context.Context, rng string, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.Dividends, rangeParam(rng), opts)
}

// Splits returns split events over rng.
func (s *Stock) Splits(ctx context.Context, rng string, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.Splits, rangeParam(rng), opts)
}

func (s *Stock) Earnings(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.Earnings, nil, opts)
}

func (s *Stock) Financials(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.Financials, nil, opts)
}

func (s *Stock) Peers(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.Peers, nil, opts)
}

func (s *Stock) Relevant(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.Relevant, nil, opts)
}

func (s *Stock) Price(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.Price, nil, opts)
}

func (s *Stock) Logo(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.Logo, nil, opts)
}

func (s *Stock) LargestTrades(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.LargestTrades, nil, opts)
}

func (s *Stock) VolumeByVenue(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.VolumeByVenue, nil, opts)
}

func (s *Stock) DelayedQuote(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.DelayedQuote, nil, opts)
}

func (s *Stock) EffectiveSpread(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.EffectiveSpread, nil, opts)
}

// Options returns the option expiration dates (YYYYMM).
func (s *Stock) Options(ctx context.Context, opts ...Option) (*Response, error) {
	return s.fetch(ctx, endpoint.OptionDates, nil, opts)
}

// OptionChain returns the contracts expiring in expiration (YYYYMM). side is
// "call", "put" or empty for both.
func (s *Stock) OptionChain(ctx context.Context, expiration, side string, opts ...Option) (*Response, error) {
	params := core.Params{"expiration": expiration}
	if side != "" {
		params["side"] = side
	}
	return s.fetch(ctx, endpoint.OptionChain, params, opts)
}

func rangeParam(rng string) core.Params {
	if rng == "" {
		return core.Params{}
	}
	return core.Params{"range": rng}
}

// Field fetches a single field of a stock endpoint through the filter
// parameter and returns its value per symbol. Symbols that failed are
// reported in the joined error; the values of the rest are still returned.
func (s *Stock) Field(ctx context.Context, id, field string, opts ...Option) (map[string]any, error) {
	opts = append(opts, WithParam("filter", field), WithFormat(core.FormatStructured))
	resp, err := s.fetch(ctx, id, nil, opts)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any)
	if resp.Single != nil {
		syms, _ := batch.Dedupe(id, s.symbols)
		out[syms[0]] = fieldOf(resp.Single.First(), field)
		return out, nil
	}

	var errs []error
	for _, sym := range resp.Batch.Symbols {
		res, ok := resp.Batch.Results[sym]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w", sym, resp.Batch.Errors[sym]))
			continue
		}
		out[sym] = fieldOf(res.First(), field)
	}
	return out, errors.Join(errs...)
}

func fieldOf(rec *normalize.Record, field string) any {
	if rec == nil {
		return nil
	}
	v, _ := rec.Get(field)
	return v
}

// Quote fields.

func (s *Stock) CompanyName(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.Quote, "companyName")
}

func (s *Stock) PrimaryExchange(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.Quote, "primaryExchange")
}

func (s *Stock) Sector(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.Company, "sector")
}

func (s *Stock) Open(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.Quote, "open")
}

func (s *Stock) Close(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.Quote, "close")
}

func (s *Stock) YearHigh(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.Quote, "week52High")
}

func (s *Stock) YearLow(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.Quote, "week52Low")
}

func (s *Stock) YTDChange(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.Quote, "ytdChange")
}

func (s *Stock) Volume(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.Quote, "latestVolume")
}

func (s *Stock) MarketCap(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.Quote, "marketCap")
}

// Key stats fields.

func (s *Stock) Beta(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.KeyStats, "beta")
}

func (s *Stock) ShortInterest(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.KeyStats, "shortInterest")
}

func (s *Stock) ShortRatio(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.KeyStats, "shortRatio")
}

func (s *Stock) LatestEPS(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.KeyStats, "latestEPS")
}

func (s *Stock) SharesOutstanding(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.KeyStats, "sharesOutstanding")
}

func (s *Stock) Float(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.KeyStats, "float")
}

func (s *Stock) EPSConsensus(ctx context.Context) (map[string]any, error) {
	return s.Field(ctx, endpoint.KeyStats, "consensusEPS")
}
