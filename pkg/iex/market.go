package iex

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"iexcloud/internal/ratelimit"
	"iexcloud/pkg/core"
	"iexcloud/pkg/endpoint"
	"iexcloud/pkg/normalize"
)

// MarketMovers returns one of the market lists: mostactive, gainers, losers,
// iexvolume, iexpercent or infocus.
func (c *Client) MarketMovers(ctx context.Context, list string, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.MarketList, core.Params{"list": list}, opts)
}

// Collection returns the quotes of a sector, tag or list collection.
func (c *Client) Collection(ctx context.Context, kind, name string, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.MarketCollection, core.Params{"collectionType": kind, "collectionName": name}, opts)
}

func (c *Client) SectorPerformance(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.SectorPerformance, nil, opts)
}

// IPOCalendar returns upcoming IPOs, or today's when period is "today-ipos".
func (c *Client) IPOCalendar(ctx context.Context, period string, opts ...Option) (*Response, error) {
	params := core.Params{}
	if period != "" {
		params["period"] = period
	}
	return c.get(ctx, endpoint.IPOCalendar, params, opts)
}

func (c *Client) MarketVolume(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.MarketVolume, nil, opts)
}

func (c *Client) EarningsToday(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.EarningsToday, nil, opts)
}

func (c *Client) MarketOHLC(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.MarketOHLC, nil, opts)
}

func (c *Client) MarketPrevious(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.MarketPrevious, nil, opts)
}

// MarketNews returns the last n market-wide articles, 1 to 50.
func (c *Client) MarketNews(ctx context.Context, last int, opts ...Option) (*Response, error) {
	params := core.Params{}
	if last != 0 {
		params["last"] = last
	}
	return c.get(ctx, endpoint.MarketNews, params, opts)
}

// Reference data.

func (c *Client) Symbols(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.RefSymbols, nil, opts)
}

func (c *Client) IEXSymbols(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.RefIEXSymbols, nil, opts)
}

func (c *Client) Sectors(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.RefSectors, nil, opts)
}

func (c *Client) Exchanges(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.RefExchanges, nil, opts)
}

// RegionSymbols returns the symbols listed in a two-letter region, e.g. "ca".
func (c *Client) RegionSymbols(ctx context.Context, region string, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.RefRegionSymbols, core.Params{"region": region}, opts)
}

// ExchangeSymbols returns the symbols listed on an international exchange.
func (c *Client) ExchangeSymbols(ctx context.Context, exchange string, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.RefExchangeSymbols, core.Params{"exchange": exchange}, opts)
}

// TradingDates returns the next or last count trade or holiday dates,
// counted from start, or from today when start is zero.
func (c *Client) TradingDates(ctx context.Context, kind, direction string, count int, start time.Time, opts ...Option) (*Response, error) {
	params := core.Params{}
	if kind != "" {
		params["type"] = kind
	}
	if direction != "" {
		params["direction"] = direction
	}
	if count != 0 {
		params["last"] = count
	}
	if !start.IsZero() {
		params["startDate"] = start
	}
	return c.get(ctx, endpoint.RefTradingDates, params, opts)
}

// Crypto.

func (c *Client) CryptoQuote(ctx context.Context, symbol string, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.CryptoQuote, core.Params{"symbol": symbol}, opts)
}

func (c *Client) CryptoBook(ctx context.Context, symbol string, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.CryptoBook, core.Params{"symbol": symbol}, opts)
}

func (c *Client) CryptoPrice(ctx context.Context, symbol string, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.CryptoPrice, core.Params{"symbol": symbol}, opts)
}

// IEX exchange data.

// TOPS returns top-of-book data for symbols, or for every symbol when none are given.
func (c *Client) TOPS(ctx context.Context, symbols ...string) (*Response, error) {
	return c.iexSymbols(ctx, endpoint.TOPS, symbols)
}

// Last returns the last sale for symbols, or for every symbol when none are given.
func (c *Client) Last(ctx context.Context, symbols ...string) (*Response, error) {
	return c.iexSymbols(ctx, endpoint.TOPSLast, symbols)
}

func (c *Client) iexSymbols(ctx context.Context, id string, symbols []string) (*Response, error) {
	if len(symbols) == 0 {
		return c.get(ctx, id, nil, nil)
	}
	return c.forSymbols(ctx, id, symbols, nil, nil)
}

// DEEP returns the depth of book for one symbol.
func (c *Client) DEEP(ctx context.Context, symbol string, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.DEEP, core.Params{"symbols": symbol}, opts)
}

// DEEPBook returns bids and asks for up to ten symbols.
func (c *Client) DEEPBook(ctx context.Context, symbols []string, opts ...Option) (*Response, error) {
	return c.forSymbols(ctx, endpoint.DEEPBook, symbols, nil, opts)
}

// IEX stats.

func (c *Client) StatsIntraday(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.StatsIntraday, nil, opts)
}

func (c *Client) StatsRecent(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.StatsRecent, nil, opts)
}

func (c *Client) StatsRecords(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.StatsRecords, nil, opts)
}

// StatsHistorical returns the monthly summary for the month of date, or the
// last twelve months when date is zero.
func (c *Client) StatsHistorical(ctx context.Context, date time.Time, opts ...Option) (*Response, error) {
	params := core.Params{}
	if !date.IsZero() {
		params["date"] = date
	}
	return c.get(ctx, endpoint.StatsHistorical, params, opts)
}

// StatsSummary returns the monthly summaries of every month from start to
// end, inclusive, in month order. A zero end means the current month; a zero
// start returns the last twelve months as StatsHistorical does.
func (c *Client) StatsSummary(ctx context.Context, start, end time.Time, opts ...Option) (*Response, error) {
	if start.IsZero() {
		return c.StatsHistorical(ctx, time.Time{}, opts...)
	}
	if end.IsZero() {
		end = c.now()
	}
	months := monthsBetween(start, end)
	if len(months) == 0 {
		return nil, core.NewValidationError(endpoint.StatsHistorical, "end", "must not be before start")
	}

	desc := endpoint.MustGet(endpoint.StatsHistorical)
	o := ApplyOptions(c.config, opts...)
	parts := make([]*normalize.Result, len(months))

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(c.config.BatchConcurrency)
	for i, month := range months {
		p.Go(func(ctx context.Context) error {
			res, err := c.single(ctx, desc, o.Params.Merge(core.Params{"date": month}), o)
			if err != nil {
				return err
			}
			parts[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return &Response{Single: normalize.Merge(desc.ID, desc.Result, o.Format, nil, parts)}, nil
}

// monthsBetween returns the first day of every month from start to end.
func monthsBetween(start, end time.Time) []time.Time {
	var out []time.Time
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		out = append(out, cur)
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}

func (c *Client) UpcomingEarnings(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.UpcomingEarnings, nil, opts)
}

// APIStatus reports the service status and its current server time.
func (c *Client) APIStatus(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.APIStatus, nil, opts)
}

// StatsDaily returns the last n daily summaries, 1 to 90.
func (c *Client) StatsDaily(ctx context.Context, last int, opts ...Option) (*Response, error) {
	params := core.Params{}
	if last != 0 {
		params["last"] = last
	}
	return c.get(ctx, endpoint.StatsDaily, params, opts)
}

// Data APIs.

// TimeSeries queries a time series dataset. Extra query parameters pass
// through unchecked.
func (c *Client) TimeSeries(ctx context.Context, id, key, subkey string, params core.Params, opts ...Option) (*Response, error) {
	p := params.Clone()
	p["id"] = id
	if key != "" {
		p["key"] = key
	}
	if subkey != "" {
		p["subkey"] = subkey
	}
	return c.get(ctx, endpoint.TimeSeries, p, opts)
}

// DataPoints lists the data points available for symbol.
func (c *Client) DataPoints(ctx context.Context, symbol string, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.DataPoints, core.Params{"symbol": symbol}, opts)
}

// DataPoint returns one data point value, e.g. DataPoint(ctx, "AAPL", "QUOTE-LATESTPRICE").
func (c *Client) DataPoint(ctx context.Context, symbol, key string, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.DataPoint, core.Params{"symbol": symbol, "key": key}, opts)
}

// Account.

func (c *Client) AccountMetadata(ctx context.Context, opts ...Option) (*Response, error) {
	return c.get(ctx, endpoint.AccountMetadata, nil, opts)
}

// AccountUsage returns message usage, or one usage type such as "messages" or "rules".
func (c *Client) AccountUsage(ctx context.Context, kind string, opts ...Option) (*Response, error) {
	params := core.Params{}
	if kind != "" {
		params["type"] = kind
	}
	return c.get(ctx, endpoint.AccountUsage, params, opts)
}

// AllowPayAsYouGo lets the account exceed its message quota at pay-as-you-go rates.
func (c *Client) AllowPayAsYouGo(ctx context.Context) error {
	_, err := c.get(ctx, endpoint.PayAsYouGo, core.Params{"allow": true}, nil)
	return err
}

// DisallowPayAsYouGo stops calls once the message quota is used up.
func (c *Client) DisallowPayAsYouGo(ctx context.Context) error {
	_, err := c.get(ctx, endpoint.PayAsYouGo, core.Params{"allow": false}, nil)
	return err
}

// RateLimitMetrics returns a snapshot of the client-side rate limiter.
func (c *Client) RateLimitMetrics() ratelimit.MetricsSnapshot {
	return c.exec.Limiter().Metrics()
}
