package iex

import (
	"context"
	"time"

	"iexcloud/pkg/batch"
	"iexcloud/pkg/core"
	"iexcloud/pkg/endpoint"
	"iexcloud/pkg/normalize"
)

// chartRange picks the smallest chart range reaching back to start.
func chartRange(now, start time.Time) (string, error) {
	days := int(now.Sub(start).Hours() / 24)
	switch {
	case days < 0:
		return "", core.NewValidationError(endpoint.Chart, "start", "must not be in the future")
	case days < 6:
		return "5d", nil
	case days < 28:
		return "1m", nil
	case days < 84:
		return "3m", nil
	case days < 168:
		return "6m", nil
	case days < 365:
		return "1y", nil
	case days < 730:
		return "2y", nil
	case days < 1826:
		return "5y", nil
	case days < 5478:
		return "max", nil
	}
	return "", core.NewValidationError(endpoint.Chart, "start", "must be within the past 15 years")
}

// HistoricalPrices returns daily bars for symbols between start and end,
// inclusive. A zero start means one year ago. A zero end requests the single
// day of start. closeOnly keeps the date, close and volume columns.
func (c *Client) HistoricalPrices(ctx context.Context, symbols []string, start, end time.Time, closeOnly bool, opts ...Option) (*Response, error) {
	now := c.now()
	if start.IsZero() {
		start = now.AddDate(-1, 0, 0)
	}
	if !end.IsZero() && end.Before(start) {
		return nil, core.NewValidationError(endpoint.Chart, "end", "must not be before start")
	}
	rng, err := chartRange(now, start)
	if err != nil {
		return nil, err
	}

	params := core.Params{"range": rng}
	if closeOnly {
		params["chartCloseOnly"] = true
	}
	if end.IsZero() {
		params["chartByDay"] = true
		params["exactDate"] = start
	}

	syms, err := batch.Dedupe(endpoint.Chart, symbols)
	if err != nil {
		return nil, err
	}
	o := ApplyOptions(c.config, opts...)
	desc := endpoint.MustGet(endpoint.Chart)

	from := truncateDay(start)
	to := end
	if !to.IsZero() {
		to = truncateDay(end).Add(24*time.Hour - time.Nanosecond)
	}
	trim := func(res *normalize.Result) *normalize.Result {
		if !end.IsZero() {
			res = res.FilterRange(from, to)
		}
		if closeOnly {
			res = res.Project(desc.Result.TimeField, "close", "volume")
		}
		return res
	}

	if len(syms) == 1 {
		res, err := c.single(ctx, desc, desc.WithSymbols(o.Params.Merge(params), syms), o)
		if err != nil {
			return nil, err
		}
		return &Response{Single: trim(res)}, nil
	}

	// Fan out per symbol so every result stays a time series.
	res, err := c.batch.ExecuteBatch(ctx, desc, syms, o.Params.Merge(params), batch.Options{
		Format:   o.Format,
		Policy:   o.Policy,
		FailFast: o.FailFast,
	})
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(res.Results))
	parts := make([]*normalize.Result, 0, len(res.Results))
	for _, sym := range res.Symbols {
		part, ok := res.Results[sym]
		if !ok {
			continue
		}
		part = trim(part)
		res.Results[sym] = part
		labels = append(labels, sym)
		parts = append(parts, part)
	}
	res.Merged = normalize.Merge(desc.ID, desc.Result, o.Format, labels, parts)
	res.Table = res.Merged.Table
	return &Response{Batch: res}, nil
}

// Intraday returns minute bars for symbol on date, or for the latest session
// when date is zero.
func (c *Client) Intraday(ctx context.Context, symbol string, date time.Time, opts ...Option) (*Response, error) {
	params := core.Params{"symbol": symbol}
	if !date.IsZero() {
		params["exactDate"] = date
	}
	return c.get(ctx, endpoint.IntradayPrices, params, opts)
}

// truncateDay returns midnight UTC of t's calendar date; bar dates parse as UTC.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
